package mapping

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/queryir"
	"github.com/nocozen/nocozenbase/internal/rule"
)

// ErrEmptyFilter is returned when a filter condition list produces no
// fragments. An empty filter would select the whole target collection.
var ErrEmptyFilter = errors.New("filter has no conditions")

// BuildFilter derives the target-collection filter from conds and the source
// document. Each condition binds its target field to a value resolved from
// source; operators are ignored. A bound condition whose source path is
// absent contributes nothing, so it never matches documents lacking the
// field.
//
// Values are flattened into fragments per target root:
//   - a scalar or object becomes one equality on the root;
//   - a list of scalars becomes one equality per position ("key.0", "key.1");
//   - a list of objects becomes, under All, one element match per element
//     (all of its fields must hold on the same target element), and under
//     Any, one equality per (element, field) keyed by the dotted field.
func BuildFilter(comb rule.Combinator, conds []rule.Condition, source doc.Document) (queryir.Predicate, error) {
	mappings := make([]rule.FieldMapping, 0, len(conds))
	for _, c := range conds {
		if c.Value == nil {
			continue
		}
		if b, ok := c.Value.(rule.Bound); ok && !resolves(source, b.Path) {
			continue
		}
		mappings = append(mappings, rule.FieldMapping{Target: c.Field, FieldType: c.FieldType, Value: c.Value})
	}
	bound, err := Synthesize(mappings, source)
	if err != nil {
		return nil, fmt.Errorf("build filter: %w", err)
	}

	roots, err := targetRoots(mappings)
	if err != nil {
		return nil, fmt.Errorf("build filter: %w", err)
	}

	var frags []queryir.Predicate
	for _, root := range roots {
		v, ok := doc.GetPath(bound, root)
		if !ok {
			continue
		}
		frags = append(frags, fragments(comb, root, v)...)
	}
	if len(frags) == 0 {
		return nil, ErrEmptyFilter
	}

	if comb == rule.Any {
		return &queryir.Or{Predicates: frags}, nil
	}
	return &queryir.And{Predicates: frags}, nil
}

// resolves reports whether path addresses a value in source. A malformed
// path resolves so that Synthesize reports it.
func resolves(source doc.Document, path string) bool {
	p, err := doc.ParsePath(path)
	if err != nil {
		return true
	}
	_, ok := doc.Get(source, p)
	return ok
}

// targetRoots returns, in first-seen order, the dotted fields that receive a
// value: the array field for fan-out targets, the target itself otherwise.
func targetRoots(mappings []rule.FieldMapping) ([]string, error) {
	seen := make(map[string]bool, len(mappings))
	var roots []string
	for _, m := range mappings {
		p, err := doc.ParsePath(m.Target)
		if err != nil {
			return nil, err
		}
		root := p.Dotted()
		if p.FanOut() {
			root, _ = p.ArrayField()
		}
		if !seen[root] {
			seen[root] = true
			roots = append(roots, root)
		}
	}
	return roots, nil
}

func fragments(comb rule.Combinator, key string, v any) []queryir.Predicate {
	list, ok := doc.AsList(v)
	if !ok {
		return []queryir.Predicate{&queryir.Eq{Field: key, Value: v}}
	}

	var out []queryir.Predicate
	for i, item := range list {
		m, isObj := doc.AsMap(item)
		if !isObj {
			out = append(out, &queryir.Eq{Field: key + "." + strconv.Itoa(i), Value: item})
			continue
		}
		eqs := fieldEqs(m)
		if len(eqs) == 0 {
			continue
		}
		if comb == rule.Any {
			for _, e := range eqs {
				out = append(out, &queryir.Eq{Field: key + "." + e.Field, Value: e.Value})
			}
			continue
		}
		out = append(out, &queryir.ElemMatch{Field: key, Match: eqs})
	}
	return out
}

// fieldEqs flattens an element into equalities on its leaf fields, in
// sorted order.
func fieldEqs(m map[string]any) []queryir.Eq {
	var out []queryir.Eq
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if sub, ok := doc.AsMap(m[k]); ok && len(sub) > 0 {
				walk(prefix+k+".", sub)
				continue
			}
			out = append(out, queryir.Eq{Field: prefix + k, Value: m[k]})
		}
	}
	walk("", m)
	return out
}
