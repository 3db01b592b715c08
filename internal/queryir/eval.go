package queryir

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nocozen/nocozenbase/internal/doc"
)

// Match reports whether d satisfies p, following the document store's
// equality semantics: a field that holds a list matches a scalar value when
// any element equals it.
func Match(p Predicate, d doc.Document) bool {
	switch n := p.(type) {
	case *And:
		for _, c := range n.Predicates {
			if !Match(c, d) {
				return false
			}
		}
		return true
	case *Or:
		for _, c := range n.Predicates {
			if Match(c, d) {
				return true
			}
		}
		return false
	case *Eq:
		return matchEq(map[string]any(d), *n)
	case *ElemMatch:
		vals := lookup(map[string]any(d), strings.Split(n.Field, "."))
		for _, v := range vals {
			elems, ok := doc.AsList(v)
			if !ok {
				continue
			}
			for _, e := range elems {
				if m, ok := doc.AsMap(e); ok && matchAll(m, n.Match) {
					return true
				}
			}
		}
		return false
	case *IDIn:
		id := d.ID()
		for _, want := range n.IDs {
			if doc.Equal(id, want) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func matchAll(m map[string]any, eqs []Eq) bool {
	for _, e := range eqs {
		if !matchEq(m, e) {
			return false
		}
	}
	return true
}

func matchEq(m map[string]any, e Eq) bool {
	if leaves := e.Leaves(); len(leaves) > 1 || leaves[0].Field != e.Field {
		return matchAll(m, leaves)
	}
	vals := lookup(m, strings.Split(e.Field, "."))
	if len(vals) == 0 {
		return e.Value == nil
	}
	for _, v := range vals {
		if doc.Equal(v, e.Value) {
			return true
		}
		if l, ok := doc.AsList(v); ok {
			for _, el := range l {
				if doc.Equal(el, e.Value) {
					return true
				}
			}
		}
	}
	return false
}

// Leaves expands an equality on a non-empty object into one equality per
// leaf field, dotted under e.Field and in sorted key order. Any other
// equality is returned as is.
func (e Eq) Leaves() []Eq {
	obj, ok := doc.AsMap(e.Value)
	if !ok || len(obj) == 0 {
		return []Eq{e}
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []Eq
	for _, k := range keys {
		out = append(out, Eq{Field: e.Field + "." + k, Value: obj[k]}.Leaves()...)
	}
	return out
}

// lookup resolves a dotted path, descending into every element when a
// non-numeric segment meets a list.
func lookup(v any, segs []string) []any {
	if len(segs) == 0 {
		return []any{v}
	}
	seg := segs[0]
	if m, ok := doc.AsMap(v); ok {
		next, ok := m[seg]
		if !ok {
			return nil
		}
		return lookup(next, segs[1:])
	}
	if l, ok := doc.AsList(v); ok {
		if i, err := strconv.Atoi(seg); err == nil {
			if i < 0 || i >= len(l) {
				return nil
			}
			return lookup(l[i], segs[1:])
		}
		var out []any
		for _, e := range l {
			if _, ok := doc.AsMap(e); ok {
				out = append(out, lookup(e, segs)...)
			}
		}
		return out
	}
	return nil
}

// Apply executes u against d in place and reports whether d changed.
// Appends run before assignments.
func Apply(d doc.Document, u Update) (bool, error) {
	if err := ValidateUpdate(u); err != nil {
		return false, err
	}
	filters := make(map[string][]Eq, len(u.ArrayFilters))
	for _, af := range u.ArrayFilters {
		filters[af.Ident] = af.Match
	}

	changed := false
	for _, ap := range u.Append {
		c, err := appendItems(d, ap)
		if err != nil {
			return changed, err
		}
		changed = changed || c
	}
	for _, a := range u.Set {
		c, err := assign(map[string]any(d), strings.Split(a.Path, "."), a.Value, filters)
		if err != nil {
			return changed, fmt.Errorf("set %s: %w", a.Path, err)
		}
		changed = changed || c
	}
	return changed, nil
}

func appendItems(d doc.Document, ap Append) (bool, error) {
	segs := strings.Split(ap.Field, ".")
	parent := map[string]any(d)
	for _, seg := range segs[:len(segs)-1] {
		next, ok := parent[seg]
		if !ok || next == nil {
			m := doc.Document{}
			parent[seg] = m
			parent = m
			continue
		}
		m, ok := doc.AsMap(next)
		if !ok {
			return false, fmt.Errorf("append %s: %w", ap.Field, doc.ErrPathConflict)
		}
		parent = m
	}
	name := segs[len(segs)-1]
	var list []any
	if cur, ok := parent[name]; ok && cur != nil {
		l, ok := doc.AsList(cur)
		if !ok {
			return false, fmt.Errorf("append %s: %w: not a list", ap.Field, doc.ErrPathConflict)
		}
		list = append(list, l...)
	}
	changed := false
	for _, item := range ap.Items {
		if containsValue(list, item) {
			continue
		}
		list = append(list, item)
		changed = true
	}
	if changed || parent[name] == nil {
		parent[name] = list
	}
	return changed, nil
}

func containsValue(list []any, v any) bool {
	for _, e := range list {
		if doc.Equal(e, v) {
			return true
		}
	}
	return false
}

func assign(cur map[string]any, segs []string, value any, filters map[string][]Eq) (bool, error) {
	seg := segs[0]
	if len(segs) == 1 {
		old, existed := cur[seg]
		cur[seg] = value
		return !existed || !doc.Equal(old, value), nil
	}

	next := segs[1]
	if ident, ok := positionalIdent(next); ok {
		l, ok := doc.AsList(cur[seg])
		if !ok {
			return false, nil
		}
		changed := false
		for i, e := range l {
			m, ok := doc.AsMap(e)
			if !ok || !matchAll(m, filters[ident]) {
				continue
			}
			if len(segs) == 2 {
				if !doc.Equal(l[i], value) {
					l[i] = value
					changed = true
				}
				continue
			}
			c, err := assign(m, segs[2:], value, filters)
			if err != nil {
				return changed, err
			}
			changed = changed || c
		}
		return changed, nil
	}

	child, ok := cur[seg]
	if !ok || child == nil {
		m := doc.Document{}
		cur[seg] = m
		return assign(m, segs[1:], value, filters)
	}
	m, ok := doc.AsMap(child)
	if !ok {
		return false, fmt.Errorf("%w: %q", doc.ErrPathConflict, seg)
	}
	return assign(m, segs[1:], value, filters)
}
