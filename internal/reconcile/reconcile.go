package reconcile

import (
	"fmt"
	"sort"
	"time"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/mapping"
	"github.com/nocozen/nocozenbase/internal/queryir"
)

// ElementIDField holds the identifier assigned to inserted array elements.
const ElementIDField = "uid"

// UpdatedAtField is set on every edited target document.
const UpdatedAtField = "updateAt"

// IDGenerator issues unique, monotonic element identifiers.
type IDGenerator interface {
	NextID() uint64
}

// Input describes one Edit execution.
type Input struct {
	// Patch is the document synthesized from the edit field map.
	Patch doc.Document
	// Layout is where the edit field map writes.
	Layout mapping.Layout
	// Relation is the document synthesized from the association mappings:
	// for each array field, one key object per source element, aligned by
	// index with the patch's elements.
	Relation doc.Document
	// Now is written to UpdatedAtField.
	Now time.Time
}

// Insert appends Items to the array Field of the target document ID.
type Insert struct {
	ID    any
	Field string
	Items []any
}

// Plan is the ordered write plan of one Edit execution.
type Plan struct {
	Inserts []Insert
	Update  queryir.Update

	// Unrelated lists array fields written by the patch that have no
	// association key. They are left out of the update.
	Unrelated []string
}

// Elements returns the key objects and patch items of one array field.
func (in Input) elements(field string) (keys, items []any) {
	keys, _ = doc.AsList(valueAt(in.Relation, field))
	items, _ = doc.AsList(valueAt(in.Patch, field))
	return keys, items
}

func valueAt(d doc.Document, dotted string) any {
	v, _ := doc.GetPath(d, dotted)
	return v
}

// Build plans the writes. Inserts are computed only when insert is true,
// against targets, the current persisted state of the documents matched by
// the rule's filter.
func Build(in Input, targets []doc.Document, insert bool, ids IDGenerator) (Plan, error) {
	var p Plan
	if insert {
		for _, t := range targets {
			for _, at := range in.Layout.Arrays {
				keys, items := in.elements(at.Field)
				if len(keys) == 0 {
					continue
				}
				missing := Missing(t, at.Field, keys, items, ids)
				if len(missing) > 0 {
					p.Inserts = append(p.Inserts, Insert{ID: t.ID(), Field: at.Field, Items: missing})
				}
			}
		}
	}

	u, unrelated, err := positionalUpdate(in)
	if err != nil {
		return Plan{}, err
	}
	p.Update = u
	p.Unrelated = unrelated
	return p, nil
}

// Missing returns the source elements of field whose association key does
// not occur in target's array, each merged with its key and stamped with a
// new identifier. keys and items are aligned by index. Elements that share a
// key are inserted once.
func Missing(target doc.Document, field string, keys, items []any, ids IDGenerator) []any {
	current, _ := doc.AsList(valueAt(target, field))

	var out []any
	added := make(map[string]bool)
	for i, k := range keys {
		key, ok := doc.AsMap(k)
		if !ok || len(key) == 0 {
			continue
		}
		fields := sortedKeys(key)
		ck := projectKey(key, fields)
		if added[ck] || present(current, fields, ck) {
			continue
		}
		added[ck] = true

		elem := doc.Document{}
		if i < len(items) {
			if m, ok := doc.AsMap(items[i]); ok {
				elem = doc.Document(m).Clone()
			}
		}
		for f, v := range key {
			if _, set := elem[f]; !set {
				elem[f] = doc.CloneValue(v)
			}
		}
		elem[ElementIDField] = ids.NextID()
		out = append(out, elem)
	}
	return out
}

// present reports whether an element of current, restricted to fields, has
// the canonical key ck.
func present(current []any, fields []string, ck string) bool {
	for _, e := range current {
		if m, ok := doc.AsMap(e); ok && projectKey(m, fields) == ck {
			return true
		}
	}
	return false
}

// projectKey is the canonical form of m restricted to fields. Missing fields
// project as null.
func projectKey(m map[string]any, fields []string) string {
	proj := make(map[string]any, len(fields))
	for _, f := range fields {
		proj[f] = m[f]
	}
	return doc.CanonicalKey(proj)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// positionalUpdate builds the $set plan: scalar fields directly, array
// sub-fields through one array filter per source element.
func positionalUpdate(in Input) (queryir.Update, []string, error) {
	var u queryir.Update
	for _, f := range in.Layout.Fields {
		v, ok := doc.GetPath(in.Patch, f)
		if !ok {
			continue
		}
		u.Set = append(u.Set, queryir.Assignment{Path: f, Value: v})
	}

	var unrelated []string
	n := 0
	for _, at := range in.Layout.Arrays {
		keys, items := in.elements(at.Field)
		if len(items) == 0 {
			continue
		}
		if len(keys) == 0 {
			unrelated = append(unrelated, at.Field)
			continue
		}
		for i, item := range items {
			m, ok := doc.AsMap(item)
			if !ok || i >= len(keys) {
				continue
			}
			key, ok := doc.AsMap(keys[i])
			if !ok || len(key) == 0 {
				continue
			}

			ident := fmt.Sprintf("element%d", n)
			var sets []queryir.Assignment
			for _, sub := range at.Subfields {
				v, ok := doc.GetPath(doc.Document(m), sub)
				if !ok {
					continue
				}
				sets = append(sets, queryir.Assignment{
					Path:  at.Field + "." + queryir.Positional(ident) + "." + sub,
					Value: v,
				})
			}
			if len(sets) == 0 {
				continue
			}
			match := make([]queryir.Eq, 0, len(key))
			for _, f := range sortedKeys(key) {
				match = append(match, queryir.Eq{Field: f, Value: key[f]})
			}
			u.Set = append(u.Set, sets...)
			u.ArrayFilters = append(u.ArrayFilters, queryir.ArrayFilter{Ident: ident, Match: match})
			n++
		}
	}

	u.Set = append(u.Set, queryir.Assignment{Path: UpdatedAtField, Value: in.Now})
	if err := queryir.ValidateUpdate(u); err != nil {
		return queryir.Update{}, nil, fmt.Errorf("plan update: %w", err)
	}
	return u, unrelated, nil
}
