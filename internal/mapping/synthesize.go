package mapping

import (
	"fmt"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/rule"
)

// Synthesize builds the document described by mappings from source.
//
// A bound mapping whose source path is absent writes nil to its target. A
// single value bound to a fan-out target ("lines[].qty" from "qty") fills
// the first element. A literal mapping onto a fan-out target ("lines[].status") applies the
// constant to every element produced by the bound mappings; when no such
// element exists it writes nothing.
func Synthesize(mappings []rule.FieldMapping, source doc.Document) (doc.Document, error) {
	out := doc.Document{}
	var fanLiterals []rule.FieldMapping

	for _, m := range mappings {
		target, err := doc.ParsePath(m.Target)
		if err != nil {
			return nil, fmt.Errorf("mapping target: %w", err)
		}

		switch v := m.Value.(type) {
		case rule.Literal:
			if doc.IsNull(v.Value) {
				continue
			}
			if target.FanOut() {
				fanLiterals = append(fanLiterals, m)
				continue
			}
			if err := doc.Set(out, target, doc.CloneValue(v.Value)); err != nil {
				return nil, fmt.Errorf("map %s: %w", m.Target, err)
			}

		case rule.Bound:
			src, err := doc.ParsePath(v.Path)
			if err != nil {
				return nil, fmt.Errorf("mapping source: %w", err)
			}
			value, _ := doc.Get(source, src)
			value = doc.CloneValue(value)
			if err := setBound(out, target, value); err != nil {
				return nil, fmt.Errorf("map %s to %s: %w", v.Path, m.Target, err)
			}

		default:
			return nil, fmt.Errorf("map %s: unknown value %T", m.Target, m.Value)
		}
	}

	for _, m := range fanLiterals {
		target := doc.MustPath(m.Target)
		array, _ := target.ArrayField()
		existing, ok := doc.AsList(lookupDotted(out, array))
		if !ok || len(existing) == 0 {
			continue
		}
		values := make([]any, len(existing))
		for i := range values {
			values[i] = m.Value.(rule.Literal).Value
		}
		if err := doc.Set(out, target, values); err != nil {
			return nil, fmt.Errorf("map %s: %w", m.Target, err)
		}
	}
	return out, nil
}

// setBound writes a resolved source value. A fan-out target takes one value
// per element; a single value fills the first element. Nothing is written
// to a fan-out target when the source is absent.
func setBound(out doc.Document, target doc.Path, value any) error {
	if !target.FanOut() {
		return doc.Set(out, target, value)
	}
	if value == nil {
		return nil
	}
	if _, ok := doc.AsList(value); !ok {
		value = []any{value}
	}
	return doc.Set(out, target, value)
}

func lookupDotted(d doc.Document, dotted string) any {
	v, _ := doc.GetPath(d, dotted)
	return v
}
