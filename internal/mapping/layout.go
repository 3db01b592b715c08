package mapping

import (
	"fmt"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/rule"
)

// Layout lists where a mapping list writes, in first-seen order.
type Layout struct {
	// Fields are the dotted targets without fan-out.
	Fields []string

	// Arrays are the array fields written through fan-out targets.
	Arrays []ArrayTarget
}

// ArrayTarget is an array field and the dotted sub-fields written into each
// of its elements.
type ArrayTarget struct {
	Field     string
	Subfields []string
}

// LayoutOf computes the layout of mappings.
func LayoutOf(mappings []rule.FieldMapping) (Layout, error) {
	var l Layout
	seenField := make(map[string]bool)
	arrays := make(map[string]int)

	for _, m := range mappings {
		p, err := doc.ParsePath(m.Target)
		if err != nil {
			return Layout{}, fmt.Errorf("mapping target: %w", err)
		}
		if !p.FanOut() {
			if f := p.Dotted(); !seenField[f] {
				seenField[f] = true
				l.Fields = append(l.Fields, f)
			}
			continue
		}
		array, rest := p.ArrayField()
		i, ok := arrays[array]
		if !ok {
			i = len(l.Arrays)
			arrays[array] = i
			l.Arrays = append(l.Arrays, ArrayTarget{Field: array})
		}
		if rest == "" {
			continue
		}
		at := &l.Arrays[i]
		dup := false
		for _, s := range at.Subfields {
			if s == rest {
				dup = true
				break
			}
		}
		if !dup {
			at.Subfields = append(at.Subfields, rest)
		}
	}
	return l, nil
}
