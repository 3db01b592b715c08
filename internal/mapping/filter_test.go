package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/queryir"
	"github.com/nocozen/nocozenbase/internal/rule"
)

func cond(target string, v rule.Value) rule.Condition {
	return rule.Condition{Field: target, Operator: rule.OpEqual, Value: v}
}

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name  string
		comb  rule.Combinator
		conds []rule.Condition
		want  queryir.Predicate
	}{
		{
			name:  "single binding",
			comb:  rule.All,
			conds: []rule.Condition{cond("orderId", rule.Bound{Path: "orderId"})},
			want:  &queryir.And{Predicates: []queryir.Predicate{&queryir.Eq{Field: "orderId", Value: "O1"}}},
		},
		{
			name: "disjunction with literal",
			comb: rule.Any,
			conds: []rule.Condition{
				cond("orderId", rule.Bound{Path: "orderId"}),
				cond("kind", rule.Literal{Value: "invoice"}),
			},
			want: &queryir.Or{Predicates: []queryir.Predicate{
				&queryir.Eq{Field: "orderId", Value: "O1"},
				&queryir.Eq{Field: "kind", Value: "invoice"},
			}},
		},
		{
			name:  "dotted target",
			comb:  rule.All,
			conds: []rule.Condition{cond("ref.order", rule.Bound{Path: "orderId"})},
			want:  &queryir.And{Predicates: []queryir.Predicate{&queryir.Eq{Field: "ref.order", Value: "O1"}}},
		},
		{
			name:  "scalar list addressed by position",
			comb:  rule.All,
			conds: []rule.Condition{cond("tags", rule.Bound{Path: "tags"})},
			want: &queryir.And{Predicates: []queryir.Predicate{
				&queryir.Eq{Field: "tags.0", Value: "red"},
				&queryir.Eq{Field: "tags.1", Value: "blue"},
			}},
		},
		{
			name: "object list under all matches per element",
			comb: rule.All,
			conds: []rule.Condition{
				cond("lines[].sku", rule.Bound{Path: "items[].sku"}),
				cond("lines[].qty", rule.Bound{Path: "items[].qty"}),
			},
			want: &queryir.And{Predicates: []queryir.Predicate{
				&queryir.ElemMatch{Field: "lines", Match: []queryir.Eq{{Field: "qty", Value: 2}, {Field: "sku", Value: "A"}}},
				&queryir.ElemMatch{Field: "lines", Match: []queryir.Eq{{Field: "qty", Value: 5}, {Field: "sku", Value: "B"}}},
			}},
		},
		{
			name:  "object list under any keys by sub-field",
			comb:  rule.Any,
			conds: []rule.Condition{cond("lines[].sku", rule.Bound{Path: "items[].sku"})},
			want: &queryir.Or{Predicates: []queryir.Predicate{
				&queryir.Eq{Field: "lines.sku", Value: "A"},
				&queryir.Eq{Field: "lines.sku", Value: "B"},
			}},
		},
		{
			name: "absent source contributes nothing",
			comb: rule.All,
			conds: []rule.Condition{
				cond("note", rule.Bound{Path: "remark"}),
				cond("orderId", rule.Bound{Path: "orderId"}),
			},
			want: &queryir.And{Predicates: []queryir.Predicate{&queryir.Eq{Field: "orderId", Value: "O1"}}},
		},
		{
			name:  "present null still binds null",
			comb:  rule.All,
			conds: []rule.Condition{cond("note", rule.Bound{Path: "cleared"})},
			want:  &queryir.And{Predicates: []queryir.Predicate{&queryir.Eq{Field: "note", Value: nil}}},
		},
		{
			name:  "scalar source into fan-out target",
			comb:  rule.All,
			conds: []rule.Condition{cond("lines[].sku", rule.Bound{Path: "orderId"})},
			want: &queryir.And{Predicates: []queryir.Predicate{
				&queryir.ElemMatch{Field: "lines", Match: []queryir.Eq{{Field: "sku", Value: "O1"}}},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := order()
			src["cleared"] = nil
			got, err := BuildFilter(tt.comb, tt.conds, src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, queryir.Validate(got))
		})
	}
}

func TestBuildFilterEmpty(t *testing.T) {
	tests := []struct {
		name  string
		conds []rule.Condition
	}{
		{"no conditions", nil},
		{"only literal null", []rule.Condition{cond("a", rule.Literal{Value: nil})}},
		{"operand-less condition", []rule.Condition{{Field: "a", Operator: rule.OpNull}}},
		{"only absent sources", []rule.Condition{
			cond("orderId", rule.Bound{Path: "remark"}),
			cond("lines[].sku", rule.Bound{Path: "missing[].sku"}),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildFilter(rule.All, tt.conds, order())
			assert.ErrorIs(t, err, ErrEmptyFilter)
		})
	}
}

func TestBuildFilterElementsDoNotConflate(t *testing.T) {
	f, err := BuildFilter(rule.All, []rule.Condition{
		cond("lines[].sku", rule.Bound{Path: "items[].sku"}),
		cond("lines[].qty", rule.Bound{Path: "items[].qty"}),
	}, order())
	require.NoError(t, err)

	exact := doc.Document{"lines": []any{
		doc.Document{"sku": "B", "qty": 5},
		doc.Document{"sku": "A", "qty": 2},
	}}
	swapped := doc.Document{"lines": []any{
		doc.Document{"sku": "A", "qty": 5},
		doc.Document{"sku": "B", "qty": 2},
	}}
	assert.True(t, queryir.Match(f, exact))
	assert.False(t, queryir.Match(f, swapped))
}

func TestBuildFilterAbsentSourceMatchesNoStrayDocuments(t *testing.T) {
	f, err := BuildFilter(rule.All, []rule.Condition{
		cond("orderId", rule.Bound{Path: "orderId"}),
		cond("note", rule.Bound{Path: "remark"}),
	}, order())
	require.NoError(t, err)

	assert.True(t, queryir.Match(f, doc.Document{"orderId": "O1"}))
	assert.False(t, queryir.Match(f, doc.Document{"note": "x"}))
	assert.False(t, queryir.Match(f, doc.Document{}))
}
