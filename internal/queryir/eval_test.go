package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nocozen/nocozenbase/internal/doc"
)

func invoice() doc.Document {
	return doc.Document{
		"_id":     "inv-1",
		"orderId": "O1",
		"tags":    []any{"red", "blue"},
		"items": []any{
			map[string]any{"sku": "A", "qty": 1, "uid": 1},
			map[string]any{"sku": "B", "qty": 3, "uid": 2},
		},
		"customer": map[string]any{"tier": "gold"},
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name string
		p    Predicate
		want bool
	}{
		{"eq", &Eq{Field: "orderId", Value: "O1"}, true},
		{"eq miss", &Eq{Field: "orderId", Value: "O2"}, false},
		{"nested eq", &Eq{Field: "customer.tier", Value: "gold"}, true},
		{"list contains", &Eq{Field: "tags", Value: "blue"}, true},
		{"positional", &Eq{Field: "tags.1", Value: "blue"}, true},
		{"positional miss", &Eq{Field: "tags.0", Value: "blue"}, false},
		{"positional out of range", &Eq{Field: "tags.9", Value: "blue"}, false},
		{"through array", &Eq{Field: "items.sku", Value: "B"}, true},
		{"object eq by leaves", &Eq{Field: "customer", Value: doc.Document{"tier": "gold"}}, true},
		{"object eq leaf miss", &Eq{Field: "customer", Value: doc.Document{"tier": "silver"}}, false},
		{"null matches missing", &Eq{Field: "missing", Value: nil}, true},
		{"null on present", &Eq{Field: "orderId", Value: nil}, false},
		{"and", &And{Predicates: []Predicate{&Eq{Field: "orderId", Value: "O1"}, &Eq{Field: "tags", Value: "red"}}}, true},
		{"and miss", &And{Predicates: []Predicate{&Eq{Field: "orderId", Value: "O1"}, &Eq{Field: "tags", Value: "green"}}}, false},
		{"or", &Or{Predicates: []Predicate{&Eq{Field: "orderId", Value: "O9"}, &Eq{Field: "tags", Value: "red"}}}, true},
		{"elemMatch same element", &ElemMatch{Field: "items", Match: []Eq{{Field: "sku", Value: "A"}, {Field: "qty", Value: 1}}}, true},
		{"elemMatch across elements", &ElemMatch{Field: "items", Match: []Eq{{Field: "sku", Value: "A"}, {Field: "qty", Value: 3}}}, false},
		{"id in", &IDIn{IDs: []any{"x", "inv-1"}}, true},
		{"id not in", &IDIn{IDs: []any{"x"}}, false},
		{"by id", ByID("inv-1"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.p, invoice()))
		})
	}
}

func TestEqLeaves(t *testing.T) {
	e := Eq{Field: "status", Value: doc.Document{
		"name": "Approved",
		"_id":  "s1",
		"meta": doc.Document{"rank": 2},
		"none": doc.Document{},
	}}
	assert.Equal(t, []Eq{
		{Field: "status._id", Value: "s1"},
		{Field: "status.meta.rank", Value: 2},
		{Field: "status.name", Value: "Approved"},
		{Field: "status.none", Value: doc.Document{}},
	}, e.Leaves())

	scalar := Eq{Field: "orderId", Value: "O1"}
	assert.Equal(t, []Eq{scalar}, scalar.Leaves())
}

func TestObjectEqIgnoresStoredKeyOrder(t *testing.T) {
	stored := doc.Document{"status": map[string]any{"name": "Approved", "_id": "s1", "color": "green"}}
	p := &Eq{Field: "status", Value: doc.Document{"_id": "s1", "name": "Approved"}}
	assert.True(t, Match(p, stored))

	d := doc.Document{"items": []any{
		map[string]any{"product": map[string]any{"v": 1, "sku": "A"}, "qty": 1},
		map[string]any{"product": map[string]any{"v": 1, "sku": "B"}, "qty": 1},
	}}
	changed, err := Apply(d, Update{
		Set: []Assignment{{Path: "items.$[element0].qty", Value: 7}},
		ArrayFilters: []ArrayFilter{
			{Ident: "element0", Match: []Eq{{Field: "product", Value: doc.Document{"sku": "A"}}}},
		},
	})
	require.NoError(t, err)
	assert.True(t, changed)
	items, _ := doc.AsList(d["items"])
	first, _ := doc.AsMap(items[0])
	second, _ := doc.AsMap(items[1])
	assert.Equal(t, 7, first["qty"])
	assert.Equal(t, 1, second["qty"])
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(&And{Predicates: []Predicate{&Eq{Field: "a.b", Value: 1}}}))
	assert.ErrorIs(t, Validate(&And{}), ErrInvalid)
	assert.ErrorIs(t, Validate(&Or{}), ErrInvalid)
	assert.ErrorIs(t, Validate(&Eq{Field: ""}), ErrInvalid)
	assert.ErrorIs(t, Validate(&Eq{Field: "a..b"}), ErrInvalid)
	assert.ErrorIs(t, Validate(&Eq{Field: "items.$[e]"}), ErrInvalid)
	assert.ErrorIs(t, Validate(&ElemMatch{Field: "items"}), ErrInvalid)
	assert.ErrorIs(t, Validate(nil), ErrInvalid)
}

func TestValidateUpdate(t *testing.T) {
	ok := Update{
		Set:          []Assignment{{Path: "items.$[e0].qty", Value: 2}},
		ArrayFilters: []ArrayFilter{{Ident: "e0", Match: []Eq{{Field: "sku", Value: "A"}}}},
	}
	require.NoError(t, ValidateUpdate(ok))

	undeclared := Update{Set: []Assignment{{Path: "items.$[e1].qty", Value: 2}}}
	assert.ErrorIs(t, ValidateUpdate(undeclared), ErrInvalid)

	unused := Update{
		Set:          []Assignment{{Path: "total", Value: 2}},
		ArrayFilters: []ArrayFilter{{Ident: "e0", Match: []Eq{{Field: "sku", Value: "A"}}}},
	}
	assert.ErrorIs(t, ValidateUpdate(unused), ErrInvalid)

	empty := Update{
		Set:          []Assignment{{Path: "items.$[e0].qty", Value: 2}},
		ArrayFilters: []ArrayFilter{{Ident: "e0"}},
	}
	assert.ErrorIs(t, ValidateUpdate(empty), ErrInvalid)
}

func TestApplyPositionalUpdate(t *testing.T) {
	d := invoice()
	changed, err := Apply(d, Update{
		Set: []Assignment{
			{Path: "items.$[e0].qty", Value: 5},
			{Path: "customer.note", Value: "synced"},
		},
		ArrayFilters: []ArrayFilter{{Ident: "e0", Match: []Eq{{Field: "sku", Value: "B"}}}},
	})
	require.NoError(t, err)
	assert.True(t, changed)

	qty, _ := doc.Get(d, doc.MustPath("items[].qty"))
	assert.Equal(t, []any{1, 5}, qty)
	note, _ := doc.Get(d, doc.MustPath("customer.note"))
	assert.Equal(t, "synced", note)
}

func TestApplyIsIdempotent(t *testing.T) {
	d := invoice()
	u := Update{
		Set:          []Assignment{{Path: "items.$[e0].qty", Value: 1}},
		ArrayFilters: []ArrayFilter{{Ident: "e0", Match: []Eq{{Field: "sku", Value: "A"}}}},
	}
	changed, err := Apply(d, u)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestApplyAppendSkipsDuplicates(t *testing.T) {
	d := invoice()
	item := map[string]any{"sku": "C", "qty": 1, "uid": 3}
	u := Update{Append: []Append{{Field: "items", Items: []any{item}}}}

	changed, err := Apply(d, u)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = Apply(d, u)
	require.NoError(t, err)
	assert.False(t, changed)

	skus, _ := doc.Get(d, doc.MustPath("items[].sku"))
	assert.Equal(t, []any{"A", "B", "C"}, skus)
}

func TestApplyAppendCreatesArray(t *testing.T) {
	d := doc.Document{}
	_, err := Apply(d, Update{Append: []Append{{Field: "lines", Items: []any{"x"}}}})
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, d["lines"])
}

func TestStringForms(t *testing.T) {
	p := &And{Predicates: []Predicate{
		&Eq{Field: "orderId", Value: "O1"},
		&ElemMatch{Field: "items", Match: []Eq{{Field: "sku", Value: "A"}}},
	}}
	assert.Equal(t, "and(orderId = O1, items elemMatch {sku = A})", p.String())
}
