package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/queryir"
)

func seeded() *Memory {
	m := NewMemory()
	m.Seed("invoices",
		doc.Document{"_id": "i1", "orderId": "O1", "amount": 100, "lines": []any{
			doc.Document{"sku": "A", "qty": 1, "uid": 1},
		}},
		doc.Document{"_id": "i2", "orderId": "O2", "amount": 50},
		doc.Document{"orderId": "O3"},
	)
	return m
}

func TestMemoryFind(t *testing.T) {
	ctx := context.Background()
	m := seeded()

	all, err := m.Find(ctx, "invoices", nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "mem-000001", all[2].ID(), "generated id")

	got, err := m.Find(ctx, "invoices", &queryir.Eq{Field: "orderId", Value: "O2"}, WithProjection("amount"))
	require.NoError(t, err)
	assert.Equal(t, []doc.Document{{"_id": "i2", "amount": 50}}, got)

	limited, err := m.Find(ctx, "invoices", nil, WithLimit(2))
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, err = m.Find(ctx, "invoices", &queryir.Or{})
	assert.ErrorIs(t, err, queryir.ErrInvalid)
}

func TestMemoryFindReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := seeded()

	d, err := m.FindOne(ctx, "invoices", queryir.ByID("i1"))
	require.NoError(t, err)
	d["amount"] = 0

	again, err := m.FindOne(ctx, "invoices", queryir.ByID("i1"))
	require.NoError(t, err)
	assert.Equal(t, 100, again["amount"])

	_, err = m.FindOne(ctx, "invoices", queryir.ByID("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryInsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id, err := m.InsertOne(ctx, "c", doc.Document{"_id": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", id)

	_, err = m.InsertOne(ctx, "c", doc.Document{"_id": "x"})
	assert.ErrorIs(t, err, ErrDuplicateKey)

	ids, err := m.InsertMany(ctx, "c", []doc.Document{{"a": 1}, {"a": 2}})
	require.NoError(t, err)
	assert.Equal(t, []any{"mem-000001", "mem-000002"}, ids)

	n, err := m.Count(ctx, "c", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestMemoryUpdatePositional(t *testing.T) {
	ctx := context.Background()
	m := seeded()

	u := queryir.Update{
		Set: []queryir.Assignment{
			{Path: "lines." + queryir.Positional("element0") + ".qty", Value: 2},
			{Path: "updateAt", Value: "t1"},
		},
		ArrayFilters: []queryir.ArrayFilter{
			{Ident: "element0", Match: []queryir.Eq{{Field: "sku", Value: "A"}}},
		},
	}
	res, err := m.UpdateOne(ctx, "invoices", queryir.ByID("i1"), u)
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{Matched: 1, Modified: 1}, res)

	d, err := m.FindOne(ctx, "invoices", queryir.ByID("i1"))
	require.NoError(t, err)
	assert.Equal(t, []any{doc.Document{"sku": "A", "qty": 2, "uid": 1}}, d["lines"])

	// Re-applying changes nothing.
	res, err = m.UpdateOne(ctx, "invoices", queryir.ByID("i1"), u)
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{Matched: 1, Modified: 0}, res)
}

func TestMemoryUpdateMany(t *testing.T) {
	ctx := context.Background()
	m := seeded()

	res, err := m.UpdateMany(ctx, "invoices", nil, queryir.Update{
		Set: []queryir.Assignment{{Path: "status", Value: "closed"}},
	})
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{Matched: 3, Modified: 3}, res)

	n, err := m.Count(ctx, "invoices", &queryir.Eq{Field: "status", Value: "closed"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestMemoryDeleteMany(t *testing.T) {
	ctx := context.Background()
	m := seeded()

	n, err := m.DeleteMany(ctx, "invoices", &queryir.IDIn{IDs: []any{"i1", "i2"}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	rest := m.All("invoices")
	require.Len(t, rest, 1)
	assert.Equal(t, "O3", rest[0]["orderId"])
}

func TestMemoryFail(t *testing.T) {
	ctx := context.Background()
	m := seeded()
	boom := errors.New("connection reset")

	m.Fail("invoices", boom)
	_, err := m.Count(ctx, "invoices", nil)
	assert.ErrorIs(t, err, boom)
	_, err = m.InsertOne(ctx, "invoices", doc.Document{})
	assert.ErrorIs(t, err, boom)

	m.Fail("invoices", nil)
	_, err = m.Count(ctx, "invoices", nil)
	assert.NoError(t, err)
}
