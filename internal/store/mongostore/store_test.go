package mongostore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap/zaptest"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/queryir"
	"github.com/nocozen/nocozenbase/internal/rule"
	"github.com/nocozen/nocozenbase/internal/store"
)

const mongoImage = "mongo:7"

var (
	sharedURI     string
	sharedURIOnce sync.Once
	sharedURIErr  error
)

// mongoURI starts one mongo container for the package run.
func mongoURI(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}
	sharedURIOnce.Do(func() {
		sharedURI, sharedURIErr = startMongo()
	})
	if sharedURIErr != nil {
		t.Skipf("mongo container unavailable: %v", sharedURIErr)
	}
	return sharedURI
}

func startMongo() (string, error) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        mongoImage,
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start mongo container: %w", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "27017")
	if err != nil {
		return "", fmt.Errorf("failed to get container port: %w", err)
	}
	return fmt.Sprintf("mongodb://%s:%s", host, port.Port()), nil
}

func openStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, mongoURI(t), "nocozen_test_"+fmt.Sprint(time.Now().UnixNano()), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Database().Drop(context.Background())
		_ = s.Close(context.Background())
	})
	return s
}

func TestStoreCRUD(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id, err := s.InsertOne(ctx, "_mc_invoices", doc.Document{
		"_id": "inv-1", "orderId": "O1", "amount": 100,
		"items": []any{doc.Document{"sku": "A", "qty": 1, "uid": 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "inv-1", id)

	ids, err := s.InsertMany(ctx, "_mc_invoices", []doc.Document{
		{"_id": "inv-2", "orderId": "O2"},
		{"_id": "inv-3", "orderId": "O1"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"inv-2", "inv-3"}, ids)

	n, err := s.Count(ctx, "_mc_invoices", &queryir.Eq{Field: "orderId", Value: "O1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := s.FindOne(ctx, "_mc_invoices", queryir.ByID("inv-1"), store.WithProjection("items"))
	require.NoError(t, err)
	assert.Equal(t, "inv-1", got.ID())
	assert.NotContains(t, got, "orderId")
	items, ok := doc.AsList(got["items"])
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.True(t, doc.Equal(doc.Document{"sku": "A", "qty": 1, "uid": 1}, items[0]))

	_, err = s.FindOne(ctx, "_mc_invoices", queryir.ByID("missing"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.InsertOne(ctx, "_mc_invoices", doc.Document{"_id": "inv-1"})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	deleted, err := s.DeleteMany(ctx, "_mc_invoices", &queryir.IDIn{IDs: []any{"inv-2", "inv-3"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestStorePositionalUpdate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	_, err := s.InsertOne(ctx, "_mc_invoices", doc.Document{
		"_id":   "inv-1",
		"items": []any{doc.Document{"sku": "A", "qty": 1, "uid": 1}},
	})
	require.NoError(t, err)

	_, err = s.UpdateOne(ctx, "_mc_invoices", queryir.ByID("inv-1"), queryir.Update{
		Append: []queryir.Append{{Field: "items", Items: []any{doc.Document{"sku": "B", "qty": 5, "uid": 1001}}}},
	})
	require.NoError(t, err)

	res, err := s.UpdateMany(ctx, "_mc_invoices", &queryir.IDIn{IDs: []any{"inv-1"}}, queryir.Update{
		Set: []queryir.Assignment{
			{Path: "items.$[element0].qty", Value: 2},
			{Path: "updateAt", Value: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		},
		ArrayFilters: []queryir.ArrayFilter{{Ident: "element0", Match: []queryir.Eq{{Field: "sku", Value: "A"}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Matched)
	assert.Equal(t, int64(1), res.Modified)

	got, err := s.FindOne(ctx, "_mc_invoices", queryir.ByID("inv-1"))
	require.NoError(t, err)
	assert.True(t, doc.Equal([]any{
		doc.Document{"sku": "A", "qty": 2, "uid": 1},
		doc.Document{"sku": "B", "qty": 5, "uid": 1001},
	}, got["items"]))
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), got["updateAt"])
}

func TestStoreElemMatch(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	_, err := s.InsertMany(ctx, "_mc_invoices", []doc.Document{
		{"_id": "a", "items": []any{doc.Document{"sku": "A", "qty": 1}, doc.Document{"sku": "B", "qty": 2}}},
		{"_id": "b", "items": []any{doc.Document{"sku": "A", "qty": 2}}},
	})
	require.NoError(t, err)

	docs, err := s.Find(ctx, "_mc_invoices", &queryir.ElemMatch{
		Field: "items",
		Match: []queryir.Eq{{Field: "qty", Value: 2}, {Field: "sku", Value: "A"}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b", docs[0].ID())
}

func TestRuleSource(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	_, err := s.Database().Collection(DefaultModuleConfigCollection).InsertOne(ctx, bson.D{
		{Key: "formConfig", Value: bson.D{{Key: "collName", Value: "_mc_orders"}}},
		{Key: "dataSync", Value: bson.A{
			bson.D{
				{Key: "uid", Value: int64(42)},
				{Key: "name", Value: "orders to invoices"},
				{Key: "enable", Value: true},
				{Key: "triggerAction", Value: bson.A{"add"}},
				{Key: "triggerCondition", Value: bson.A{bson.D{
					{Key: "preFieldName", Value: "amount"},
					{Key: "preFieldType", Value: "FeNumber"},
					{Key: "operator", Value: "equalAny"},
					{Key: "valueType", Value: "custom"},
					{Key: "valueFieldValue", Value: bson.A{int32(1), int32(100)}},
				}}},
				{Key: "updateConfig", Value: bson.D{{Key: "collName", Value: "_mc_invoices"}}},
				{Key: "updateAction", Value: "add"},
			},
			bson.D{
				{Key: "name", Value: "broken"},
				{Key: "triggerAction", Value: bson.A{"upsert"}},
			},
		}},
	})
	require.NoError(t, err)

	src := NewRuleSource(s.Database(), "", zaptest.NewLogger(t))
	rules, err := src.SyncRules(ctx, "_mc_orders")
	require.NoError(t, err)
	require.Len(t, rules, 1, "malformed rules are left out")
	r := rules[0]
	assert.Equal(t, "42", r.ID())
	assert.Equal(t, "_mc_invoices", r.TargetCollection)
	assert.Equal(t, rule.ActionAdd, r.TargetAction)
	require.Len(t, r.TriggerConditions, 1)
	lit, ok := r.TriggerConditions[0].Value.(rule.Literal)
	require.True(t, ok)
	assert.IsType(t, []any{}, lit.Value)

	none, err := src.SyncRules(ctx, "_mc_unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}
