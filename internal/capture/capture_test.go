package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/jobs"
	"github.com/nocozen/nocozenbase/internal/rule"
	"github.com/nocozen/nocozenbase/internal/store"
	"github.com/nocozen/nocozenbase/internal/testutil"
)

type fixture struct {
	store    *store.Memory
	dispatch *testutil.RecordingDispatcher
	clock    *testutil.FixedClock
	capture  *Capturer
}

func newFixture(t *testing.T) fixture {
	f := fixture{
		store:    store.NewMemory(),
		dispatch: testutil.NewRecordingDispatcher(),
		clock:    testutil.NewFixedClock(time.Time{}),
	}
	f.capture = New(f.store, f.dispatch,
		WithLogger(zaptest.NewLogger(t)),
		WithClock(f.clock.Now),
		WithRecordIDs(testutil.SeqStrings("rec")),
	)
	return f
}

func editMutation() Mutation {
	return Mutation{
		Collection: "_mc_orders",
		Kind:       rule.TriggerEdit,
		Actor:      rule.Actor{ID: "u1", Name: "Ada"},
		TenantID:   "en-1",
		OldDoc:     doc.Document{"_id": "o1", "amount": 90},
		NewDoc:     doc.Document{"_id": "o1", "amount": 100},
	}
}

func TestCapture(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.capture.Capture(ctx, editMutation())
	require.NoError(t, err)

	assert.Equal(t, "rec-0001", rec.ID)
	assert.Equal(t, "o1", rec.EntityID)
	assert.Equal(t, testutil.DefaultTime, rec.OccurredAt)

	stored := f.store.All("_lg_orders")
	require.Len(t, stored, 1)
	assert.Equal(t, rule.LogTypeChange, stored[0]["logType"])
	assert.Equal(t, "rec-0001", stored[0]["_id"])

	enqueued := f.dispatch.Jobs()
	require.Len(t, enqueued, 1)
	assert.Equal(t, jobs.DataSyncJob, enqueued[0].Handle.Name)

	p, err := DecodePayload(enqueued[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "_mc_orders", p.CollName)
	assert.Equal(t, rec.ID, p.Record.ID)
	assert.Equal(t, rule.TriggerEdit, p.Record.TriggerKind)
	assert.Equal(t, rec.OccurredAt, p.Record.OccurredAt)
	assert.Equal(t, rec.Actor, p.Record.Actor)
	assert.True(t, doc.Equal(rec.NewDoc, p.Record.NewDoc))
}

func TestCaptureDoesNotAliasSnapshots(t *testing.T) {
	f := newFixture(t)
	m := editMutation()
	rec, err := f.capture.Capture(context.Background(), m)
	require.NoError(t, err)

	m.NewDoc["amount"] = 1
	assert.Equal(t, 100, rec.NewDoc["amount"])
}

func TestCaptureValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Mutation)
	}{
		{"no collection", func(m *Mutation) { m.Collection = "" }},
		{"unknown kind", func(m *Mutation) { m.Kind = "upsert" }},
		{"edit without new doc", func(m *Mutation) { m.NewDoc = nil }},
		{"delete without old doc", func(m *Mutation) { m.Kind = rule.TriggerDelete; m.OldDoc = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			m := editMutation()
			tt.mutate(&m)
			_, err := f.capture.Capture(context.Background(), m)
			assert.ErrorIs(t, err, ErrInvalidMutation)
			assert.Empty(t, f.dispatch.Jobs())
		})
	}
}

func TestCapturePersistFailure(t *testing.T) {
	f := newFixture(t)
	f.store.Fail("_lg_orders", errors.New("disk full"))

	_, err := f.capture.Capture(context.Background(), editMutation())
	assert.ErrorIs(t, err, ErrPersist)
	assert.Empty(t, f.dispatch.Jobs(), "nothing is dispatched without a stored record")
}

func TestCaptureDispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.dispatch.FailWith(jobs.ErrQueueClosed)

	rec, err := f.capture.Capture(context.Background(), editMutation())
	assert.ErrorIs(t, err, ErrDispatch)
	assert.ErrorIs(t, err, jobs.ErrQueueClosed)
	assert.Equal(t, "rec-0001", rec.ID, "the stored record is still returned")
	assert.Len(t, f.store.All("_lg_orders"), 1)
}

func TestReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.capture.Capture(ctx, editMutation())
	require.NoError(t, err)

	h, err := f.capture.Replay(ctx, "_mc_orders", rec.ID)
	require.NoError(t, err)
	assert.True(t, h.Duplicate)
	assert.Len(t, f.dispatch.Jobs(), 2, "the duplicate job is requeued")

	_, err = f.capture.Replay(ctx, "_mc_orders", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPayloadRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := rule.ChangeRecord{
		ID:               "r1",
		EntityID:         "o1",
		SourceCollection: "_mc_orders",
		TriggerKind:      rule.TriggerDelete,
		OldDoc:           doc.Document{"_id": "o1", "due": at, "lines": []any{doc.Document{"sku": "A"}}},
		Actor:            rule.Actor{ID: "u1", Name: "Ada"},
		TenantID:         "en-1",
		OccurredAt:       at,
	}
	data, err := EncodePayload(Payload{CollName: "_mc_orders", Record: rec})
	require.NoError(t, err)

	p, err := DecodePayload(data)
	require.NoError(t, err)
	assert.Equal(t, at, p.Record.OldDoc["due"])
	assert.Nil(t, p.Record.NewDoc)
	assert.Equal(t, rec.OccurredAt, p.Record.OccurredAt)
	assert.True(t, doc.Equal(rec.OldDoc, p.Record.OldDoc))

	_, err = DecodePayload([]byte(`{"collName":"x"}`))
	assert.Error(t, err)
	_, err = DecodePayload([]byte(`not json`))
	assert.Error(t, err)
}
