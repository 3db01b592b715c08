package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nocozen/nocozenbase/internal/capture"
	"github.com/nocozen/nocozenbase/internal/jobs"
	"github.com/nocozen/nocozenbase/internal/rule"
	"github.com/nocozen/nocozenbase/internal/store"
	"github.com/nocozen/nocozenbase/internal/testutil"
)

type fixture struct {
	store    *store.Memory
	dispatch *testutil.RecordingDispatcher
	server   *Server
}

func newFixture(t *testing.T, health Pinger) fixture {
	f := fixture{store: store.NewMemory(), dispatch: testutil.NewRecordingDispatcher()}
	c := capture.New(f.store, f.dispatch,
		capture.WithClock(testutil.NewFixedClock(time.Time{}).Now),
		capture.WithRecordIDs(testutil.SeqStrings("rec")),
	)
	f.server = New(c, health, zaptest.NewLogger(t))
	return f
}

func (f fixture) post(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/changes", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

const addBody = `{
  "collName": "_mc_orders",
  "triggerType": "add",
  "actor": {"_id": "u1", "name": "Ada"},
  "tenantId": "t1",
  "newDoc": {"_id": "o-1", "orderId": "O1", "amount": 100}
}`

func TestCaptureChange(t *testing.T) {
	f := newFixture(t, nil)

	res := f.post(addBody)
	require.Equal(t, http.StatusAccepted, res.Code, res.Body.String())

	var got rule.ChangeRecord
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &got))
	assert.Equal(t, "rec-0001", got.ID)
	assert.Equal(t, "o-1", got.EntityID)
	assert.Equal(t, rule.TriggerAdd, got.TriggerKind)

	assert.Len(t, f.store.All("_lg_orders"), 1)
	jobsSeen := f.dispatch.Jobs()
	require.Len(t, jobsSeen, 1)
	assert.Equal(t, jobs.DataSyncJob, jobsSeen[0].Handle.Name)
}

func TestCaptureChangeBadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"collName":`},
		{"unknown trigger", `{"collName": "_mc_orders", "triggerType": "upsert", "newDoc": {}}`},
		{"delete without old document", `{"collName": "_mc_orders", "triggerType": "delete"}`},
		{"missing collection", `{"triggerType": "add", "newDoc": {"a": 1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			res := f.post(tt.body)
			assert.Equal(t, http.StatusBadRequest, res.Code)
			assert.Empty(t, f.dispatch.Jobs())
		})
	}
}

func TestCaptureChangePersistFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Fail("_lg_orders", errors.New("disk full"))

	res := f.post(addBody)
	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.Empty(t, f.dispatch.Jobs())
}

func TestCaptureChangeDispatchFailureStillAccepted(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatch.FailWith(jobs.ErrQueueClosed)

	res := f.post(addBody)
	assert.Equal(t, http.StatusAccepted, res.Code)
	assert.Len(t, f.store.All("_lg_orders"), 1)
}

type pingFunc func(context.Context) error

func (p pingFunc) Ping(ctx context.Context) error { return p(ctx) }

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name   string
		health Pinger
		want   int
	}{
		{"no dependency", nil, http.StatusOK},
		{"store up", pingFunc(func(context.Context) error { return nil }), http.StatusOK},
		{"store down", pingFunc(func(context.Context) error { return errors.New("refused") }), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.health)
			rec := httptest.NewRecorder()
			f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
