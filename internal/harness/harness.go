package harness

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nocozen/nocozenbase/internal/capture"
	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/engine"
	"github.com/nocozen/nocozenbase/internal/jobs"
	"github.com/nocozen/nocozenbase/internal/rule"
	"github.com/nocozen/nocozenbase/internal/store"
	"github.com/nocozen/nocozenbase/internal/testutil"
)

// elementIDBase offsets reconciled element ids so scenario seeds can use
// small numbers without colliding.
const elementIDBase = 1000

// Harness runs scenarios against a fresh in-memory store through the same
// path production uses: capture, dispatch, engine.
type Harness struct {
	store    *store.Memory
	dispatch *testutil.RecordingDispatcher
	capture  *capture.Capturer
	engine   *engine.Engine
	clock    *testutil.FixedClock
	logger   *zap.Logger
	reports  []engine.Report
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger handed to the capturer and engine.
func WithLogger(l *zap.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario and returns the result. The error covers problems
// running the scenario; failed expectations are reported in the Result.
//
// Execution flow:
//  1. Convert the scenario's modules into rules
//  2. Seed a fresh in-memory store
//  3. Capture each change, then run the queued sync jobs
//  4. Check expect clauses and assertions, snapshot the final store
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		store:    store.NewMemory(),
		dispatch: testutil.NewRecordingDispatcher(),
		clock:    testutil.NewFixedClock(time.Time{}),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}

	var rules []rule.SyncRule
	for _, m := range scenario.Modules {
		rs, err := m.Rules()
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", m.Name, err)
		}
		rules = append(rules, rs...)
	}

	engOpts := []engine.Option{
		engine.WithLogger(h.logger),
		engine.WithClock(h.clock),
		engine.WithIDs(testutil.NewSeqIDs(elementIDBase)),
	}
	if scenario.BatchLimit > 0 {
		engOpts = append(engOpts, engine.WithBatchLimit(scenario.BatchLimit))
	}
	h.engine = engine.New(h.store, rule.NewStaticSource(rules...), engOpts...)
	h.capture = capture.New(h.store, h.dispatch,
		capture.WithLogger(h.logger),
		capture.WithClock(h.clock.Now),
		capture.WithRecordIDs(testutil.SeqStrings("rec")),
	)
	h.dispatch.OnJob(jobs.DataSyncJob, h.handle)

	colls := make([]string, 0, len(scenario.Seed))
	for coll := range scenario.Seed {
		colls = append(colls, coll)
	}
	sort.Strings(colls)
	for _, coll := range colls {
		for _, d := range scenario.Seed[coll] {
			h.store.Seed(coll, doc.Document(d))
		}
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Changes {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("change step %d: %w", i, err)
		}
		h.clock.Advance(time.Second)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, h.store) {
		result.AddError(msg)
	}
	for _, coll := range h.store.Collections() {
		docs := h.store.All(coll)
		out := make([]map[string]any, len(docs))
		for i, d := range docs {
			out[i] = d
		}
		result.State[coll] = out
	}
	return result, nil
}

// handle is the DataSync job handler. It keeps the report instead of
// reducing it to an error.
func (h *Harness) handle(ctx context.Context, payload []byte) error {
	p, err := capture.DecodePayload(payload)
	if err != nil {
		return fmt.Errorf("decode sync payload: %w", err)
	}
	report, err := h.engine.Process(ctx, p.Record)
	if err != nil {
		return err
	}
	h.reports = append(h.reports, report)
	return nil
}

func (h *Harness) executeStep(ctx context.Context, i int, step ChangeStep, result *Result) error {
	kind, err := rule.ParseTriggerKind(step.Trigger)
	if err != nil {
		return err
	}
	m := capture.Mutation{
		Collection: step.Collection,
		Kind:       kind,
		Actor:      rule.Actor{ID: step.Actor.ID, Name: step.Actor.Name},
		TenantID:   step.Tenant,
	}
	if step.Old != nil {
		m.OldDoc = doc.Document(step.Old)
	}
	if step.New != nil {
		m.NewDoc = doc.Document(step.New)
	}

	rec, err := h.capture.Capture(ctx, m)
	if err != nil {
		return err
	}

	h.reports = h.reports[:0]
	for _, err := range h.dispatch.RunAll(ctx) {
		if err != nil {
			return err
		}
	}
	if len(h.reports) != 1 {
		return fmt.Errorf("expected one sync job for record %s, ran %d", rec.ID, len(h.reports))
	}
	report := h.reports[0]

	trace := StepTrace{
		Step:       i,
		Collection: step.Collection,
		Trigger:    step.Trigger,
		RecordID:   rec.ID,
		Rules:      []RuleTrace{},
	}
	for _, res := range report.Results {
		rt := RuleTrace{
			Rule:     res.Rule.Name,
			State:    string(res.State),
			Affected: res.Affected,
			Reason:   res.Reason,
		}
		if res.Err != nil {
			rt.Error = res.Err.Error()
		}
		trace.Rules = append(trace.Rules, rt)
	}
	result.Trace = append(result.Trace, trace)

	if step.Expect != nil {
		for _, msg := range checkExpect(i, step.Expect, report) {
			result.AddError(msg)
		}
	}

	h.logger.Debug("change step completed",
		zap.Int("step", i),
		zap.String("record_id", rec.ID),
		zap.Int("applied", report.Count(engine.StateApplied)),
		zap.Int("skipped", report.Count(engine.StateSkipped)),
		zap.Int("failed", report.Count(engine.StateFailed)))
	return nil
}

func checkExpect(step int, e *ExpectClause, report engine.Report) []string {
	var errs []string
	check := func(name string, want *int, got int) {
		if want != nil && *want != got {
			errs = append(errs, fmt.Sprintf("changes[%d].expect.%s: want %d, got %d", step, name, *want, got))
		}
	}
	check("applied", e.Applied, report.Count(engine.StateApplied))
	check("skipped", e.Skipped, report.Count(engine.StateSkipped))
	check("failed", e.Failed, report.Count(engine.StateFailed))
	check("affected", e.Affected, report.Affected())
	return errs
}
