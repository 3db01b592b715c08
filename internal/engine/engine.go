package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nocozen/nocozenbase/internal/condition"
	"github.com/nocozen/nocozenbase/internal/reconcile"
	"github.com/nocozen/nocozenbase/internal/rule"
	"github.com/nocozen/nocozenbase/internal/store"
	"github.com/nocozen/nocozenbase/internal/uid"
)

// DefaultSyncLogCollection holds rule run logs unless overridden.
const DefaultSyncLogCollection = "_mc_621697328735241"

// Engine is the sync orchestrator.
//
// An Engine holds no per-record state; Process is safe to call from several
// job workers at once as long as the store and id generator are.
type Engine struct {
	store   store.Store
	rules   rule.Source
	eval    *condition.Evaluator
	guard   BatchGuard
	clock   Clock
	ids     reconcile.IDGenerator
	syncLog string
	log     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The engine logs under the name "engine".
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithBatchLimit sets the batch guard limit.
//
// Default: 100 (DefaultBatchLimit)
func WithBatchLimit(n int) Option {
	return func(e *Engine) { e.guard = NewBatchGuard(n) }
}

// WithClock overrides the time source for system fields and logs.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithIDs sets the generator for reconciled array element ids.
func WithIDs(ids reconcile.IDGenerator) Option {
	return func(e *Engine) {
		if ids != nil {
			e.ids = ids
		}
	}
}

// WithSyncLogCollection sets the collection receiving rule run logs.
func WithSyncLogCollection(coll string) Option {
	return func(e *Engine) {
		if coll != "" {
			e.syncLog = coll
		}
	}
}

// New creates an Engine reading rules from src and writing to s.
//
// Without WithIDs the engine uses a snowflake generator with worker id 1.
func New(s store.Store, src rule.Source, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		rules:   src,
		guard:   NewBatchGuard(DefaultBatchLimit),
		clock:   SystemClock{},
		syncLog: DefaultSyncLogCollection,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.Named("engine")
	e.eval = condition.NewEvaluator(e.log)
	if e.ids == nil {
		gen, err := uid.New(1)
		if err != nil {
			panic(fmt.Sprintf("engine: default id generator: %v", err))
		}
		e.ids = gen
	}
	return e
}

// Process runs every rule of the record's source collection. The returned
// error covers only the rule lookup; per-rule failures are in the Report.
func (e *Engine) Process(ctx context.Context, rec rule.ChangeRecord) (Report, error) {
	report := Report{RecordID: rec.ID, Collection: rec.SourceCollection}
	rules, err := e.rules.SyncRules(ctx, rec.SourceCollection)
	if err != nil {
		return report, fmt.Errorf("load sync rules for %s: %w", rec.SourceCollection, err)
	}

	log := e.log.With(
		zap.String("record_id", rec.ID),
		zap.String("collection", rec.SourceCollection),
		zap.String("trigger", string(rec.TriggerKind)),
	)
	log.Debug("change record received", zap.Int("rules", len(rules)))

	for _, r := range rules {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := e.runRule(ctx, r, rec, log)
		report.Results = append(report.Results, res)
	}
	return report, nil
}

// runRule evaluates and executes one rule. Nothing a rule does can stop the
// rules after it.
func (e *Engine) runRule(ctx context.Context, r rule.SyncRule, rec rule.ChangeRecord, log *zap.Logger) (res Result) {
	res = Result{Rule: r}
	log = log.With(zap.String("rule", r.Name), zap.Uint64("rule_uid", r.UID))

	defer func() {
		if p := recover(); p != nil {
			res.State = StateFailed
			res.Err = fmt.Errorf("rule %s panicked: %v", r.ID(), p)
			log.Error("rule panicked", zap.Any("panic", p))
		}
	}()

	switch {
	case !r.Enabled:
		return skip(res, "disabled")
	case !r.Triggers(rec.TriggerKind):
		return skip(res, "trigger kind not listened for")
	}
	ok, err := e.eval.Triggered(r, rec)
	if err != nil {
		log.Warn("trigger conditions rejected", zap.Error(err))
		return skip(res, "conditions undecidable")
	}
	if !ok {
		return skip(res, "conditions not met")
	}

	log.Debug("rule executing", zap.String("action", string(r.TargetAction)))
	x := &execution{engine: e, rule: r, rec: rec, now: e.clock.Now(), log: log}
	switch r.TargetAction {
	case rule.ActionAdd:
		res = x.add(ctx, res)
	case rule.ActionEdit:
		res = x.edit(ctx, res)
	case rule.ActionDelete:
		res = x.remove(ctx, res)
	default:
		res = fail(res, NewConfigError(r.ID(), r.TargetCollection,
			fmt.Sprintf("unknown target action %q", r.TargetAction), nil))
	}

	switch res.State {
	case StateFailed:
		if IsStoreError(res.Err) {
			log.Error("rule failed", zap.String("target", r.TargetCollection), zap.Error(res.Err))
		} else {
			log.Warn("rule failed", zap.String("target", r.TargetCollection), zap.Error(res.Err))
		}
	case StateSkipped:
		log.Info("rule skipped", zap.String("reason", res.Reason))
	default:
		log.Debug("rule applied", zap.Int("affected", res.Affected))
	}
	e.writeRunLog(ctx, x, res)
	return res
}

func skip(res Result, reason string) Result {
	res.State = StateSkipped
	res.Reason = reason
	return res
}

func fail(res Result, err error) Result {
	res.State = StateFailed
	res.Err = err
	res.Reason = err.Error()
	return res
}

func applied(res Result, affected int) Result {
	res.State = StateApplied
	res.Affected = affected
	return res
}

// writeRunLog records the outcome of a rule that reached Executing. A
// failure here is logged only.
func (e *Engine) writeRunLog(ctx context.Context, x *execution, res Result) {
	msg := "Data sync successful"
	if res.State != StateApplied {
		msg = res.Reason
	}
	entry := rule.RunLog{
		Rule:           x.rule,
		TriggerAt:      x.now,
		TriggerAccount: x.rec.Actor,
		ExecResult:     res.State == StateApplied,
		ResultMsg:      msg,
		Affected:       res.Affected,
		TenantID:       x.rec.TenantID,
		SourceRecordID: x.rec.ID,
	}
	if _, err := e.store.InsertOne(context.WithoutCancel(ctx), e.syncLog, entry.ToDocument()); err != nil {
		x.log.Error("write run log failed", zap.String("collection", e.syncLog), zap.Error(err))
	}
}
