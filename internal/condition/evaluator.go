package condition

import (
	"go.uber.org/zap"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/rule"
)

// Evaluator decides trigger conditions and logs the ones that could not be
// decided.
type Evaluator struct {
	log *zap.Logger
}

// NewEvaluator creates an Evaluator. A nil logger discards output.
func NewEvaluator(log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{log: log}
}

// Evaluate compiles conds and tests them against d.
//
// The result is false whenever err is non-nil. Errors are soft: they describe
// a configuration or data problem and are also logged at warn level, never
// raised as panics.
func (e *Evaluator) Evaluate(comb rule.Combinator, conds []rule.Condition, d doc.Document) (bool, error) {
	p, err := Compile(comb, conds)
	if err != nil {
		e.log.Warn("trigger condition rejected", zap.Error(err))
		return false, err
	}
	ok, err := p.Eval(d)
	if err != nil {
		e.log.Warn("trigger condition undecidable",
			zap.String("predicate", p.String()),
			zap.Error(err))
		return false, err
	}
	return ok, nil
}

// Triggered evaluates the rule's trigger conditions against the record's
// subject document.
func (e *Evaluator) Triggered(r rule.SyncRule, rec rule.ChangeRecord) (bool, error) {
	ok, err := e.Evaluate(r.TriggerCombinator, r.TriggerConditions, rec.Subject())
	if err != nil {
		e.log.Debug("rule not triggered", zap.String("rule", r.ID()), zap.Error(err))
	}
	return ok, err
}
