package engine

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/nocozen/nocozenbase/internal/rule"
)

// State is the terminal state of one rule for one change record.
type State string

const (
	// StateSkipped means the rule did not run: disabled, not listening for
	// the trigger kind, conditions false or undecidable, or rejected by the
	// batch guard.
	StateSkipped State = "skipped"

	// StateApplied means every write of the rule's protocol succeeded.
	StateApplied State = "applied"

	// StateFailed means the rule stopped on a configuration or store error.
	StateFailed State = "failed"
)

// Result is the outcome of one rule.
type Result struct {
	Rule     rule.SyncRule
	State    State
	Affected int
	Reason   string
	Err      error
}

func (r Result) String() string {
	s := fmt.Sprintf("%s: %s", r.Rule.ID(), r.State)
	if r.Reason != "" {
		s += " (" + r.Reason + ")"
	}
	return s
}

// Report collects the results of one change record, in rule configuration
// order.
type Report struct {
	RecordID   string
	Collection string
	Results    []Result
}

// Count returns how many results ended in state s.
func (r Report) Count(s State) int {
	n := 0
	for _, res := range r.Results {
		if res.State == s {
			n++
		}
	}
	return n
}

// Affected sums the affected target documents over applied rules.
func (r Report) Affected() int {
	n := 0
	for _, res := range r.Results {
		if res.State == StateApplied {
			n += res.Affected
		}
	}
	return n
}

// Err combines the errors of failed rules. Skipped rules never contribute,
// including guard rejections.
func (r Report) Err() error {
	var err error
	for _, res := range r.Results {
		if res.State == StateFailed {
			err = multierr.Append(err, res.Err)
		}
	}
	return err
}
