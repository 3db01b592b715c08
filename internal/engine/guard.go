package engine

import (
	"errors"
	"fmt"
)

// DefaultBatchLimit is the default ceiling on target documents one Edit or
// Delete execution may touch.
const DefaultBatchLimit = 100

// BatchGuard rejects Edit and Delete executions whose target filter matches
// too many documents. A rejected rule is skipped entirely: no write and no
// audit entry.
type BatchGuard struct {
	limit int
}

// NewBatchGuard creates a guard with the given limit. Non-positive limits
// fall back to DefaultBatchLimit.
func NewBatchGuard(limit int) BatchGuard {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	return BatchGuard{limit: limit}
}

// Check returns a BatchLimitError when matched reaches the limit.
func (g BatchGuard) Check(ruleID string, matched int64) error {
	if matched >= int64(g.limit) {
		return &BatchLimitError{RuleID: ruleID, Matched: matched, Limit: g.limit}
	}
	return nil
}

// Limit returns the configured limit.
func (g BatchGuard) Limit() int { return g.limit }

// BatchLimitError is returned when a target filter matches at least Limit
// documents.
type BatchLimitError struct {
	RuleID  string
	Matched int64
	Limit   int
}

// Error implements the error interface.
func (e *BatchLimitError) Error() string {
	return fmt.Sprintf("rule %s: batch limit: filter matched %d documents, limit %d", e.RuleID, e.Matched, e.Limit)
}

// IsBatchLimitError returns true if the error is a BatchLimitError.
func IsBatchLimitError(err error) bool {
	var be *BatchLimitError
	return errors.As(err, &be)
}
