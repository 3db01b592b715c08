package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents a failure while executing a rule.
//
// RuntimeError includes structured fields for diagnostics and wraps the
// underlying cause.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// RuleID identifies the rule (uid or name).
	RuleID string

	// Collection is the target collection.
	Collection string

	// Details contains additional context.
	Details map[string]string

	cause error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeConfig indicates a malformed rule: unknown action, bad path,
	// missing target collection.
	ErrCodeConfig RuntimeErrorCode = "CONFIG_ERROR"

	// ErrCodeBatchLimit indicates the target filter matched too many
	// documents.
	ErrCodeBatchLimit RuntimeErrorCode = "BATCH_LIMIT"

	// ErrCodeEmptyFilter indicates the target filter had no conditions.
	ErrCodeEmptyFilter RuntimeErrorCode = "EMPTY_FILTER"

	// ErrCodeStore indicates a store read or write failed.
	ErrCodeStore RuntimeErrorCode = "STORE_ERROR"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := e.Message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.RuleID != "" && e.Collection != "" {
		return fmt.Sprintf("%s: %s (rule=%s, collection=%s)", e.Code, msg, e.RuleID, e.Collection)
	}
	if e.RuleID != "" {
		return fmt.Sprintf("%s: %s (rule=%s)", e.Code, msg, e.RuleID)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error { return e.cause }

func hasCode(err error, codes ...RuntimeErrorCode) bool {
	var re *RuntimeError
	if !errors.As(err, &re) {
		return false
	}
	for _, c := range codes {
		if re.Code == c {
			return true
		}
	}
	return false
}

// IsConfigError reports whether err stems from a malformed rule, including
// an empty target filter. Uses errors.As to handle wrapped errors.
func IsConfigError(err error) bool {
	return hasCode(err, ErrCodeConfig, ErrCodeEmptyFilter)
}

// IsGuardError reports whether err is a batch-guard rejection.
// Matches both RuntimeError with ErrCodeBatchLimit and BatchLimitError.
func IsGuardError(err error) bool {
	if hasCode(err, ErrCodeBatchLimit) {
		return true
	}
	var be *BatchLimitError
	return errors.As(err, &be)
}

// IsStoreError reports whether err is a store failure.
func IsStoreError(err error) bool {
	return hasCode(err, ErrCodeStore)
}

// NewConfigError creates a RuntimeError for a malformed rule.
func NewConfigError(ruleID, collection, message string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeConfig,
		Message:    message,
		RuleID:     ruleID,
		Collection: collection,
		cause:      cause,
	}
}

// NewEmptyFilterError creates a RuntimeError for a filter without
// conditions.
func NewEmptyFilterError(ruleID, collection string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeEmptyFilter,
		Message:    "target filter selects nothing specific",
		RuleID:     ruleID,
		Collection: collection,
		cause:      cause,
	}
}

// NewStoreError creates a RuntimeError for a failed store operation.
func NewStoreError(ruleID, collection, op string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeStore,
		Message:    op,
		RuleID:     ruleID,
		Collection: collection,
		Details:    map[string]string{"op": op},
		cause:      cause,
	}
}
