// Package mapping turns declarative source-to-target bindings into target
// documents and target-side filters.
//
// Synthesize materializes a field-mapping list against a source document:
// bound values are copied through doc paths (one level of array fan-out is
// preserved), literal values are set as constants, and literal nulls are
// skipped so they never overwrite the target.
//
// BuildFilter reuses the same synthesis over a filter-condition list (the
// operators are ignored) and flattens the result into equality fragments
// joined by the rule's combinator.
package mapping
