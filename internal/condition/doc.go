// Package condition evaluates trigger conditions against documents.
//
// A condition list and its combinator are compiled into a small predicate
// tree (all/any nodes over comparison leaves) and evaluated against the
// subject document of a change record. Evaluation fails closed: an empty list
// is unconditionally true, but an unsupported operator, a malformed path or
// an incomparable operand makes the whole predicate false and is reported as
// a soft error rather than a panic.
//
// Field values are read according to the field's form type:
//
//	single-choice (FeSelect, FeRadioGroup, ...)     field.name
//	multi-choice  (FeMulSelect, FeCheckboxGroup, ...) [elem.name for elem in field]
//	everything else                                   field
package condition
