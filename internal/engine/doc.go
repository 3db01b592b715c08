// Package engine implements the sync orchestrator: for one change record it
// looks up the rules of the source collection and runs each one through
//
//	Evaluating -> Skipped
//	Evaluating -> Executing -> Applied | Failed
//
// independently of the others. A rule is evaluated only when it is enabled,
// listens for the record's trigger kind and its trigger conditions hold on
// the record's subject document.
//
// Executing dispatches on the rule's target action:
//
//   - Add synthesizes a document from the add map, stamps system fields,
//     inserts it and writes one audit entry.
//   - Edit builds the target filter from the new document, applies the batch
//     guard, reconciles nested arrays (appending missing elements first),
//     runs one positional update and writes one audit entry per document.
//   - Delete builds the target filter from the old document, applies the
//     batch guard, captures pre-images, deletes and writes one audit entry
//     per document with its pre-image.
//
// Engine writes go straight to the store and never through event capture,
// so a synchronized write cannot trigger further synchronization.
//
// # Error Handling
//
// Each rule produces a Result. Configuration problems and store failures
// mark only that rule Failed; a batch-guard rejection marks it Skipped.
// Report.Err combines the failures with multierr.
package engine
