// Package rule defines the data model of the sync engine: the declarative
// sync rules attached to module configurations, the change records produced
// by business mutations, and the audit and run log entries written while
// rules execute.
//
// Rules arrive in the stored module-configuration format (see DataSyncConfig)
// and are converted once into SyncRule values. Condition and mapping
// operands are a tagged union of Bound (read another field of the source
// document) and Literal (a constant).
package rule
