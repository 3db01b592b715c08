// Package store defines the document-store operations the sync engine
// consumes, and an in-memory implementation used by tests and the scenario
// harness.
//
// Filters and update plans are expressed in queryir so that engine code does
// not depend on a driver. The MongoDB implementation lives in mongostore.
//
// Semantics every implementation follows:
//   - Find returns documents in natural (insertion) order.
//   - InsertOne assigns an "_id" when the document has none.
//   - UpdateOne applies appends before assignments, and assignments through
//     "$[ident]" touch only elements matching the named array filter.
//   - Matched counts documents selected by the filter; Modified counts those
//     whose content changed.
package store
