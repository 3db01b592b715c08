// Package queryir provides a store-independent representation of the filters
// and update plans the sync engine issues against target collections.
//
// The filter builder and the reconciler produce queryir values; each store
// backend either compiles them (see package querybson for MongoDB) or
// evaluates them directly (the in-memory store). Keeping one representation
// lets both backends share a single definition of what a filter means.
//
//	[mapping / reconcile] -> [queryir] -> [querybson -> MongoDB]
//	                                   -> [Match / Apply -> memory]
//
// Predicate is a sealed interface; only types in this package implement it,
// so backends can switch exhaustively over:
//
//	*And        every child matches
//	*Or         at least one child matches
//	*Eq         a dotted field equals a value
//	*ElemMatch  one element of an array field matches all sub-field equalities
//	*IDIn       the document id is one of a set
//
// Field paths use the store's dotted notation: a numeric segment addresses a
// list position ("tags.0"), and a non-numeric segment applied to a list
// matches when any element matches.
package queryir
