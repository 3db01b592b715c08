// Package mongostore implements store.Store and rule.Source on MongoDB.
//
// Filters and update plans arrive as queryir values and are compiled by
// package querybson. Decoded documents are converted back to doc.Document so
// the engine never sees driver types other than object ids.
package mongostore
