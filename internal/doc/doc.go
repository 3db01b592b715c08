// Package doc provides the semi-structured document model used by the sync
// engine.
//
// Documents are plain string-keyed maps as they come out of the document
// store. Fields are addressed with dotted paths; at most one segment of a path
// may be flagged as an array with a trailing "[]", in which case reads fan out
// to one value per array element and writes distribute a sequence across the
// elements:
//
//	status.name        -> the "name" field of the "status" object
//	items[].sku        -> the "sku" field of every element of "items"
//	items[]            -> every element of "items"
//
// Reads never fail on missing intermediate objects; they report the value as
// absent. Writes create intermediate containers as needed and only fail when an
// existing non-object value sits where a container is required.
//
// The package also provides value equality and ordering that treat the numeric
// types produced by JSON and BSON decoding uniformly, and a canonical key
// encoding (sorted keys, NFC-normalized strings) used for set comparisons.
package doc
