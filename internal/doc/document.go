package doc

import "time"

// Document is a semi-structured record addressed by field paths.
type Document map[string]any

// ID returns the document's "_id" value, or nil when absent.
func (d Document) ID() any {
	if d == nil {
		return nil
	}
	return d["_id"]
}

// Clone returns a deep copy of the document. Nested maps become Documents and
// nested lists become []any; scalar values are shared.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = CloneValue(v)
	}
	return out
}

// Merge returns a shallow copy of d with every top-level field of patch
// applied on top.
func (d Document) Merge(patch Document) Document {
	out := make(Document, len(d)+len(patch))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// CloneValue deep-copies maps and lists inside v.
func CloneValue(v any) any {
	if m, ok := AsMap(v); ok {
		return Document(m).Clone()
	}
	if l, ok := AsList(v); ok {
		out := make([]any, len(l))
		for i, e := range l {
			out[i] = CloneValue(e)
		}
		return out
	}
	return v
}

// AsMap reports whether v is an object and returns it as a plain map. The
// returned map shares storage with v.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case Document:
		return map[string]any(m), m != nil
	case map[string]any:
		return m, m != nil
	default:
		return nil, false
	}
}

// AsList reports whether v is a list and returns it as []any. Typed slices of
// documents are converted; []any is returned as is.
func AsList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []Document:
		out := make([]any, len(l))
		for i, e := range l {
			out[i] = e
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(l))
		for i, e := range l {
			out[i] = e
		}
		return out, true
	case []string:
		out := make([]any, len(l))
		for i, e := range l {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}

// IsNull reports whether v is an explicit null.
func IsNull(v any) bool {
	return v == nil
}

// Timestamp normalizes t to millisecond precision in UTC, the resolution the
// document store keeps.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
