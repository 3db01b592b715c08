package querybson

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/nocozen/nocozenbase/internal/doc"
)

// ToBSON converts a document value for the driver. Objects become bson.D
// with keys in sorted order so that written documents are deterministic.
// Filters never compare embedded documents whole; see equalities.
func ToBSON(v any) any {
	if m, ok := doc.AsMap(v); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(bson.D, 0, len(keys))
		for _, k := range keys {
			out = append(out, bson.E{Key: k, Value: ToBSON(m[k])})
		}
		return out
	}
	if l, ok := doc.AsList(v); ok {
		out := make(bson.A, len(l))
		for i, e := range l {
			out[i] = ToBSON(e)
		}
		return out
	}
	return v
}

// FromBSON converts a decoded driver value into the document model:
// embedded documents become doc.Document, arrays []any and BSON datetimes
// time.Time. Object ids and other scalar BSON types are kept.
func FromBSON(v any) any {
	switch x := v.(type) {
	case bson.M:
		return FromBSONDocument(x)
	case bson.D:
		out := make(doc.Document, len(x))
		for _, e := range x {
			out[e.Key] = FromBSON(e.Value)
		}
		return out
	case map[string]any:
		return FromBSONDocument(x)
	case bson.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = FromBSON(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = FromBSON(e)
		}
		return out
	case primitive.DateTime:
		return x.Time().UTC()
	default:
		return v
	}
}

// FromBSONDocument converts a decoded top-level document.
func FromBSONDocument(m map[string]any) doc.Document {
	out := make(doc.Document, len(m))
	for k, v := range m {
		out[k] = FromBSON(v)
	}
	return out
}

// MarshalExtJSON encodes d as canonical extended JSON, which keeps dates,
// object ids and integer widths intact across the round trip.
func MarshalExtJSON(d doc.Document) ([]byte, error) {
	return bson.MarshalExtJSON(ToBSON(d), true, false)
}

// UnmarshalExtJSON decodes extended JSON produced by MarshalExtJSON.
func UnmarshalExtJSON(data []byte) (doc.Document, error) {
	var m bson.M
	if err := bson.UnmarshalExtJSON(data, true, &m); err != nil {
		return nil, err
	}
	return FromBSONDocument(m), nil
}
