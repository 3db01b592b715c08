// Package querybson compiles queryir filters and update plans into BSON
// commands for the MongoDB driver, and converts documents between the
// driver's BSON types and doc.Document.
package querybson

import (
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nocozen/nocozenbase/internal/queryir"
)

// Filter compiles p into a MongoDB filter document. A nil predicate
// compiles to the empty filter, which matches every document.
func Filter(p queryir.Predicate) (bson.D, error) {
	if p == nil {
		return bson.D{}, nil
	}
	if err := queryir.Validate(p); err != nil {
		return nil, err
	}
	return compile(p)
}

func compile(p queryir.Predicate) (bson.D, error) {
	switch n := p.(type) {
	case *queryir.And:
		return group("$and", n.Predicates)
	case *queryir.Or:
		return group("$or", n.Predicates)
	case *queryir.Eq:
		return equalities("", *n), nil
	case *queryir.ElemMatch:
		match := bson.D{}
		for _, e := range n.Match {
			match = append(match, equalities("", e)...)
		}
		return bson.D{{Key: n.Field, Value: bson.D{{Key: "$elemMatch", Value: match}}}}, nil
	case *queryir.IDIn:
		ids := make(bson.A, len(n.IDs))
		for i, id := range n.IDs {
			ids[i] = ToBSON(id)
		}
		return bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}, nil
	default:
		return nil, fmt.Errorf("unsupported predicate: %T", p)
	}
}

// equalities emits e as leaf-field equalities under prefix. Embedded
// documents are compared field by field since the server compares whole
// objects in stored key order.
func equalities(prefix string, e queryir.Eq) bson.D {
	leaves := e.Leaves()
	out := make(bson.D, 0, len(leaves))
	for _, l := range leaves {
		out = append(out, bson.E{Key: prefix + l.Field, Value: ToBSON(l.Value)})
	}
	return out
}

func group(op string, ps []queryir.Predicate) (bson.D, error) {
	parts := make(bson.A, 0, len(ps))
	for _, c := range ps {
		d, err := compile(c)
		if err != nil {
			return nil, err
		}
		parts = append(parts, d)
	}
	return bson.D{{Key: op, Value: parts}}, nil
}

// Update compiles u into an update document and the matching update
// options. Assignments are emitted in path order so that the command text is
// deterministic.
func Update(u queryir.Update) (bson.D, *options.UpdateOptions, error) {
	if err := queryir.ValidateUpdate(u); err != nil {
		return nil, nil, err
	}
	if u.IsZero() {
		return nil, nil, fmt.Errorf("compile update: nothing to change")
	}

	var cmd bson.D
	if len(u.Append) > 0 {
		add := make(bson.D, 0, len(u.Append))
		for _, ap := range u.Append {
			items := make(bson.A, len(ap.Items))
			for i, it := range ap.Items {
				items[i] = ToBSON(it)
			}
			add = append(add, bson.E{Key: ap.Field, Value: bson.D{{Key: "$each", Value: items}}})
		}
		cmd = append(cmd, bson.E{Key: "$addToSet", Value: add})
	}
	if len(u.Set) > 0 {
		set := make([]queryir.Assignment, len(u.Set))
		copy(set, u.Set)
		sort.SliceStable(set, func(i, j int) bool { return set[i].Path < set[j].Path })
		fields := make(bson.D, 0, len(set))
		for _, a := range set {
			fields = append(fields, bson.E{Key: a.Path, Value: ToBSON(a.Value)})
		}
		cmd = append(cmd, bson.E{Key: "$set", Value: fields})
	}

	opts := options.Update()
	if len(u.ArrayFilters) > 0 {
		filters := make([]interface{}, 0, len(u.ArrayFilters))
		for _, af := range u.ArrayFilters {
			f := bson.D{}
			for _, e := range af.Match {
				f = append(f, equalities(af.Ident+".", e)...)
			}
			filters = append(filters, f)
		}
		opts.SetArrayFilters(options.ArrayFilters{Filters: filters})
	}
	return cmd, opts, nil
}
