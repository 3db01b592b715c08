package queryir

import (
	"fmt"
	"strings"
)

// Predicate is a filter over documents.
//
// This is a sealed interface - only types in this package implement it.
type Predicate interface {
	predicateNode()
	String() string
}

// And matches documents that match every predicate.
type And struct {
	Predicates []Predicate
}

// Or matches documents that match at least one predicate.
type Or struct {
	Predicates []Predicate
}

// Eq matches documents whose Field equals Value. A nil Value also matches a
// missing field. A non-empty object Value matches when each of its leaf
// fields is equal (see Leaves), so stored key order does not matter.
type Eq struct {
	Field string
	Value any
}

// ElemMatch matches documents where a single element of the array at Field
// satisfies every equality in Match. Match fields are relative to the
// element.
type ElemMatch struct {
	Field string
	Match []Eq
}

// IDIn matches documents whose "_id" is one of IDs.
type IDIn struct {
	IDs []any
}

func (*And) predicateNode()       {}
func (*Or) predicateNode()        {}
func (*Eq) predicateNode()        {}
func (*ElemMatch) predicateNode() {}
func (*IDIn) predicateNode()      {}

func (a *And) String() string { return group("and", a.Predicates) }
func (o *Or) String() string  { return group("or", o.Predicates) }
func (e *Eq) String() string  { return fmt.Sprintf("%s = %v", e.Field, e.Value) }

func (m *ElemMatch) String() string {
	parts := make([]string, len(m.Match))
	for i, e := range m.Match {
		parts[i] = e.String()
	}
	return fmt.Sprintf("%s elemMatch {%s}", m.Field, strings.Join(parts, ", "))
}

func (i *IDIn) String() string { return fmt.Sprintf("_id in %v", i.IDs) }

func group(op string, ps []Predicate) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}

// ByID matches the single document with the given id.
func ByID(id any) Predicate {
	return &Eq{Field: "_id", Value: id}
}

// Assignment sets Path to Value. Path segments of the form "$[ident]" address
// every array element that matches the array filter named ident.
type Assignment struct {
	Path  string
	Value any
}

// ArrayFilter names a condition on array elements, referenced from
// assignment paths as "$[Ident]". Match fields are relative to the element.
type ArrayFilter struct {
	Ident string
	Match []Eq
}

// Append adds Items to the array at Field, skipping items already present.
type Append struct {
	Field string
	Items []any
}

// Update is a write plan for the documents matched by a filter.
type Update struct {
	Set          []Assignment
	Append       []Append
	ArrayFilters []ArrayFilter
}

// IsZero reports whether the update changes nothing.
func (u Update) IsZero() bool {
	return len(u.Set) == 0 && len(u.Append) == 0
}

// Positional returns the path segment addressing elements matched by the
// array filter ident.
func Positional(ident string) string {
	return "$[" + ident + "]"
}

func positionalIdent(seg string) (string, bool) {
	if strings.HasPrefix(seg, "$[") && strings.HasSuffix(seg, "]") && len(seg) > 3 {
		return seg[2 : len(seg)-1], true
	}
	return "", false
}
