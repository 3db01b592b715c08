package queryir

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid query")

// Validate checks that p can be executed by every backend: groups are
// non-empty, fields are non-empty dotted paths without positional segments,
// and element matches carry at least one equality.
//
// Validate is a pure function with no side effects.
func Validate(p Predicate) error {
	switch n := p.(type) {
	case nil:
		return fmt.Errorf("%w: nil predicate", ErrInvalid)
	case *And:
		return validateGroup("and", n.Predicates)
	case *Or:
		return validateGroup("or", n.Predicates)
	case *Eq:
		return validateField(n.Field)
	case *ElemMatch:
		if err := validateField(n.Field); err != nil {
			return err
		}
		if len(n.Match) == 0 {
			return fmt.Errorf("%w: elemMatch on %q has no conditions", ErrInvalid, n.Field)
		}
		for _, e := range n.Match {
			if err := validateField(e.Field); err != nil {
				return err
			}
		}
		return nil
	case *IDIn:
		return nil
	default:
		return fmt.Errorf("%w: unknown predicate %T", ErrInvalid, p)
	}
}

func validateGroup(op string, ps []Predicate) error {
	if len(ps) == 0 {
		return fmt.Errorf("%w: empty %s", ErrInvalid, op)
	}
	for _, c := range ps {
		if err := Validate(c); err != nil {
			return err
		}
	}
	return nil
}

func validateField(f string) error {
	if f == "" {
		return fmt.Errorf("%w: empty field", ErrInvalid)
	}
	for _, seg := range strings.Split(f, ".") {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalid, f)
		}
		if strings.HasPrefix(seg, "$") {
			return fmt.Errorf("%w: operator segment in %q", ErrInvalid, f)
		}
	}
	return nil
}

// ValidateUpdate checks that every positional identifier used by an
// assignment has an array filter and that every array filter is used.
func ValidateUpdate(u Update) error {
	declared := make(map[string]bool, len(u.ArrayFilters))
	for _, af := range u.ArrayFilters {
		if af.Ident == "" || len(af.Match) == 0 {
			return fmt.Errorf("%w: array filter %q has no conditions", ErrInvalid, af.Ident)
		}
		if declared[af.Ident] {
			return fmt.Errorf("%w: duplicate array filter %q", ErrInvalid, af.Ident)
		}
		declared[af.Ident] = true
	}
	used := make(map[string]bool, len(declared))
	for _, a := range u.Set {
		if a.Path == "" {
			return fmt.Errorf("%w: empty assignment path", ErrInvalid)
		}
		for _, seg := range strings.Split(a.Path, ".") {
			if ident, ok := positionalIdent(seg); ok {
				if !declared[ident] {
					return fmt.Errorf("%w: no array filter for %q", ErrInvalid, ident)
				}
				used[ident] = true
			}
		}
	}
	for ident := range declared {
		if !used[ident] {
			return fmt.Errorf("%w: array filter %q is never used", ErrInvalid, ident)
		}
	}
	for _, ap := range u.Append {
		if err := validateField(ap.Field); err != nil {
			return err
		}
	}
	return nil
}
