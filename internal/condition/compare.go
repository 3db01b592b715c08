package condition

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/rule"
)

// Eval resolves the field and operand against d and applies the operator.
func (c *comparison) Eval(d doc.Document) (bool, error) {
	value := c.resolve(d)

	switch c.op {
	case rule.OpNull:
		return value == nil, nil
	case rule.OpNotNull:
		return value != nil, nil
	}

	operand, err := c.operandValue(d)
	if err != nil {
		return false, err
	}

	switch c.op {
	case rule.OpEqual:
		return doc.Equal(value, operand), nil
	case rule.OpNotEqual:
		return !doc.Equal(value, operand), nil
	case rule.OpGreaterThan, rule.OpLessThan, rule.OpGreaterThanOrEqual, rule.OpLessThanOrEqual:
		return c.order(value, operand)
	case rule.OpEqualAny:
		return memberOf(value, operand)
	case rule.OpNotEqualAny:
		in, err := memberOf(value, operand)
		return !in && err == nil, err
	case rule.OpIncludes:
		return includes(value, operand)
	case rule.OpNotIncludes:
		in, err := includes(value, operand)
		return !in && err == nil, err
	case rule.OpIncludesAny:
		return includesAny(value, operand)
	case rule.OpNotIncludesAny:
		in, err := includesAny(value, operand)
		return !in && err == nil, err
	case rule.OpMatches:
		return c.matches(value, operand)
	case rule.OpNotMatches:
		m, err := c.matches(value, operand)
		return !m && err == nil, err
	default:
		return false, fmt.Errorf("%w: %q", ErrUnsupportedOperator, c.op)
	}
}

// resolve reads the field value per its form type. Multi-choice fields
// reduce to the list of their elements' names.
func (c *comparison) resolve(d doc.Document) any {
	v, ok := doc.Get(d, c.path)
	if !ok {
		return nil
	}
	if !c.fieldType.MultiChoice() {
		return v
	}
	return names(v, c.path.FanOut())
}

func names(v any, fanned bool) any {
	elems, ok := doc.AsList(v)
	if !ok {
		return nil
	}
	out := make([]any, 0, len(elems))
	for _, e := range elems {
		if fanned {
			if nested, ok := names(e, false).([]any); ok {
				out = append(out, nested...)
			}
			continue
		}
		if m, ok := doc.AsMap(e); ok {
			out = append(out, m["name"])
		}
	}
	return out
}

func (c *comparison) operandValue(d doc.Document) (any, error) {
	switch v := c.operand.(type) {
	case rule.Literal:
		return v.Value, nil
	case rule.Bound:
		got, _ := doc.GetPath(d, v.Path)
		return got, nil
	default:
		return nil, fmt.Errorf("%w: missing operand", ErrInvalidOperand)
	}
}

func (c *comparison) order(value, operand any) (bool, error) {
	value, operand = coerceTimes(value, operand)
	cmp, err := doc.Compare(value, operand)
	if err != nil {
		return false, fmt.Errorf("%s: %w", c.field, err)
	}
	switch c.op {
	case rule.OpGreaterThan:
		return cmp > 0, nil
	case rule.OpLessThan:
		return cmp < 0, nil
	case rule.OpGreaterThanOrEqual:
		return cmp >= 0, nil
	default:
		return cmp <= 0, nil
	}
}

// coerceTimes parses an RFC 3339 string compared against a time, since rule
// literals store dates as strings.
func coerceTimes(a, b any) (any, any) {
	if _, ok := a.(time.Time); ok {
		if s, ok := b.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return a, t
			}
		}
	}
	if _, ok := b.(time.Time); ok {
		if s, ok := a.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t, b
			}
		}
	}
	return a, b
}

func asSet(operand any) []any {
	if l, ok := doc.AsList(operand); ok {
		return l
	}
	return []any{operand}
}

// memberOf tests scalar membership of value in the operand set.
func memberOf(value, operand any) (bool, error) {
	if _, ok := doc.AsList(value); ok {
		return false, fmt.Errorf("%w: membership needs a scalar, got a list", doc.ErrIncomparable)
	}
	for _, e := range asSet(operand) {
		if doc.Equal(value, e) {
			return true, nil
		}
	}
	return false, nil
}

// includes reports whether a list value has an element equal to operand, or
// a string value contains operand as a substring.
func includes(value, operand any) (bool, error) {
	if l, ok := doc.AsList(value); ok {
		for _, e := range l {
			if doc.Equal(e, operand) {
				return true, nil
			}
		}
		return false, nil
	}
	switch v := value.(type) {
	case nil:
		return false, nil
	case string:
		s, ok := operand.(string)
		if !ok {
			return false, fmt.Errorf("%w: string contains %T", doc.ErrIncomparable, operand)
		}
		return strings.Contains(v, s), nil
	default:
		return false, fmt.Errorf("%w: includes on %T", doc.ErrIncomparable, value)
	}
}

func includesAny(value, operand any) (bool, error) {
	for _, e := range asSet(operand) {
		ok, err := includes(value, e)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// matches applies the pattern to a string value, or to any element of a
// list value.
func (c *comparison) matches(value, operand any) (bool, error) {
	re := c.re
	if re == nil {
		pattern, ok := operand.(string)
		if !ok {
			return false, fmt.Errorf("%w: pattern must be a string, got %T", ErrInvalidOperand, operand)
		}
		var err error
		if re, err = regexp.Compile(pattern); err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalidOperand, err)
		}
	}
	if l, ok := doc.AsList(value); ok {
		for _, e := range l {
			if s, ok := e.(string); ok && re.MatchString(s) {
				return true, nil
			}
		}
		return false, nil
	}
	switch v := value.(type) {
	case nil:
		return false, nil
	case string:
		return re.MatchString(v), nil
	default:
		return false, fmt.Errorf("%w: matches on %T", doc.ErrIncomparable, value)
	}
}
