package condition

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/rule"
)

// ErrUnsupportedOperator is returned for operators the evaluator does not
// implement, including the stored but unevaluated "range" and "dynamic".
var ErrUnsupportedOperator = errors.New("unsupported operator")

// ErrInvalidOperand is returned when an operand cannot be used with its
// operator, such as a malformed regular expression.
var ErrInvalidOperand = errors.New("invalid operand")

// Predicate is a compiled condition tree.
type Predicate interface {
	// Eval tests d. A non-nil error means the predicate could not be
	// decided; the boolean is then false.
	Eval(d doc.Document) (bool, error)
	String() string
}

type constant bool

func (c constant) Eval(doc.Document) (bool, error) { return bool(c), nil }
func (c constant) String() string                  { return fmt.Sprintf("%t", bool(c)) }

type allOf []Predicate

func (a allOf) Eval(d doc.Document) (bool, error) {
	for _, p := range a {
		ok, err := p.Eval(d)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (a allOf) String() string { return join("all", a) }

type anyOf []Predicate

// Eval evaluates every branch so that an undecidable branch fails the whole
// predicate even when another branch matched.
func (a anyOf) Eval(d doc.Document) (bool, error) {
	matched := false
	for _, p := range a {
		ok, err := p.Eval(d)
		if err != nil {
			return false, err
		}
		matched = matched || ok
	}
	return matched, nil
}

func (a anyOf) String() string { return join("any", a) }

func join(name string, ps []Predicate) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}

// comparison is a leaf: field <op> operand.
type comparison struct {
	field     string
	path      doc.Path
	fieldType rule.FieldType
	op        rule.Operator
	operand   rule.Value
	re        *regexp.Regexp
}

func (c *comparison) String() string {
	if c.op == rule.OpNull || c.op == rule.OpNotNull {
		return fmt.Sprintf("%s %s", c.field, c.op)
	}
	return fmt.Sprintf("%s %s %s", c.field, c.op, c.operand)
}

// Compile builds the predicate for conds joined by comb. An empty list
// compiles to true.
func Compile(comb rule.Combinator, conds []rule.Condition) (Predicate, error) {
	if len(conds) == 0 {
		return constant(true), nil
	}
	leaves := make([]Predicate, 0, len(conds))
	for i, c := range conds {
		leaf, err := compileLeaf(c)
		if err != nil {
			return nil, fmt.Errorf("condition %d (%s): %w", i, c.Field, err)
		}
		leaves = append(leaves, leaf)
	}
	switch comb {
	case rule.Any:
		return anyOf(leaves), nil
	case rule.All, "":
		return allOf(leaves), nil
	default:
		return nil, fmt.Errorf("unknown combinator %q", comb)
	}
}

func compileLeaf(c rule.Condition) (Predicate, error) {
	if !c.Operator.Supported() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedOperator, c.Operator)
	}
	field := c.Field
	if c.FieldType.SingleChoice() {
		field += ".name"
	}
	p, err := doc.ParsePath(field)
	if err != nil {
		return nil, err
	}
	leaf := &comparison{field: field, path: p, fieldType: c.FieldType, op: c.Operator, operand: c.Value}

	if c.Operator == rule.OpNull || c.Operator == rule.OpNotNull {
		leaf.operand = nil
		return leaf, nil
	}
	if c.Value == nil {
		return nil, fmt.Errorf("%w: %s needs an operand", ErrInvalidOperand, c.Operator)
	}
	if lit, ok := c.Value.(rule.Literal); ok && (c.Operator == rule.OpMatches || c.Operator == rule.OpNotMatches) {
		pattern, ok := lit.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: pattern must be a string, got %T", ErrInvalidOperand, lit.Value)
		}
		if leaf.re, err = regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOperand, err)
		}
	}
	if b, ok := c.Value.(rule.Bound); ok {
		if _, err := doc.ParsePath(b.Path); err != nil {
			return nil, err
		}
	}
	return leaf, nil
}
