package rule

import (
	"fmt"
	"strconv"
)

// TriggerKind is the kind of business mutation that produced a change record.
type TriggerKind string

const (
	TriggerAdd          TriggerKind = "add"
	TriggerEdit         TriggerKind = "edit"
	TriggerDelete       TriggerKind = "delete"
	TriggerFlowComplete TriggerKind = "flow-complete"
)

// ParseTriggerKind validates s as a trigger kind.
func ParseTriggerKind(s string) (TriggerKind, error) {
	switch k := TriggerKind(s); k {
	case TriggerAdd, TriggerEdit, TriggerDelete, TriggerFlowComplete:
		return k, nil
	default:
		return "", fmt.Errorf("unknown trigger kind %q", s)
	}
}

// Action is the write a rule performs on its target collection.
type Action string

const (
	ActionAdd    Action = "add"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionAdd || a == ActionEdit || a == ActionDelete
}

// Combinator joins a list of conditions or filter fragments.
type Combinator string

const (
	All Combinator = "and"
	Any Combinator = "or"
)

// ParseCombinator accepts the stored forms "and"/"or" and the aliases
// "all"/"any". An empty string is All.
func ParseCombinator(s string) (Combinator, error) {
	switch s {
	case "", "and", "all":
		return All, nil
	case "or", "any":
		return Any, nil
	default:
		return "", fmt.Errorf("unknown combinator %q", s)
	}
}

// Operator is a comparison used by trigger conditions.
type Operator string

const (
	OpEqual              Operator = "equal"
	OpNotEqual           Operator = "notEqual"
	OpGreaterThan        Operator = "greaterThan"
	OpLessThan           Operator = "lessThan"
	OpGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OpLessThanOrEqual    Operator = "lessThanOrEqual"
	OpEqualAny           Operator = "equalAny"
	OpNotEqualAny        Operator = "notEqualAny"
	OpIncludes           Operator = "includes"
	OpIncludesAny        Operator = "includesAny"
	OpNotIncludes        Operator = "notIncludes"
	OpNotIncludesAny     Operator = "notIncludesAny"
	OpMatches            Operator = "matches"
	OpNotMatches         Operator = "notMatches"
	OpNull               Operator = "null"
	OpNotNull            Operator = "notNull"

	// Stored by the form designer but not evaluated.
	OpRange   Operator = "range"
	OpDynamic Operator = "dynamic"
)

// Supported reports whether the evaluator implements op.
func (op Operator) Supported() bool {
	switch op {
	case OpEqual, OpNotEqual,
		OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual,
		OpEqualAny, OpNotEqualAny,
		OpIncludes, OpIncludesAny, OpNotIncludes, OpNotIncludesAny,
		OpMatches, OpNotMatches,
		OpNull, OpNotNull:
		return true
	default:
		return false
	}
}

// Known reports whether op is a stored operator name, supported or not.
func (op Operator) Known() bool {
	return op.Supported() || op == OpRange || op == OpDynamic
}

// FieldType is the form component type of a field. It decides how a
// condition reads the field's value.
type FieldType string

const (
	FeText          FieldType = "FeText"
	FeTextArea      FieldType = "FeTextArea"
	FeNumber        FieldType = "FeNumber"
	FeDatetime      FieldType = "FeDatetime"
	FeRadioGroup    FieldType = "FeRadioGroup"
	FeCheckboxGroup FieldType = "FeCheckboxGroup"
	FeSelect        FieldType = "FeSelect"
	FeMulSelect     FieldType = "FeMulSelect"
	FeUserSelect    FieldType = "FeUserSelect"
	FeMulUserSelect FieldType = "FeMulUserSelect"
	FeDeptSelect    FieldType = "FeDeptSelect"
	FeMulDeptSelect FieldType = "FeMulDeptSelect"
	NestEditTable   FieldType = "NestEditTable"
)

// SingleChoice reports whether values of t are objects compared on their
// "name" field.
func (t FieldType) SingleChoice() bool {
	switch t {
	case FeRadioGroup, FeSelect, FeUserSelect, FeDeptSelect:
		return true
	default:
		return false
	}
}

// MultiChoice reports whether values of t are lists of objects compared on
// the list of their "name" fields.
func (t FieldType) MultiChoice() bool {
	switch t {
	case FeCheckboxGroup, FeMulSelect, FeMulUserSelect, FeMulDeptSelect:
		return true
	default:
		return false
	}
}

// Value is the right-hand side of a condition or mapping: Bound or Literal.
type Value interface {
	isValue()
	String() string
}

// Bound reads the operand from a path of the source document.
type Bound struct {
	Path string
}

// Literal is a constant operand.
type Literal struct {
	Value any
}

func (Bound) isValue()   {}
func (Literal) isValue() {}

func (b Bound) String() string { return "$" + b.Path }

func (l Literal) String() string {
	if s, ok := l.Value.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprintf("%v", l.Value)
}

// Condition is one comparison. As a trigger condition it tests Field of the
// subject document with Operator against Value. As a filter condition it
// binds target Field to Value resolved against the source document, and the
// operator is ignored.
type Condition struct {
	Combinator Combinator
	Field      string
	FieldType  FieldType
	Operator   Operator
	Value      Value
}

// FieldMapping writes Value into Target of the synthesized document.
type FieldMapping struct {
	Target    string
	FieldType FieldType
	Value     Value
}

// SyncRule propagates mutations of SourceCollection into TargetCollection.
type SyncRule struct {
	UID  uint64
	Name string

	Enabled          bool
	SourceCollection string

	TriggerKinds      []TriggerKind
	TriggerCombinator Combinator
	TriggerConditions []Condition

	TargetCollection string
	TargetAction     Action
	TargetCombinator Combinator
	TargetFilter     []Condition

	AddFieldMap       []FieldMapping
	EditFieldMap      []FieldMapping
	EditRelation      []FieldMapping
	AllowNestedInsert bool
}

// ID identifies the rule in logs: its uid when set, otherwise its name.
func (r SyncRule) ID() string {
	if r.UID != 0 {
		return strconv.FormatUint(r.UID, 10)
	}
	return r.Name
}

// Triggers reports whether the rule listens for kind.
func (r SyncRule) Triggers(kind TriggerKind) bool {
	for _, k := range r.TriggerKinds {
		if k == kind {
			return true
		}
	}
	return false
}
