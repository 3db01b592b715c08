package rule

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/nocozen/nocozenbase/internal/doc"
)

// ModuleConfig is the part of a stored module configuration the sync engine
// reads: the collection the form writes to and its sync rules.
type ModuleConfig struct {
	FormConfig FormConfig       `json:"formConfig" bson:"formConfig" yaml:"formConfig"`
	DataSync   []DataSyncConfig `json:"dataSync" bson:"dataSync" yaml:"dataSync"`
}

// FormConfig holds the business collection of a module.
type FormConfig struct {
	CollName string `json:"collName" bson:"collName" yaml:"collName"`
}

// UpdateConfig names the target collection of a rule.
type UpdateConfig struct {
	CollName string `json:"collName" bson:"collName" yaml:"collName"`
}

// DataSyncConfig is one sync rule in its stored form.
type DataSyncConfig struct {
	UID                    uint64            `json:"uid,omitempty" bson:"uid,omitempty" yaml:"uid,omitempty"`
	Name                   string            `json:"name" bson:"name" yaml:"name"`
	Enable                 bool              `json:"enable" bson:"enable" yaml:"enable"`
	TriggerAction          []string          `json:"triggerAction" bson:"triggerAction" yaml:"triggerAction"`
	TriggerConditCombiType string            `json:"triggerConditCombiType" bson:"triggerConditCombiType" yaml:"triggerConditCombiType"`
	TriggerCondition       []ConditionConfig `json:"triggerCondition" bson:"triggerCondition" yaml:"triggerCondition"`
	UpdateConfig           UpdateConfig      `json:"updateConfig" bson:"updateConfig" yaml:"updateConfig"`
	UpdateAction           string            `json:"updateAction" bson:"updateAction" yaml:"updateAction"`
	UpdateFilterCombiType  string            `json:"updateFilterCombiType" bson:"updateFilterCombiType" yaml:"updateFilterCombiType"`
	UpdateFilter           []ConditionConfig `json:"updateFilter" bson:"updateFilter" yaml:"updateFilter"`
	AddFieldMap            []ConditionConfig `json:"addFieldMap" bson:"addFieldMap" yaml:"addFieldMap"`
	UpdateFieldMap         []ConditionConfig `json:"updateFieldMap" bson:"updateFieldMap" yaml:"updateFieldMap"`
	EditRelation           []ConditionConfig `json:"editRelation" bson:"editRelation" yaml:"editRelation"`
	NestUpsert             bool              `json:"nestUpsert" bson:"nestUpsert" yaml:"nestUpsert"`
}

// Stored values of ConditionConfig.ValueType.
const (
	ValueTypeBind   = "bind"
	ValueTypeCustom = "custom"
)

// ConditionConfig is the stored form of both conditions and field mappings.
// The "pre" side names the tested or written field; the "value" side names
// the operand.
type ConditionConfig struct {
	CombinationType string `json:"combinationType" bson:"combinationType" yaml:"combinationType"`
	PreParentName   string `json:"preParentName,omitempty" bson:"preParentName,omitempty" yaml:"preParentName,omitempty"`
	PreFieldName    string `json:"preFieldName" bson:"preFieldName" yaml:"preFieldName"`
	PreFieldType    string `json:"preFieldType" bson:"preFieldType" yaml:"preFieldType"`
	Operator        string `json:"operator" bson:"operator" yaml:"operator"`
	ValueParentName string `json:"valueParentName,omitempty" bson:"valueParentName,omitempty" yaml:"valueParentName,omitempty"`
	ValueType       string `json:"valueType" bson:"valueType" yaml:"valueType"`
	ValueFieldValue any    `json:"valueFieldValue" bson:"valueFieldValue" yaml:"valueFieldValue"`
	ValueFieldType  string `json:"valueFieldType,omitempty" bson:"valueFieldType,omitempty" yaml:"valueFieldType,omitempty"`
}

// ErrSkipEntry marks a stored entry that carries no usable binding, such as
// a bind with an empty source field. Converters drop such entries.
var ErrSkipEntry = errors.New("entry has no binding")

// Target returns the field path on the "pre" side.
func (c ConditionConfig) Target() string {
	return doc.NestedPath(c.PreParentName, c.PreFieldName)
}

// Operand converts the "value" side into a Value.
func (c ConditionConfig) Operand() (Value, error) {
	switch c.ValueType {
	case ValueTypeBind:
		field, _ := c.ValueFieldValue.(string)
		if field == "" {
			return nil, ErrSkipEntry
		}
		return Bound{Path: doc.NestedPath(c.ValueParentName, field)}, nil
	case ValueTypeCustom, "":
		return Literal{Value: c.ValueFieldValue}, nil
	default:
		return nil, fmt.Errorf("unknown value type %q", c.ValueType)
	}
}

// Condition converts c into a Condition joined by comb.
func (c ConditionConfig) Condition(comb Combinator) (Condition, error) {
	cond := Condition{
		Combinator: comb,
		Field:      c.Target(),
		FieldType:  FieldType(c.PreFieldType),
		Operator:   Operator(c.Operator),
	}
	v, err := c.Operand()
	if err != nil {
		// null/notNull carry no operand.
		if errors.Is(err, ErrSkipEntry) && (cond.Operator == OpNull || cond.Operator == OpNotNull) {
			return cond, nil
		}
		return Condition{}, err
	}
	cond.Value = v
	return cond, nil
}

// Mapping converts c into a FieldMapping.
func (c ConditionConfig) Mapping() (FieldMapping, error) {
	v, err := c.Operand()
	if err != nil {
		return FieldMapping{}, err
	}
	return FieldMapping{
		Target:    c.Target(),
		FieldType: FieldType(c.PreFieldType),
		Value:     v,
	}, nil
}

// ToRule converts the stored rule into a SyncRule for sourceColl.
//
// Entries that carry no binding are dropped. Any other malformed entry fails
// the conversion; the caller decides whether to skip the rule.
func (c DataSyncConfig) ToRule(sourceColl string) (SyncRule, error) {
	r := SyncRule{
		UID:               c.UID,
		Name:              c.Name,
		Enabled:           c.Enable,
		SourceCollection:  sourceColl,
		TargetCollection:  c.UpdateConfig.CollName,
		TargetAction:      Action(c.UpdateAction),
		AllowNestedInsert: c.NestUpsert,
	}

	for _, a := range c.TriggerAction {
		k, err := ParseTriggerKind(a)
		if err != nil {
			return SyncRule{}, fmt.Errorf("rule %q: %w", c.Name, err)
		}
		r.TriggerKinds = append(r.TriggerKinds, k)
	}

	var err error
	if r.TriggerCombinator, err = ParseCombinator(c.TriggerConditCombiType); err != nil {
		return SyncRule{}, fmt.Errorf("rule %q trigger: %w", c.Name, err)
	}
	if r.TargetCombinator, err = ParseCombinator(c.UpdateFilterCombiType); err != nil {
		return SyncRule{}, fmt.Errorf("rule %q filter: %w", c.Name, err)
	}

	if r.TriggerConditions, err = conditions(c.TriggerCondition, r.TriggerCombinator); err != nil {
		return SyncRule{}, fmt.Errorf("rule %q trigger: %w", c.Name, err)
	}
	if r.TargetFilter, err = conditions(c.UpdateFilter, r.TargetCombinator); err != nil {
		return SyncRule{}, fmt.Errorf("rule %q filter: %w", c.Name, err)
	}
	if r.AddFieldMap, err = mappings(c.AddFieldMap); err != nil {
		return SyncRule{}, fmt.Errorf("rule %q add map: %w", c.Name, err)
	}
	if r.EditFieldMap, err = mappings(c.UpdateFieldMap); err != nil {
		return SyncRule{}, fmt.Errorf("rule %q update map: %w", c.Name, err)
	}
	if r.EditRelation, err = mappings(c.EditRelation); err != nil {
		return SyncRule{}, fmt.Errorf("rule %q relation: %w", c.Name, err)
	}
	return r, nil
}

// Rules converts every stored rule of the module. Rules that fail to convert
// are left out and their errors combined into the returned error, so one
// malformed rule does not hide the others.
func (m ModuleConfig) Rules() ([]SyncRule, error) {
	out := make([]SyncRule, 0, len(m.DataSync))
	var errs error
	for _, c := range m.DataSync {
		r, err := c.ToRule(m.FormConfig.CollName)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, r)
	}
	return out, errs
}

func conditions(cfgs []ConditionConfig, comb Combinator) ([]Condition, error) {
	var out []Condition
	for i, c := range cfgs {
		cond, err := c.Condition(comb)
		if errors.Is(err, ErrSkipEntry) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		out = append(out, cond)
	}
	return out, nil
}

func mappings(cfgs []ConditionConfig) ([]FieldMapping, error) {
	var out []FieldMapping
	for i, c := range cfgs {
		m, err := c.Mapping()
		if errors.Is(err, ErrSkipEntry) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("mapping %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}
