package compiler

import (
	"fmt"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/rule"
)

// Validation error codes (E100-E199)
const (
	ErrRuleNameEmpty       = "E101" // name is required
	ErrNoTriggerKinds      = "E102" // at least one trigger kind required
	ErrTargetMissing       = "E103" // target collection required
	ErrInvalidAction       = "E104" // unknown target action
	ErrOperatorUnsupported = "E105" // stored operator the evaluator does not implement
	ErrOperatorUnknown     = "E106" // not a stored operator name
	ErrInvalidPath         = "E107" // malformed field path
	ErrEmptyFilter         = "E108" // edit/delete without a target filter
	ErrEmptyFieldMap       = "E109" // add/edit without field mappings
	ErrDuplicateUID        = "E110" // uid used by more than one rule
	ErrMissingCollection   = "E111" // module without a collection
)

// ValidationError represents a rule validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a converted rule. All errors are returned.
//
// A rule that fails validation still runs if loaded from the module store;
// the engine skips or fails it at run time. Validation reports the same
// problems before deployment.
func Validate(r rule.SyncRule) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if r.Name == "" {
		add("name", ErrRuleNameEmpty, "rule name is required")
	}
	if r.SourceCollection == "" {
		add("formConfig.collName", ErrMissingCollection, "source collection is required")
	}
	if len(r.TriggerKinds) == 0 {
		add("triggerAction", ErrNoTriggerKinds, "rule listens for no trigger kind")
	}
	if r.TargetCollection == "" {
		add("updateConfig.collName", ErrTargetMissing, "target collection is required")
	}
	if !r.TargetAction.Valid() {
		add("updateAction", ErrInvalidAction, "unknown action %q", r.TargetAction)
	}

	for i, c := range r.TriggerConditions {
		field := fmt.Sprintf("triggerCondition[%d]", i)
		switch {
		case c.Operator.Supported():
		case c.Operator.Known():
			add(field, ErrOperatorUnsupported, "operator %q is not evaluated; the rule would never fire", c.Operator)
		default:
			add(field, ErrOperatorUnknown, "unknown operator %q", c.Operator)
		}
		checkPath(&errs, field, c.Field)
		checkValue(&errs, field, c.Value)
	}

	for i, c := range r.TargetFilter {
		field := fmt.Sprintf("updateFilter[%d]", i)
		checkPath(&errs, field, c.Field)
		checkValue(&errs, field, c.Value)
	}
	checkMappings(&errs, "addFieldMap", r.AddFieldMap)
	checkMappings(&errs, "updateFieldMap", r.EditFieldMap)
	checkMappings(&errs, "editRelation", r.EditRelation)

	switch r.TargetAction {
	case rule.ActionAdd:
		if len(r.AddFieldMap) == 0 {
			add("addFieldMap", ErrEmptyFieldMap, "add rule maps no fields")
		}
	case rule.ActionEdit:
		if len(r.TargetFilter) == 0 {
			add("updateFilter", ErrEmptyFilter, "edit rule has no target filter")
		}
		if len(r.EditFieldMap) == 0 {
			add("updateFieldMap", ErrEmptyFieldMap, "edit rule maps no fields")
		}
	case rule.ActionDelete:
		if len(r.TargetFilter) == 0 {
			add("updateFilter", ErrEmptyFilter, "delete rule has no target filter")
		}
	}
	return errs
}

// ValidateSet checks constraints across rules: uids must be unique.
func ValidateSet(rules []rule.SyncRule) []ValidationError {
	var errs []ValidationError
	seen := make(map[uint64]string)
	for _, r := range rules {
		if r.UID == 0 {
			continue
		}
		if prev, ok := seen[r.UID]; ok {
			errs = append(errs, ValidationError{
				Field:   "uid",
				Code:    ErrDuplicateUID,
				Message: fmt.Sprintf("uid %d used by %q and %q", r.UID, prev, r.Name),
			})
			continue
		}
		seen[r.UID] = r.Name
	}
	return errs
}

func checkMappings(errs *[]ValidationError, name string, ms []rule.FieldMapping) {
	for i, m := range ms {
		field := fmt.Sprintf("%s[%d]", name, i)
		checkPath(errs, field, m.Target)
		checkValue(errs, field, m.Value)
	}
}

func checkValue(errs *[]ValidationError, field string, v rule.Value) {
	if b, ok := v.(rule.Bound); ok {
		checkPath(errs, field+".value", b.Path)
	}
}

func checkPath(errs *[]ValidationError, field, path string) {
	if _, err := doc.ParsePath(path); err != nil {
		*errs = append(*errs, ValidationError{Field: field, Code: ErrInvalidPath, Message: err.Error()})
	}
}
