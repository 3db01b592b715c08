package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/nocozen/nocozenbase/internal/rule"
)

// Scenario defines a sync test scenario: rules, an initial store, a list of
// business mutations and assertions over the final store and the per-rule
// outcomes.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// BatchLimit overrides the engine's batch guard when positive.
	BatchLimit int `yaml:"batch_limit,omitempty"`

	// Modules hold the rules under test, in stored module form.
	Modules []ModuleSpec `yaml:"modules"`

	// Seed lists documents inserted before the first change, by collection.
	Seed map[string][]map[string]any `yaml:"seed,omitempty"`

	// Changes are captured and processed in order.
	Changes []ChangeStep `yaml:"changes"`

	// Assertions validate the final store and the recorded outcomes.
	Assertions []Assertion `yaml:"assertions"`
}

// ModuleSpec is a named module configuration.
type ModuleSpec struct {
	Name              string `yaml:"name"`
	rule.ModuleConfig `yaml:",inline"`
}

// ChangeStep is one business mutation.
type ChangeStep struct {
	Collection string         `yaml:"collection"`
	Trigger    string         `yaml:"trigger"`
	Actor      ActorSpec      `yaml:"actor,omitempty"`
	Tenant     string         `yaml:"tenant,omitempty"`
	Old        map[string]any `yaml:"old,omitempty"`
	New        map[string]any `yaml:"new,omitempty"`

	// Expect checks the rule outcome counts of this step when set.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ActorSpec names the user behind a change.
type ActorSpec struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ExpectClause lists expected rule outcome counts. Omitted counts are not
// checked.
type ExpectClause struct {
	Applied  *int `yaml:"applied,omitempty"`
	Skipped  *int `yaml:"skipped,omitempty"`
	Failed   *int `yaml:"failed,omitempty"`
	Affected *int `yaml:"affected,omitempty"`
}

// Assertion validates the final store or a recorded outcome.
type Assertion struct {
	// Type is one of document, absent, count or rule_state.
	Type string `yaml:"type"`

	// Collection is the collection queried by document, absent and count.
	Collection string `yaml:"collection,omitempty"`

	// Where selects documents by field path; all entries must match.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect holds expected values by field path (subset match, document).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Present lists field paths that must be set (document).
	Present []string `yaml:"present,omitempty"`

	// Count is the expected number of matching documents (count).
	Count int `yaml:"count,omitempty"`

	// Step, Rule, State and Reason check one rule outcome (rule_state).
	Step   int    `yaml:"step,omitempty"`
	Rule   string `yaml:"rule,omitempty"`
	State  string `yaml:"state,omitempty"`
	Reason string `yaml:"reason,omitempty"`
}

// Assertion type constants.
const (
	AssertDocument  = "document"
	AssertAbsent    = "absent"
	AssertCount     = "count"
	AssertRuleState = "rule_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the *.yaml and *.yml files directly under dir, in
// lexical order.
func FindScenarios(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Modules) == 0 {
		return fmt.Errorf("modules list is required and must be non-empty")
	}
	if len(s.Changes) == 0 {
		return fmt.Errorf("changes list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, m := range s.Modules {
		if m.FormConfig.CollName == "" {
			return fmt.Errorf("modules[%d]: formConfig.collName is required", i)
		}
	}

	for i, c := range s.Changes {
		if c.Collection == "" {
			return fmt.Errorf("changes[%d]: collection is required", i)
		}
		if _, err := rule.ParseTriggerKind(c.Trigger); err != nil {
			return fmt.Errorf("changes[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, len(s.Changes)); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, steps int) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertDocument:
		if a.Collection == "" {
			return fmt.Errorf("assertions[%d]: collection is required for document", index)
		}
		if len(a.Expect) == 0 && len(a.Present) == 0 {
			return fmt.Errorf("assertions[%d]: expect or present is required for document", index)
		}
	case AssertAbsent:
		if a.Collection == "" {
			return fmt.Errorf("assertions[%d]: collection is required for absent", index)
		}
	case AssertCount:
		if a.Collection == "" {
			return fmt.Errorf("assertions[%d]: collection is required for count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertRuleState:
		if a.Rule == "" || a.State == "" {
			return fmt.Errorf("assertions[%d]: rule and state are required for rule_state", index)
		}
		if a.Step < 0 || a.Step >= steps {
			return fmt.Errorf("assertions[%d]: step %d out of range", index, a.Step)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
