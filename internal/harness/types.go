package harness

// StepTrace is the recorded outcome of one change step.
type StepTrace struct {
	Step       int         `yaml:"step"`
	Collection string      `yaml:"collection"`
	Trigger    string      `yaml:"trigger"`
	RecordID   string      `yaml:"record_id"`
	Rules      []RuleTrace `yaml:"rules"`
}

// RuleTrace is one rule's outcome within a step.
type RuleTrace struct {
	Rule     string `yaml:"rule"`
	State    string `yaml:"state"`
	Affected int    `yaml:"affected"`
	Reason   string `yaml:"reason,omitempty"`
	Error    string `yaml:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `yaml:"pass"`

	// Trace holds one entry per change step, in order.
	Trace []StepTrace `yaml:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `yaml:"errors,omitempty"`

	// State is the final content of every non-empty collection.
	State map[string][]map[string]any `yaml:"state"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []StepTrace{},
		Errors: []string{},
		State:  make(map[string][]map[string]any),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// rule returns the outcome of the named rule at step, if recorded.
func (r *Result) rule(step int, name string) (RuleTrace, bool) {
	if step < 0 || step >= len(r.Trace) {
		return RuleTrace{}, false
	}
	for _, rt := range r.Trace[step].Rules {
		if rt.Rule == name {
			return rt, true
		}
	}
	return RuleTrace{}, false
}
