package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions evaluates all assertions against the result and the
// final store. Returns one message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion, st *store.Memory) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertDocument:
			err = assertDocument(st, a)
		case AssertAbsent:
			err = assertAbsent(st, a)
		case AssertCount:
			err = assertCount(st, a)
		case AssertRuleState:
			err = assertRuleState(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertDocument checks that some document matching Where carries the
// expected values and present fields.
func assertDocument(st *store.Memory, a Assertion) error {
	matches := selectDocs(st.All(a.Collection), a.Where)
	if len(matches) == 0 {
		return &AssertionError{
			Type:     AssertDocument,
			Expected: fmt.Sprintf("document in %s where %s", a.Collection, formatFields(a.Where)),
			Actual:   "no match",
		}
	}

	var lastDiff string
	for _, d := range matches {
		diff := documentDiff(d, a.Expect, a.Present)
		if diff == "" {
			return nil
		}
		lastDiff = diff
	}
	return &AssertionError{
		Type:     AssertDocument,
		Expected: fmt.Sprintf("%s where %s has %s", a.Collection, formatFields(a.Where), formatFields(a.Expect)),
		Actual:   lastDiff,
	}
}

func assertAbsent(st *store.Memory, a Assertion) error {
	if n := len(selectDocs(st.All(a.Collection), a.Where)); n > 0 {
		return &AssertionError{
			Type:     AssertAbsent,
			Expected: fmt.Sprintf("no document in %s where %s", a.Collection, formatFields(a.Where)),
			Actual:   fmt.Sprintf("%d found", n),
		}
	}
	return nil
}

func assertCount(st *store.Memory, a Assertion) error {
	if n := len(selectDocs(st.All(a.Collection), a.Where)); n != a.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d documents in %s where %s", a.Count, a.Collection, formatFields(a.Where)),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func assertRuleState(result *Result, a Assertion) error {
	rt, ok := result.rule(a.Step, a.Rule)
	if !ok {
		return &AssertionError{
			Type:     AssertRuleState,
			Expected: fmt.Sprintf("rule %q at step %d", a.Rule, a.Step),
			Actual:   "rule did not run",
		}
	}
	if rt.State != a.State || (a.Reason != "" && rt.Reason != a.Reason) {
		return &AssertionError{
			Type:     AssertRuleState,
			Expected: fmt.Sprintf("rule %q at step %d: %s %s", a.Rule, a.Step, a.State, a.Reason),
			Actual:   fmt.Sprintf("%s %s", rt.State, rt.Reason),
		}
	}
	return nil
}

// selectDocs returns the documents whose values at every Where path equal
// the given ones.
func selectDocs(docs []doc.Document, where map[string]any) []doc.Document {
	var out []doc.Document
	for _, d := range docs {
		if documentDiff(d, where, nil) == "" {
			out = append(out, d)
		}
	}
	return out
}

// documentDiff describes the first mismatch between d and the expectations,
// or returns "" when everything matches.
func documentDiff(d doc.Document, expect map[string]any, present []string) string {
	for _, path := range sortedKeys(expect) {
		got, ok := doc.GetPath(d, path)
		if !ok {
			return fmt.Sprintf("%s missing", path)
		}
		if !doc.Equal(got, expect[path]) {
			return fmt.Sprintf("%s = %v, want %v", path, got, expect[path])
		}
	}
	for _, path := range present {
		if v, ok := doc.GetPath(d, path); !ok || v == nil {
			return fmt.Sprintf("%s not set", path)
		}
	}
	return ""
}

func formatFields(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
