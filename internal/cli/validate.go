package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nocozen/nocozenbase/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Files    int                        `json:"files"`
	Rules    int                        `json:"rules"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.ChainWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rules-dir>",
		Short: "Check rule files before deployment",
		Long: `Statically check the module configurations in a rules directory.

Reads *.cue, *.yaml and *.yml files, converts every dataSync entry and
reports invalid actions, unsupported operators, malformed field paths,
missing filters and duplicate uids. Collection chains and cycles between
rules are reported as warnings.

Exit codes:
  0 - All rules valid
  1 - One or more rules invalid
  2 - Command error (directory not found, no rule files)

Example:
  nocozen-sync validate ./rules
  nocozen-sync validate ./rules --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, rulesDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	loadResult, loadErrors := compiler.Load(rulesDir)
	if loadResult == nil {
		code, message := compiler.ErrCodeGeneric, "rules could not be loaded"
		var loadErr *compiler.LoadError
		if len(loadErrors) > 0 && errors.As(loadErrors[0], &loadErr) {
			code, message = loadErr.Code, loadErr.Message
		} else if len(loadErrors) > 0 {
			message = loadErrors[0].Error()
		}
		_ = formatter.Error(code, message, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
	}

	formatter.VerboseLog("Found %d rule file(s) in %s", loadResult.FileCount, rulesDir)
	for _, m := range loadResult.Modules {
		formatter.VerboseLog("Module %s: %d rule(s)", m.Name, len(m.Config.DataSync))
	}

	result := ValidationResult{
		Files:    loadResult.FileCount,
		Rules:    len(loadResult.Rules),
		Errors:   validationErrors(loadErrors),
		Warnings: compiler.AnalyzeChains(loadResult.Rules),
	}
	result.Valid = len(result.Errors) == 0

	if formatter.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{Code: result.Errors[0].Code, Message: result.Errors[0].Message}
		}
		if err := formatter.Encode(resp); err != nil {
			return err
		}
	} else {
		writeValidationText(formatter, result)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}
	return nil
}

// validationErrors converts load and validation problems into one list.
func validationErrors(errs []error) []compiler.ValidationError {
	out := make([]compiler.ValidationError, 0, len(errs))
	for _, err := range errs {
		var (
			ve      compiler.ValidationError
			loadErr *compiler.LoadError
		)
		switch {
		case errors.As(err, &ve):
			out = append(out, ve)
		case errors.As(err, &loadErr):
			out = append(out, compiler.ValidationError{
				Field:   loadField(loadErr),
				Message: loadErr.Message,
				Code:    loadErr.Code,
				Line:    loadLine(loadErr),
			})
		default:
			out = append(out, compiler.ValidationError{
				Field:   "load",
				Message: err.Error(),
				Code:    compiler.ErrCodeGeneric,
			})
		}
	}
	return out
}

func loadField(e *compiler.LoadError) string {
	if e.Pos.IsValid() {
		return e.Pos.Filename()
	}
	if e.File != "" {
		return e.File
	}
	return "load"
}

func loadLine(e *compiler.LoadError) int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return e.Line
}

func writeValidationText(f *OutputFormatter, result ValidationResult) {
	w := f.Writer
	if result.Valid {
		fmt.Fprintf(w, "✓ All rules valid (%d rule(s) in %d file(s))\n", result.Rules, result.Files)
	} else {
		fmt.Fprintln(w, "✗ Validation failed")
		fmt.Fprintln(w)
		for _, e := range result.Errors {
			if e.Line > 0 {
				fmt.Fprintf(w, "line %d\n", e.Line)
			}
			fmt.Fprintf(w, "  %s: %s: %s\n\n", e.Code, e.Field, e.Message)
		}
	}

	for _, warn := range result.Warnings {
		if warn.Level == compiler.LevelInfo && !f.Verbose {
			continue
		}
		fmt.Fprintf(w, "%s: %s\n", warn.Level, warn.Message)
	}
}
