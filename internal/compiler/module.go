package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/nocozen/nocozenbase/internal/rule"
)

// Module is one module configuration read from a rules file.
type Module struct {
	Name   string
	File   string
	Config rule.ModuleConfig
}

// CompileModule decodes a CUE value into a module configuration.
//
// The CUE value should be the module struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`module: orders: { ... }`)
//	m, err := CompileModule(v.LookupPath(cue.ParsePath("module.orders")))
func CompileModule(v cue.Value) (*Module, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	m := &Module{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		m.Name = labels[len(labels)-1].Unquoted()
	}
	if pos := v.Pos(); pos.IsValid() {
		m.File = pos.Filename()
	}

	collVal := v.LookupPath(cue.ParsePath("formConfig.collName"))
	if !collVal.Exists() {
		return nil, &CompileError{
			Field:   "formConfig.collName",
			Message: "module must name its collection",
			Pos:     v.Pos(),
		}
	}
	coll, err := collVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	m.Config.FormConfig.CollName = coll

	syncVal := v.LookupPath(cue.ParsePath("dataSync"))
	if !syncVal.Exists() {
		return m, nil
	}
	iter, err := syncVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for i := 0; iter.Next(); i++ {
		var cfg rule.DataSyncConfig
		if err := iter.Value().Decode(&cfg); err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("dataSync[%d]", i),
				Message: firstMessage(err),
				Pos:     iter.Value().Pos(),
			}
		}
		m.Config.DataSync = append(m.Config.DataSync, cfg)
	}
	return m, nil
}

// CompileError is a decoding error with its source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}

func firstMessage(err error) string {
	if errs := errors.Errors(err); len(errs) > 0 {
		return errs[0].Error()
	}
	return err.Error()
}
