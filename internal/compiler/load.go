package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/nocozen/nocozenbase/internal/rule"
)

// Load error codes.
const (
	ErrCodeGeneric     = "E001"
	ErrCodeScanError   = "E002"
	ErrCodeNoFiles     = "E003"
	ErrCodeLoadFailed  = "E004"
	ErrCodeNotFound    = "E005"
	ErrCodeBuildFailed = "E006"
	ErrCodeConvert     = "E007"
)

// LoadResult holds the modules and rules read from a rules directory.
// Rules that failed conversion or validation are not in Rules.
type LoadResult struct {
	Modules   []Module
	Rules     []rule.SyncRule
	FileCount int
}

// Source returns a rule source holding the loaded rules.
func (r *LoadResult) Source() *rule.StaticSource {
	return rule.NewStaticSource(r.Rules...)
}

// LoadError is a problem found while reading rule files.
type LoadError struct {
	Code    string
	Message string
	File    string
	Pos     token.Pos
	Line    int
}

func (e *LoadError) Error() string {
	switch {
	case e.Pos.IsValid():
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d: %s: %s", e.File, e.Line, e.Code, e.Message)
	case e.File != "":
		return fmt.Sprintf("%s: %s: %s", e.File, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load reads every *.cue, *.yaml and *.yml file under dir. CUE files form
// one instance and must share a package; each YAML file is read on its own.
// Both put modules under a top-level "module" struct keyed by module name.
//
// Errors are collected rather than returned on first failure. The result is
// nil only when the directory cannot be read at all.
func Load(dir string) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("rules directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("accessing rules directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, yamlFiles, err := FindRuleFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("scanning directory: %v", err)}}
	}
	if len(cueFiles)+len(yamlFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no rule files found in %s", dir)}}
	}

	result := &LoadResult{FileCount: len(cueFiles) + len(yamlFiles)}
	var errs []error

	if len(cueFiles) > 0 {
		mods, cueErrs := loadCUE(dir)
		result.Modules = append(result.Modules, mods...)
		errs = append(errs, cueErrs...)
	}
	for _, f := range yamlFiles {
		mods, yamlErrs := loadYAML(f)
		result.Modules = append(result.Modules, mods...)
		errs = append(errs, yamlErrs...)
	}

	for _, m := range result.Modules {
		for i, cfg := range m.Config.DataSync {
			r, err := cfg.ToRule(m.Config.FormConfig.CollName)
			if err != nil {
				errs = append(errs, &LoadError{
					Code:    ErrCodeConvert,
					Message: fmt.Sprintf("module %s dataSync[%d]: %v", m.Name, i, err),
					File:    m.File,
				})
				continue
			}
			if verrs := Validate(r); len(verrs) > 0 {
				for _, ve := range verrs {
					ve.Field = fmt.Sprintf("module.%s.dataSync[%d].%s", m.Name, i, ve.Field)
					errs = append(errs, ve)
				}
				continue
			}
			result.Rules = append(result.Rules, r)
		}
	}
	for _, ve := range ValidateSet(result.Rules) {
		errs = append(errs, ve)
	}

	return result, errs
}

// FindRuleFiles walks dir and returns CUE and YAML file paths in lexical
// order.
func FindRuleFiles(dir string) (cueFiles, yamlFiles []string, err error) {
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".cue":
			cueFiles = append(cueFiles, path)
		case ".yaml", ".yml":
			yamlFiles = append(yamlFiles, path)
		}
		return nil
	})
	sort.Strings(cueFiles)
	sort.Strings(yamlFiles)
	return cueFiles, yamlFiles, err
}

func loadCUE(dir string) ([]Module, []error) {
	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	modsVal := value.LookupPath(cue.ParsePath("module"))
	if !modsVal.Exists() {
		return nil, nil
	}
	iter, err := modsVal.Fields()
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating modules: %v", err)}}
	}

	var (
		mods []Module
		errs []error
	)
	for iter.Next() {
		m, err := CompileModule(iter.Value())
		if err != nil {
			errs = append(errs, convertCompileError(err, "module."+iter.Selector().String()))
			continue
		}
		mods = append(mods, *m)
	}
	return mods, errs
}

type yamlFile struct {
	Module yaml.Node `yaml:"module"`
}

func loadYAML(path string) ([]Module, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: err.Error(), File: path}}
	}
	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: err.Error(), File: path}}
	}
	if f.Module.Kind == 0 {
		return nil, nil
	}
	if f.Module.Kind != yaml.MappingNode {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "module must be a mapping", File: path, Line: f.Module.Line}}
	}

	var (
		mods []Module
		errs []error
	)
	for i := 0; i+1 < len(f.Module.Content); i += 2 {
		key, val := f.Module.Content[i], f.Module.Content[i+1]
		m := Module{Name: key.Value, File: path}
		if err := val.Decode(&m.Config); err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("module %s: %v", key.Value, err), File: path, Line: val.Line})
			continue
		}
		if m.Config.FormConfig.CollName == "" {
			errs = append(errs, &LoadError{Code: ErrMissingCollection, Message: fmt.Sprintf("module %s must name its collection", key.Value), File: path, Line: val.Line})
			continue
		}
		mods = append(mods, m)
	}
	return mods, errs
}

func convertCompileError(err error, context string) *LoadError {
	var ce *CompileError
	if errors.As(err, &ce) {
		code := ErrCodeGeneric
		if ce.Field == "formConfig.collName" {
			code = ErrMissingCollection
		}
		return &LoadError{Code: code, Message: fmt.Sprintf("%s: %s", ce.Field, ce.Message), Pos: ce.Pos}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("%s: %v", context, err)}
}
