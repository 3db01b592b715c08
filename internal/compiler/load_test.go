package compiler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nocozen/nocozenbase/internal/rule"
)

const ordersCUE = `package rules

module: orders: {
	formConfig: collName: "_mc_orders"
	dataSync: [{
		uid:  7
		name: "invoice on add"
		enable: true
		triggerAction: ["add"]
		triggerConditCombiType: "and"
		triggerCondition: [{
			preFieldName: "amount"
			preFieldType: "FeNumber"
			operator:     "greaterThan"
			valueType:    "custom"
			valueFieldValue: 50
		}]
		updateConfig: collName: "_mc_invoices"
		updateAction: "add"
		addFieldMap: [{
			preFieldName:    "order_id"
			preFieldType:    "FeText"
			valueType:       "bind"
			valueFieldValue: "_id"
		}]
	}]
}
`

const stockYAML = `module:
  stock:
    formConfig:
      collName: _mc_stock_moves
    dataSync:
      - uid: 8
        name: reduce stock
        enable: true
        triggerAction: [add, edit]
        updateConfig:
          collName: _mc_stock
        updateAction: edit
        updateFilter:
          - preFieldName: sku
            valueType: bind
            valueFieldValue: sku
        updateFieldMap:
          - preFieldName: qty
            valueType: bind
            valueFieldValue: qty
  returns:
    formConfig:
      collName: _mc_returns
    dataSync:
      - uid: 9
        name: drop return
        enable: true
        triggerAction: [delete]
        updateConfig:
          collName: _mc_stock
        updateAction: delete
        updateFilter:
          - preFieldName: return_id
            valueType: bind
            valueFieldValue: _id
`

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestLoadCUEAndYAML(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"orders.cue":       ordersCUE,
		"stock/stock.yaml": stockYAML,
	})

	res, errs := Load(dir)
	require.Empty(t, errs)
	assert.Equal(t, 2, res.FileCount)
	require.Len(t, res.Modules, 3)
	assert.Equal(t, "orders", res.Modules[0].Name)
	assert.Equal(t, "stock", res.Modules[1].Name, "YAML modules keep file order")
	assert.Equal(t, "returns", res.Modules[2].Name)

	require.Len(t, res.Rules, 3)
	add := res.Rules[0]
	assert.Equal(t, uint64(7), add.UID)
	assert.Equal(t, "_mc_orders", add.SourceCollection)
	assert.Equal(t, rule.ActionAdd, add.TargetAction)
	require.Len(t, add.TriggerConditions, 1)
	assert.Equal(t, rule.OpGreaterThan, add.TriggerConditions[0].Operator)
	assert.Equal(t, []rule.FieldMapping{{
		Target: "order_id", FieldType: rule.FeText, Value: rule.Bound{Path: "_id"},
	}}, add.AddFieldMap)

	src := res.Source()
	assert.Equal(t, 3, src.Collections())
	stock, err := src.SyncRules(context.Background(), "_mc_stock_moves")
	require.NoError(t, err)
	require.Len(t, stock, 1)
	assert.Equal(t, []rule.TriggerKind{rule.TriggerAdd, rule.TriggerEdit}, stock[0].TriggerKinds)
}

func TestLoadDropsInvalidRules(t *testing.T) {
	dir := writeFiles(t, map[string]string{"bad.yaml": `module:
  orders:
    formConfig:
      collName: _mc_orders
    dataSync:
      - name: no target
        triggerAction: [add]
        updateAction: add
        addFieldMap:
          - preFieldName: x
            valueType: custom
            valueFieldValue: 1
      - name: bad trigger
        triggerAction: [upsert]
        updateConfig:
          collName: _mc_x
        updateAction: add
      - uid: 1
        name: fine
        triggerAction: [add]
        updateConfig:
          collName: _mc_x
        updateAction: add
        addFieldMap:
          - preFieldName: x
            valueType: custom
            valueFieldValue: 1
`})

	res, errs := Load(dir)
	require.NotNil(t, res)
	require.Len(t, res.Rules, 1)
	assert.Equal(t, "fine", res.Rules[0].Name)

	require.Len(t, errs, 2)
	var ve ValidationError
	require.True(t, errors.As(errs[0], &ve))
	assert.Equal(t, ErrTargetMissing, ve.Code)
	assert.Equal(t, "module.orders.dataSync[0].updateConfig.collName", ve.Field)

	var le *LoadError
	require.True(t, errors.As(errs[1], &le))
	assert.Equal(t, ErrCodeConvert, le.Code)
	assert.Contains(t, le.Message, "upsert")
}

func TestLoadDuplicateUIDAcrossFiles(t *testing.T) {
	module := func(uid string) string {
		return `module:
  m` + uid + `:
    formConfig:
      collName: _mc_` + uid + `
    dataSync:
      - uid: 5
        name: r` + uid + `
        triggerAction: [delete]
        updateConfig:
          collName: _mc_t
        updateAction: delete
        updateFilter:
          - preFieldName: ref
            valueType: bind
            valueFieldValue: _id
`
	}
	dir := writeFiles(t, map[string]string{"a.yaml": module("a"), "b.yml": module("b")})

	res, errs := Load(dir)
	assert.Len(t, res.Rules, 2)
	require.Len(t, errs, 1)
	var ve ValidationError
	require.True(t, errors.As(errs[0], &ve))
	assert.Equal(t, ErrDuplicateUID, ve.Code)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
		code  string
	}{
		{"missing dir", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") }, ErrCodeNotFound},
		{"file not dir", func(t *testing.T) string {
			dir := writeFiles(t, map[string]string{"x.yaml": "module: {}"})
			return filepath.Join(dir, "x.yaml")
		}, ErrCodeNotFound},
		{"no files", func(t *testing.T) string {
			return writeFiles(t, map[string]string{"README.md": "rules"})
		}, ErrCodeNoFiles},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, errs := Load(tt.setup(t))
			assert.Nil(t, res)
			require.Len(t, errs, 1)
			var le *LoadError
			require.True(t, errors.As(errs[0], &le))
			assert.Equal(t, tt.code, le.Code)
		})
	}
}

func TestLoadYAMLModuleWithoutCollection(t *testing.T) {
	dir := writeFiles(t, map[string]string{"m.yaml": "module:\n  orders:\n    dataSync: []\n"})
	res, errs := Load(dir)
	require.NotNil(t, res)
	assert.Empty(t, res.Modules)
	require.Len(t, errs, 1)
	var le *LoadError
	require.True(t, errors.As(errs[0], &le))
	assert.Equal(t, ErrMissingCollection, le.Code)
	assert.Equal(t, 3, le.Line)
}

func TestCompileModuleMissingCollection(t *testing.T) {
	v := cuecontext.New().CompileString(`module: orders: dataSync: []`, cue.Filename("orders.cue"))
	_, err := CompileModule(v.LookupPath(cue.ParsePath("module.orders")))
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "formConfig.collName", ce.Field)
	assert.Contains(t, err.Error(), "orders.cue:1:")
}

func TestCompileModuleName(t *testing.T) {
	v := cuecontext.New().CompileString(`module: "sales-orders": formConfig: collName: "_mc_so"`)
	m, err := CompileModule(v.LookupPath(cue.MakePath(cue.Str("module"), cue.Str("sales-orders"))))
	require.NoError(t, err)
	assert.Equal(t, "sales-orders", m.Name)
	assert.Equal(t, "_mc_so", m.Config.FormConfig.CollName)
	assert.Empty(t, m.Config.DataSync)
}
