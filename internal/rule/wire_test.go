package rule

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const storedModule = `{
  "formConfig": {"collName": "_mc_orders"},
  "dataSync": [{
    "uid": 42,
    "name": "orders to invoices",
    "enable": true,
    "triggerAction": ["add", "flow-complete"],
    "triggerConditCombiType": "and",
    "triggerCondition": [
      {"combinationType": "and", "preFieldName": "status", "preFieldType": "FeSelect",
       "operator": "equal", "valueType": "custom", "valueFieldValue": "Approved"},
      {"combinationType": "and", "preFieldName": "remark", "preFieldType": "FeText",
       "operator": "notNull", "valueType": "bind", "valueFieldValue": ""}
    ],
    "updateConfig": {"collName": "_mc_invoices"},
    "updateAction": "edit",
    "updateFilterCombiType": "or",
    "updateFilter": [
      {"combinationType": "or", "preFieldName": "orderId", "preFieldType": "FeText",
       "operator": "equal", "valueType": "bind", "valueFieldValue": "orderId"}
    ],
    "updateFieldMap": [
      {"combinationType": "and", "preParentName": "lines", "preFieldName": "qty", "preFieldType": "FeNumber",
       "valueType": "bind", "valueParentName": "items", "valueFieldValue": "qty"},
      {"combinationType": "and", "preFieldName": "source", "preFieldType": "FeText",
       "valueType": "custom", "valueFieldValue": "orders"},
      {"combinationType": "and", "preFieldName": "ignored", "preFieldType": "FeText",
       "valueType": "bind", "valueFieldValue": ""}
    ],
    "editRelation": [
      {"combinationType": "and", "preParentName": "lines", "preFieldName": "sku", "preFieldType": "FeText",
       "valueType": "bind", "valueParentName": "items", "valueFieldValue": "sku"}
    ],
    "nestUpsert": true
  }]
}`

func TestModuleConfigRules(t *testing.T) {
	var m ModuleConfig
	require.NoError(t, json.Unmarshal([]byte(storedModule), &m))

	rules, err := m.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	r := rules[0]

	assert.Equal(t, "42", r.ID())
	assert.True(t, r.Enabled)
	assert.Equal(t, "_mc_orders", r.SourceCollection)
	assert.Equal(t, "_mc_invoices", r.TargetCollection)
	assert.Equal(t, ActionEdit, r.TargetAction)
	assert.True(t, r.Triggers(TriggerFlowComplete))
	assert.False(t, r.Triggers(TriggerDelete))
	assert.Equal(t, All, r.TriggerCombinator)
	assert.Equal(t, Any, r.TargetCombinator)
	assert.True(t, r.AllowNestedInsert)

	require.Len(t, r.TriggerConditions, 2)
	assert.Equal(t, Condition{
		Combinator: All, Field: "status", FieldType: FeSelect,
		Operator: OpEqual, Value: Literal{Value: "Approved"},
	}, r.TriggerConditions[0])
	assert.Equal(t, OpNotNull, r.TriggerConditions[1].Operator)
	assert.Nil(t, r.TriggerConditions[1].Value)

	require.Len(t, r.TargetFilter, 1)
	assert.Equal(t, Bound{Path: "orderId"}, r.TargetFilter[0].Value)

	require.Len(t, r.EditFieldMap, 2, "bind with an empty source is dropped")
	assert.Equal(t, FieldMapping{Target: "lines[].qty", FieldType: FeNumber, Value: Bound{Path: "items[].qty"}}, r.EditFieldMap[0])
	assert.Equal(t, Literal{Value: "orders"}, r.EditFieldMap[1].Value)

	require.Len(t, r.EditRelation, 1)
	assert.Equal(t, "lines[].sku", r.EditRelation[0].Target)
}

func TestToRuleErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  DataSyncConfig
	}{
		{"unknown trigger", DataSyncConfig{Name: "r", TriggerAction: []string{"upsert"}}},
		{"unknown combinator", DataSyncConfig{Name: "r", TriggerConditCombiType: "xor"}},
		{"unknown value type", DataSyncConfig{Name: "r", AddFieldMap: []ConditionConfig{
			{PreFieldName: "a", ValueType: "formula", ValueFieldValue: "x"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.ToRule("_mc_src")
			assert.Error(t, err)
		})
	}
}

func TestRuleIDFallsBackToName(t *testing.T) {
	assert.Equal(t, "by-name", SyncRule{Name: "by-name"}.ID())
}

func TestParseCombinator(t *testing.T) {
	for in, want := range map[string]Combinator{"": All, "and": All, "all": All, "or": Any, "any": Any} {
		got, err := ParseCombinator(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestOperatorSupport(t *testing.T) {
	assert.True(t, OpIncludesAny.Supported())
	assert.False(t, OpRange.Supported())
	assert.True(t, OpRange.Known())
	assert.False(t, Operator("like").Known())
}

func TestFieldTypeGroups(t *testing.T) {
	assert.True(t, FeUserSelect.SingleChoice())
	assert.False(t, FeUserSelect.MultiChoice())
	assert.True(t, FeMulDeptSelect.MultiChoice())
	assert.False(t, FeText.SingleChoice())
}

func TestModuleConfigRulesKeepsValidRules(t *testing.T) {
	m := ModuleConfig{
		FormConfig: FormConfig{CollName: "_mc_src"},
		DataSync: []DataSyncConfig{
			{Name: "broken", TriggerAction: []string{"upsert"}},
			{Name: "ok", Enable: true, TriggerAction: []string{"add"}, UpdateAction: "add"},
		},
	}
	rules, err := m.Rules()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `rule "broken"`)
	require.Len(t, rules, 1)
	assert.Equal(t, "ok", rules[0].Name)
}
