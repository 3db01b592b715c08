package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/nocozen/nocozenbase/internal/querybson"
	"github.com/nocozen/nocozenbase/internal/rule"
)

// DefaultModuleConfigCollection holds module configurations unless
// overridden.
const DefaultModuleConfigCollection = "_mc_611697328735233"

// RuleSource reads sync rules from the module-configuration collection. Each
// module document names its business collection in formConfig.collName and
// carries its rules in dataSync.
type RuleSource struct {
	coll *mongo.Collection
	log  *zap.Logger
}

var _ rule.Source = (*RuleSource)(nil)

// NewRuleSource reads module configurations from coll in db.
func NewRuleSource(db *mongo.Database, coll string, log *zap.Logger) *RuleSource {
	if coll == "" {
		coll = DefaultModuleConfigCollection
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RuleSource{coll: db.Collection(coll), log: log.Named("rules")}
}

// SyncRules returns the rules of the module writing to collection. A
// collection without a module has no rules. Stored rules that cannot be
// converted are logged and left out.
func (s *RuleSource) SyncRules(ctx context.Context, collection string) ([]rule.SyncRule, error) {
	var m rule.ModuleConfig
	err := s.coll.FindOne(ctx, bson.D{{Key: "formConfig.collName", Value: collection}}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load module config for %s: %w", collection, err)
	}
	normalize(&m)

	rules, err := m.Rules()
	if err != nil {
		s.log.Warn("stored sync rules rejected",
			zap.String("collection", collection),
			zap.Error(err))
	}
	return rules, nil
}

// normalize converts driver types decoded into untyped operand fields.
func normalize(m *rule.ModuleConfig) {
	for i := range m.DataSync {
		c := &m.DataSync[i]
		for _, list := range [][]rule.ConditionConfig{
			c.TriggerCondition, c.UpdateFilter, c.AddFieldMap, c.UpdateFieldMap, c.EditRelation,
		} {
			for j := range list {
				list[j].ValueFieldValue = querybson.FromBSON(list[j].ValueFieldValue)
			}
		}
	}
}
