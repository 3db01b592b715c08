package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/mapping"
	"github.com/nocozen/nocozenbase/internal/queryir"
	"github.com/nocozen/nocozenbase/internal/reconcile"
	"github.com/nocozen/nocozenbase/internal/rule"
	"github.com/nocozen/nocozenbase/internal/store"
)

// System fields stamped on documents created by an Add rule.
const (
	FieldCompletedState = "complatedState"
	FieldCreateBy       = "createBy"
	FieldCreateAt       = "createAt"
	FieldUpdateAt       = reconcile.UpdatedAtField
	FieldTenant         = "en_id"

	// StateConfirmed is the lifecycle state of synchronized documents.
	StateConfirmed = "confirmed"
)

// execution is one rule running against one change record.
type execution struct {
	engine *Engine
	rule   rule.SyncRule
	rec    rule.ChangeRecord
	now    time.Time
	log    *zap.Logger
}

func (x *execution) store() store.Store { return x.engine.store }

func (x *execution) target() string { return x.rule.TargetCollection }

func (x *execution) tenant() string {
	if x.rec.TenantID != "" {
		return x.rec.TenantID
	}
	if s, ok := x.rec.Subject()[FieldTenant].(string); ok {
		return s
	}
	return ""
}

func (x *execution) configError(msg string, err error) error {
	return NewConfigError(x.rule.ID(), x.target(), msg, err)
}

func (x *execution) storeError(op string, err error) error {
	return NewStoreError(x.rule.ID(), x.target(), op, err)
}

// add inserts one synthesized document into the target collection.
func (x *execution) add(ctx context.Context, res Result) Result {
	if x.target() == "" {
		return fail(res, x.configError("rule has no target collection", nil))
	}
	subject := x.rec.Subject()
	d, err := mapping.Synthesize(x.rule.AddFieldMap, subject)
	if err != nil {
		return fail(res, x.configError("synthesize document", err))
	}

	now := doc.Timestamp(x.now)
	d[FieldCompletedState] = StateConfirmed
	d[FieldCreateBy] = subject[FieldCreateBy]
	d[FieldCreateAt] = now
	d[FieldUpdateAt] = now
	d[FieldTenant] = x.tenant()

	id, err := x.store().InsertOne(ctx, x.target(), d)
	if err != nil {
		return fail(res, x.storeError("insert document", err))
	}
	d["_id"] = id

	if err := x.audit(ctx, x.entry(id, nil, d)); err != nil {
		return fail(res, err)
	}
	return applied(res, 1)
}

// edit updates the documents matched by the target filter, reconciling
// nested arrays first.
func (x *execution) edit(ctx context.Context, res Result) Result {
	filter, err := x.filter(x.rec.NewDoc)
	if err != nil {
		return fail(res, err)
	}
	n, err := x.guarded(ctx, filter)
	if IsBatchLimitError(err) {
		res.Err = err
		return skip(res, err.Error())
	}
	if err != nil {
		return fail(res, err)
	}
	if n == 0 {
		return applied(res, 0)
	}

	patch, err := mapping.Synthesize(x.rule.EditFieldMap, x.rec.NewDoc)
	if err != nil {
		return fail(res, x.configError("synthesize patch", err))
	}
	relation, err := mapping.Synthesize(x.rule.EditRelation, x.rec.NewDoc)
	if err != nil {
		return fail(res, x.configError("synthesize association keys", err))
	}
	layout, err := mapping.LayoutOf(x.rule.EditFieldMap)
	if err != nil {
		return fail(res, x.configError("plan patch layout", err))
	}

	proj := []string{"_id"}
	if x.rule.AllowNestedInsert {
		for _, at := range layout.Arrays {
			proj = append(proj, strings.SplitN(at.Field, ".", 2)[0])
		}
	}
	targets, err := x.store().Find(ctx, x.target(), filter, store.WithProjection(proj...))
	if err != nil {
		return fail(res, x.storeError("find targets", err))
	}
	ids := idsOf(targets)
	if len(ids) == 0 {
		return applied(res, 0)
	}

	plan, err := reconcile.Build(reconcile.Input{
		Patch:    patch,
		Layout:   layout,
		Relation: relation,
		Now:      doc.Timestamp(x.now),
	}, targets, x.rule.AllowNestedInsert, x.engine.ids)
	if err != nil {
		return fail(res, x.configError("plan update", err))
	}
	for _, f := range plan.Unrelated {
		x.log.Warn("array field has no association key, left unchanged", zap.String("field", f))
	}

	// Appends must land before the positional update matches on keys.
	for _, ins := range plan.Inserts {
		u := queryir.Update{Append: []queryir.Append{{Field: ins.Field, Items: ins.Items}}}
		if _, err := x.store().UpdateOne(ctx, x.target(), queryir.ByID(ins.ID), u); err != nil {
			return fail(res, x.storeError("append array elements", err))
		}
	}
	if _, err := x.store().UpdateMany(ctx, x.target(), &queryir.IDIn{IDs: ids}, plan.Update); err != nil {
		return fail(res, x.storeError("update documents", err))
	}

	updated, err := x.store().Find(ctx, x.target(), &queryir.IDIn{IDs: ids}, store.WithProjection("_id"))
	if err != nil {
		return fail(res, x.storeError("find updated documents", err))
	}
	entries := make([]rule.AuditEntry, 0, len(updated))
	for _, d := range updated {
		entries = append(entries, x.entry(d.ID(), nil, patch))
	}
	if err := x.audit(ctx, entries...); err != nil {
		return fail(res, err)
	}
	return applied(res, len(updated))
}

// remove deletes the documents matched by the target filter, keeping their
// pre-images in the audit log.
func (x *execution) remove(ctx context.Context, res Result) Result {
	filter, err := x.filter(x.rec.OldDoc)
	if err != nil {
		return fail(res, err)
	}
	n, err := x.guarded(ctx, filter)
	if IsBatchLimitError(err) {
		res.Err = err
		return skip(res, err.Error())
	}
	if err != nil {
		return fail(res, err)
	}
	if n == 0 {
		return applied(res, 0)
	}

	pre, err := x.store().Find(ctx, x.target(), filter)
	if err != nil {
		return fail(res, x.storeError("find targets", err))
	}
	ids := idsOf(pre)
	if len(ids) == 0 {
		return applied(res, 0)
	}
	if _, err := x.store().DeleteMany(ctx, x.target(), &queryir.IDIn{IDs: ids}); err != nil {
		return fail(res, x.storeError("delete documents", err))
	}

	entries := make([]rule.AuditEntry, 0, len(pre))
	for _, d := range pre {
		entries = append(entries, x.entry(d.ID(), d, nil))
	}
	if err := x.audit(ctx, entries...); err != nil {
		return fail(res, err)
	}
	return applied(res, len(pre))
}

// filter builds the target filter from source.
func (x *execution) filter(source doc.Document) (queryir.Predicate, error) {
	if x.target() == "" {
		return nil, x.configError("rule has no target collection", nil)
	}
	p, err := mapping.BuildFilter(x.rule.TargetCombinator, x.rule.TargetFilter, source)
	if errors.Is(err, mapping.ErrEmptyFilter) {
		return nil, NewEmptyFilterError(x.rule.ID(), x.target(), err)
	}
	if err != nil {
		return nil, x.configError("build target filter", err)
	}
	return p, nil
}

// guarded counts the filter's matches and applies the batch guard.
func (x *execution) guarded(ctx context.Context, filter queryir.Predicate) (int64, error) {
	n, err := x.store().Count(ctx, x.target(), filter)
	if err != nil {
		return 0, x.storeError("count targets", err)
	}
	if err := x.engine.guard.Check(x.rule.ID(), n); err != nil {
		return n, err
	}
	return n, nil
}

func (x *execution) entry(id any, pre, post doc.Document) rule.AuditEntry {
	return rule.AuditEntry{
		TargetCollection: x.target(),
		Action:           x.rule.TargetAction,
		TenantID:         x.tenant(),
		AffectedID:       id,
		CreatedAt:        doc.Timestamp(x.now),
		RuleID:           x.rule.ID(),
		SourceRecordID:   x.rec.ID,
		PreImage:         pre,
		PostImage:        post,
	}
}

// audit appends entries to the target's log collection.
func (x *execution) audit(ctx context.Context, entries ...rule.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]doc.Document, len(entries))
	for i, a := range entries {
		docs[i] = a.ToDocument()
	}
	coll := rule.LogCollection(x.target())
	if _, err := x.store().InsertMany(ctx, coll, docs); err != nil {
		return NewStoreError(x.rule.ID(), coll, "write audit entries", err)
	}
	return nil
}

func idsOf(docs []doc.Document) []any {
	ids := make([]any, 0, len(docs))
	for _, d := range docs {
		if id := d.ID(); id != nil {
			ids = append(ids, id)
		}
	}
	return ids
}
