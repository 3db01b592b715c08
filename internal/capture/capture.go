package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/jobs"
	"github.com/nocozen/nocozenbase/internal/queryir"
	"github.com/nocozen/nocozenbase/internal/rule"
	"github.com/nocozen/nocozenbase/internal/store"
)

var (
	// ErrInvalidMutation is returned for mutations that cannot produce a
	// change record.
	ErrInvalidMutation = errors.New("invalid mutation")

	// ErrPersist wraps failures to store the change record.
	ErrPersist = errors.New("persist change record")

	// ErrDispatch wraps failures to enqueue a stored change record.
	ErrDispatch = errors.New("dispatch change record")
)

// Mutation describes one successful business-data mutation.
type Mutation struct {
	Collection string
	Kind       rule.TriggerKind
	Actor      rule.Actor
	TenantID   string
	OldDoc     doc.Document
	NewDoc     doc.Document
}

// Validate checks that m carries the snapshots its kind needs.
func (m Mutation) Validate() error {
	if m.Collection == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidMutation)
	}
	if _, err := rule.ParseTriggerKind(string(m.Kind)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMutation, err)
	}
	if m.Kind == rule.TriggerDelete {
		if m.OldDoc == nil {
			return fmt.Errorf("%w: delete needs the old document", ErrInvalidMutation)
		}
		return nil
	}
	if m.NewDoc == nil {
		return fmt.Errorf("%w: %s needs the new document", ErrInvalidMutation, m.Kind)
	}
	return nil
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Capturer) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock overrides the time source for OccurredAt.
func WithClock(now func() time.Time) Option {
	return func(c *Capturer) { c.now = now }
}

// WithRecordIDs overrides the change-record id generator.
func WithRecordIDs(next func() string) Option {
	return func(c *Capturer) { c.newID = next }
}

// Capturer is the Event Capture entry point.
type Capturer struct {
	store    store.Store
	dispatch jobs.Dispatcher
	log      *zap.Logger
	now      func() time.Time
	newID    func() string
}

// New creates a Capturer that persists into s and dispatches through d.
func New(s store.Store, d jobs.Dispatcher, opts ...Option) *Capturer {
	c := &Capturer{
		store:    s,
		dispatch: d,
		log:      zap.NewNop(),
		now:      time.Now,
		newID: func() string {
			if id, err := uuid.NewV7(); err == nil {
				return id.String()
			}
			return uuid.NewString()
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("capture")
	return c
}

// Capture builds the change record for m, persists it and enqueues it for
// synchronization.
func (c *Capturer) Capture(ctx context.Context, m Mutation) (rule.ChangeRecord, error) {
	if err := m.Validate(); err != nil {
		return rule.ChangeRecord{}, err
	}

	rec := rule.ChangeRecord{
		ID:               c.newID(),
		EntityID:         rule.EntityID(m.OldDoc, m.NewDoc),
		SourceCollection: m.Collection,
		TriggerKind:      m.Kind,
		OldDoc:           m.OldDoc.Clone(),
		NewDoc:           m.NewDoc.Clone(),
		Actor:            m.Actor,
		TenantID:         m.TenantID,
		OccurredAt:       doc.Timestamp(c.now()),
	}

	logColl := rule.LogCollection(m.Collection)
	if _, err := c.store.InsertOne(ctx, logColl, rec.ToDocument()); err != nil {
		c.log.Error("persist change record",
			zap.String("collection", logColl),
			zap.String("record_id", rec.ID),
			zap.Error(err))
		return rule.ChangeRecord{}, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	if _, err := c.enqueue(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (c *Capturer) enqueue(ctx context.Context, rec rule.ChangeRecord) (jobs.Handle, error) {
	payload, err := EncodePayload(Payload{CollName: rec.SourceCollection, Record: rec})
	if err != nil {
		return jobs.Handle{}, fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	h, err := c.dispatch.EnqueueNow(ctx, jobs.DataSyncJob, payload)
	if err != nil {
		c.log.Error("dispatch change record",
			zap.String("collection", rec.SourceCollection),
			zap.String("record_id", rec.ID),
			zap.Error(err))
		return jobs.Handle{}, fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	c.log.Debug("change record dispatched",
		zap.String("collection", rec.SourceCollection),
		zap.String("record_id", rec.ID),
		zap.String("job_id", h.ID),
		zap.Bool("duplicate", h.Duplicate))
	return h, nil
}

// requeuer is implemented by dispatchers that can re-run a finished job.
type requeuer interface {
	Requeue(ctx context.Context, id string) error
}

// Replay loads a stored change record of coll and dispatches it again. When
// the dispatcher already holds the identical job it is requeued instead.
func (c *Capturer) Replay(ctx context.Context, coll, recordID string) (jobs.Handle, error) {
	logColl := rule.LogCollection(coll)
	d, err := c.store.FindOne(ctx, logColl, &queryir.And{Predicates: []queryir.Predicate{
		queryir.ByID(recordID),
		&queryir.Eq{Field: "logType", Value: rule.LogTypeChange},
	}})
	if err != nil {
		return jobs.Handle{}, fmt.Errorf("load change record %s from %s: %w", recordID, logColl, err)
	}
	rec, err := rule.ChangeRecordFromDocument(d)
	if err != nil {
		return jobs.Handle{}, err
	}
	if rec.SourceCollection == "" {
		rec.SourceCollection = coll
	}

	h, err := c.enqueue(ctx, rec)
	if err != nil {
		return jobs.Handle{}, err
	}
	if h.Duplicate {
		rq, ok := c.dispatch.(requeuer)
		if !ok {
			return h, nil
		}
		if err := rq.Requeue(ctx, h.ID); err != nil {
			return h, fmt.Errorf("%w: %w", ErrDispatch, err)
		}
		c.log.Info("change record requeued", zap.String("record_id", rec.ID), zap.String("job_id", h.ID))
	}
	return h, nil
}
