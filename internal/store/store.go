package store

import (
	"context"
	"errors"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/queryir"
)

var (
	// ErrNotFound is returned by FindOne when no document matches.
	ErrNotFound = errors.New("document not found")

	// ErrDuplicateKey is returned when inserting a document whose "_id"
	// already exists.
	ErrDuplicateKey = errors.New("duplicate key")
)

// UpdateResult reports the outcome of an update.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

// Store is the generic document store.
type Store interface {
	Find(ctx context.Context, coll string, filter queryir.Predicate, opts ...FindOption) ([]doc.Document, error)
	FindOne(ctx context.Context, coll string, filter queryir.Predicate, opts ...FindOption) (doc.Document, error)
	InsertOne(ctx context.Context, coll string, d doc.Document) (any, error)
	InsertMany(ctx context.Context, coll string, docs []doc.Document) ([]any, error)
	UpdateOne(ctx context.Context, coll string, filter queryir.Predicate, u queryir.Update) (UpdateResult, error)
	UpdateMany(ctx context.Context, coll string, filter queryir.Predicate, u queryir.Update) (UpdateResult, error)
	DeleteMany(ctx context.Context, coll string, filter queryir.Predicate) (int64, error)
	Count(ctx context.Context, coll string, filter queryir.Predicate) (int64, error)
}

// FindOptions holds the options of a find.
type FindOptions struct {
	// Projection lists the top-level fields to return. "_id" is always
	// returned. Empty means every field.
	Projection []string

	// Limit caps the number of documents returned. Zero means no limit.
	Limit int64
}

// FindOption configures a find.
type FindOption func(*FindOptions)

// WithProjection restricts returned documents to fields (plus "_id").
func WithProjection(fields ...string) FindOption {
	return func(o *FindOptions) { o.Projection = append(o.Projection, fields...) }
}

// WithLimit caps the number of returned documents.
func WithLimit(n int64) FindOption {
	return func(o *FindOptions) { o.Limit = n }
}

// ApplyFindOptions folds opts into a FindOptions value.
func ApplyFindOptions(opts ...FindOption) FindOptions {
	var o FindOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
