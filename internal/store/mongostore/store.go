package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/querybson"
	"github.com/nocozen/nocozenbase/internal/queryir"
	"github.com/nocozen/nocozenbase/internal/store"
)

// Store is a store.Store backed by one MongoDB database.
type Store struct {
	db     *mongo.Database
	client *mongo.Client
	owned  bool
	log    *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New wraps an existing database handle. Close does not disconnect it.
func New(db *mongo.Database, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, client: db.Client(), log: log.Named("mongostore")}
}

// Open connects to uri, verifies the connection and uses database name.
// Close disconnects the client.
func Open(ctx context.Context, uri, name string, log *zap.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := New(client.Database(name), log)
	s.owned = true
	s.log.Info("connected", zap.String("database", name))
	return s, nil
}

// Database returns the underlying database handle.
func (s *Store) Database() *mongo.Database { return s.db }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client when the store opened it.
func (s *Store) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *Store) Find(ctx context.Context, coll string, filter queryir.Predicate, opts ...store.FindOption) ([]doc.Document, error) {
	f, err := querybson.Filter(filter)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", coll, err)
	}
	o := store.ApplyFindOptions(opts...)
	fo := options.Find()
	if len(o.Projection) > 0 {
		proj := bson.D{}
		for _, field := range o.Projection {
			proj = append(proj, bson.E{Key: field, Value: 1})
		}
		fo.SetProjection(proj)
	}
	if o.Limit > 0 {
		fo.SetLimit(o.Limit)
	}

	cur, err := s.db.Collection(coll).Find(ctx, f, fo)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", coll, err)
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", coll, err)
	}
	out := make([]doc.Document, len(raw))
	for i, m := range raw {
		out[i] = querybson.FromBSONDocument(m)
	}
	return out, nil
}

func (s *Store) FindOne(ctx context.Context, coll string, filter queryir.Predicate, opts ...store.FindOption) (doc.Document, error) {
	docs, err := s.Find(ctx, coll, filter, append(opts, store.WithLimit(1))...)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	return docs[0], nil
}

func (s *Store) InsertOne(ctx context.Context, coll string, d doc.Document) (any, error) {
	res, err := s.db.Collection(coll).InsertOne(ctx, querybson.ToBSON(d))
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", coll, translate(err))
	}
	return querybson.FromBSON(res.InsertedID), nil
}

func (s *Store) InsertMany(ctx context.Context, coll string, docs []doc.Document) ([]any, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	items := make([]any, len(docs))
	for i, d := range docs {
		items[i] = querybson.ToBSON(d)
	}
	res, err := s.db.Collection(coll).InsertMany(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", coll, translate(err))
	}
	ids := make([]any, len(res.InsertedIDs))
	for i, id := range res.InsertedIDs {
		ids[i] = querybson.FromBSON(id)
	}
	return ids, nil
}

func (s *Store) UpdateOne(ctx context.Context, coll string, filter queryir.Predicate, u queryir.Update) (store.UpdateResult, error) {
	return s.update(ctx, coll, filter, u, false)
}

func (s *Store) UpdateMany(ctx context.Context, coll string, filter queryir.Predicate, u queryir.Update) (store.UpdateResult, error) {
	return s.update(ctx, coll, filter, u, true)
}

func (s *Store) update(ctx context.Context, coll string, filter queryir.Predicate, u queryir.Update, many bool) (store.UpdateResult, error) {
	f, err := querybson.Filter(filter)
	if err != nil {
		return store.UpdateResult{}, fmt.Errorf("update %s: %w", coll, err)
	}
	cmd, uo, err := querybson.Update(u)
	if err != nil {
		return store.UpdateResult{}, fmt.Errorf("update %s: %w", coll, err)
	}

	c := s.db.Collection(coll)
	var res *mongo.UpdateResult
	if many {
		res, err = c.UpdateMany(ctx, f, cmd, uo)
	} else {
		res, err = c.UpdateOne(ctx, f, cmd, uo)
	}
	if err != nil {
		return store.UpdateResult{}, fmt.Errorf("update %s: %w", coll, translate(err))
	}
	s.log.Debug("updated",
		zap.String("collection", coll),
		zap.Int64("matched", res.MatchedCount),
		zap.Int64("modified", res.ModifiedCount))
	return store.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (s *Store) DeleteMany(ctx context.Context, coll string, filter queryir.Predicate) (int64, error) {
	f, err := querybson.Filter(filter)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", coll, err)
	}
	res, err := s.db.Collection(coll).DeleteMany(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", coll, err)
	}
	return res.DeletedCount, nil
}

func (s *Store) Count(ctx context.Context, coll string, filter queryir.Predicate) (int64, error) {
	f, err := querybson.Filter(filter)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", coll, err)
	}
	n, err := s.db.Collection(coll).CountDocuments(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", coll, err)
	}
	return n, nil
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", store.ErrDuplicateKey, err)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}
