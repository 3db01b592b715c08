package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/queryir"
)

// Memory is an in-memory Store. Documents are cloned on the way in and out,
// so callers never share state with the store.
type Memory struct {
	mu     sync.Mutex
	colls  map[string][]doc.Document
	nextID int
	faults map[string]error
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		colls:  make(map[string][]doc.Document),
		faults: make(map[string]error),
	}
}

// Seed inserts docs into coll, assigning ids where missing.
func (m *Memory) Seed(coll string, docs ...doc.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		_, _ = m.insertLocked(coll, d)
	}
}

// All returns a copy of every document in coll.
func (m *Memory) All(coll string) []doc.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]doc.Document, len(m.colls[coll]))
	for i, d := range m.colls[coll] {
		out[i] = d.Clone()
	}
	return out
}

// Collections returns the names of collections holding at least one document.
func (m *Memory) Collections() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name, docs := range m.colls {
		if len(docs) > 0 {
			out = append(out, name)
		}
	}
	return out
}

// Fail makes every subsequent operation on coll return err. A nil err clears
// the fault.
func (m *Memory) Fail(coll string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, coll)
		return
	}
	m.faults[coll] = err
}

func (m *Memory) fault(coll string) error {
	if err, ok := m.faults[coll]; ok {
		return fmt.Errorf("%s: %w", coll, err)
	}
	return nil
}

func (m *Memory) matching(coll string, filter queryir.Predicate) ([]int, error) {
	if filter != nil {
		if err := queryir.Validate(filter); err != nil {
			return nil, err
		}
	}
	var idx []int
	for i, d := range m.colls[coll] {
		if filter == nil || queryir.Match(filter, d) {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

func (m *Memory) Find(ctx context.Context, coll string, filter queryir.Predicate, opts ...FindOption) ([]doc.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(coll); err != nil {
		return nil, err
	}

	o := ApplyFindOptions(opts...)
	idx, err := m.matching(coll, filter)
	if err != nil {
		return nil, err
	}
	if o.Limit > 0 && int64(len(idx)) > o.Limit {
		idx = idx[:o.Limit]
	}
	out := make([]doc.Document, 0, len(idx))
	for _, i := range idx {
		out = append(out, project(m.colls[coll][i], o.Projection))
	}
	return out, nil
}

func project(d doc.Document, fields []string) doc.Document {
	if len(fields) == 0 {
		return d.Clone()
	}
	out := doc.Document{}
	if id, ok := d["_id"]; ok {
		out["_id"] = id
	}
	for _, f := range fields {
		if v, ok := d[f]; ok {
			out[f] = v
		}
	}
	return out.Clone()
}

func (m *Memory) FindOne(ctx context.Context, coll string, filter queryir.Predicate, opts ...FindOption) (doc.Document, error) {
	docs, err := m.Find(ctx, coll, filter, append(opts, WithLimit(1))...)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

func (m *Memory) InsertOne(ctx context.Context, coll string, d doc.Document) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(coll); err != nil {
		return nil, err
	}
	return m.insertLocked(coll, d)
}

func (m *Memory) insertLocked(coll string, d doc.Document) (any, error) {
	d = d.Clone()
	if d == nil {
		d = doc.Document{}
	}
	id := d.ID()
	if id == nil {
		m.nextID++
		id = fmt.Sprintf("mem-%06d", m.nextID)
		d["_id"] = id
	}
	for _, existing := range m.colls[coll] {
		if doc.Equal(existing.ID(), id) {
			return nil, fmt.Errorf("insert %s %v: %w", coll, id, ErrDuplicateKey)
		}
	}
	m.colls[coll] = append(m.colls[coll], d)
	return id, nil
}

func (m *Memory) InsertMany(ctx context.Context, coll string, docs []doc.Document) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(coll); err != nil {
		return nil, err
	}
	ids := make([]any, 0, len(docs))
	for _, d := range docs {
		id, err := m.insertLocked(coll, d)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Memory) UpdateOne(ctx context.Context, coll string, filter queryir.Predicate, u queryir.Update) (UpdateResult, error) {
	return m.update(ctx, coll, filter, u, 1)
}

func (m *Memory) UpdateMany(ctx context.Context, coll string, filter queryir.Predicate, u queryir.Update) (UpdateResult, error) {
	return m.update(ctx, coll, filter, u, 0)
}

func (m *Memory) update(ctx context.Context, coll string, filter queryir.Predicate, u queryir.Update, limit int) (UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return UpdateResult{}, err
	}
	if err := queryir.ValidateUpdate(u); err != nil {
		return UpdateResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(coll); err != nil {
		return UpdateResult{}, err
	}

	idx, err := m.matching(coll, filter)
	if err != nil {
		return UpdateResult{}, err
	}
	if limit > 0 && len(idx) > limit {
		idx = idx[:limit]
	}

	var res UpdateResult
	for _, i := range idx {
		// Apply to a copy so a failing update leaves the document untouched.
		next := m.colls[coll][i].Clone()
		changed, err := queryir.Apply(next, u)
		if err != nil {
			return res, fmt.Errorf("update %s %v: %w", coll, next.ID(), err)
		}
		res.Matched++
		if changed {
			m.colls[coll][i] = next
			res.Modified++
		}
	}
	return res, nil
}

func (m *Memory) DeleteMany(ctx context.Context, coll string, filter queryir.Predicate) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(coll); err != nil {
		return 0, err
	}

	idx, err := m.matching(coll, filter)
	if err != nil {
		return 0, err
	}
	if len(idx) == 0 {
		return 0, nil
	}
	drop := make(map[int]bool, len(idx))
	for _, i := range idx {
		drop[i] = true
	}
	kept := m.colls[coll][:0:0]
	for i, d := range m.colls[coll] {
		if !drop[i] {
			kept = append(kept, d)
		}
	}
	m.colls[coll] = kept
	return int64(len(idx)), nil
}

func (m *Memory) Count(ctx context.Context, coll string, filter queryir.Predicate) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(coll); err != nil {
		return 0, err
	}
	idx, err := m.matching(coll, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(idx)), nil
}
