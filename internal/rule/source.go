package rule

import (
	"context"
	"sync"
)

// Source looks up the sync rules configured for a source collection, in
// configuration order.
type Source interface {
	SyncRules(ctx context.Context, collection string) ([]SyncRule, error)
}

// StaticSource is an in-memory Source.
type StaticSource struct {
	mu    sync.RWMutex
	rules map[string][]SyncRule
}

// NewStaticSource returns a source holding rules, grouped by source
// collection.
func NewStaticSource(rules ...SyncRule) *StaticSource {
	s := &StaticSource{rules: make(map[string][]SyncRule)}
	s.Add(rules...)
	return s
}

// Add appends rules after the ones already held for their collections.
func (s *StaticSource) Add(rules ...SyncRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rules {
		s.rules[r.SourceCollection] = append(s.rules[r.SourceCollection], r)
	}
}

// SyncRules implements Source.
func (s *StaticSource) SyncRules(_ context.Context, collection string) ([]SyncRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SyncRule, len(s.rules[collection]))
	copy(out, s.rules[collection])
	return out, nil
}

// Collections returns the number of collections with rules.
func (s *StaticSource) Collections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}
