package infra

import (
	"context"
	"maps"
	"sync"

	"cache-ratelimit/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed int64
	Denied  int64
}

// MemoryStatsStore conta decisões em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu          sync.Mutex
	total       Counters
	byOperation map[string]Counters
	byRoute     map[string]Counters
	byKey       map[string]Counters

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byOperation: make(map[string]Counters),
		byRoute:     make(map[string]Counters),
		byKey:       make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bump(&s.total, ev.Allowed)
	incr(s.byOperation, ev.Operation, ev.Allowed)
	if ev.Method != "" || ev.Path != "" {
		incr(s.byRoute, ev.Method+" "+ev.Path, ev.Allowed)
	}
	if s.trackKeys {
		incr(s.byKey, string(ev.Key), ev.Allowed)
	}
	return nil
}

func bump(c *Counters, allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}

func incr(m map[string]Counters, k string, allowed bool) {
	c := m[k]
	bump(&c, allowed)
	m[k] = c
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByOperation() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byOperation)
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byRoute)
}

func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byKey)
}
