package infra

import (
	"context"
	"sync"
	"time"

	"cache-ratelimit/middleware/ratelimit/domain"
)

// MemoryBucketStore guarda buckets no processo, com limpeza periódica de
// chaves inativas. Serve para uma única instância (dev, testes, exemplo);
// com várias réplicas use RedisBucketStore.
type MemoryBucketStore struct {
	mu           sync.Mutex
	entries      map[domain.Key]*storeEntry
	idleTTL      time.Duration
	cleanupEvery time.Duration
	clock        func() time.Time
}

type storeEntry struct {
	state     domain.BucketState
	lastSeen  time.Time
	reclaimAt time.Time
}

type StoreOption func(*MemoryBucketStore)

func WithIdleTTL(d time.Duration) StoreOption {
	return func(s *MemoryBucketStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *MemoryBucketStore) { s.cleanupEvery = d }
}

// WithStoreClock troca o relógio usado pela limpeza (testes).
func WithStoreClock(clock func() time.Time) StoreOption {
	return func(s *MemoryBucketStore) { s.clock = clock }
}

func NewMemoryBucketStore(opts ...StoreOption) *MemoryBucketStore {
	s := &MemoryBucketStore{
		entries:      make(map[domain.Key]*storeEntry),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryBucketStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// AtomicUpdate implementa domain.BucketStore.
func (s *MemoryBucketStore) AtomicUpdate(ctx context.Context, key domain.Key, cfg domain.BucketConfig, now time.Time) (domain.AdmissionProbe, error) {
	if err := ctx.Err(); err != nil {
		return domain.AdmissionProbe{}, err
	}
	if err := cfg.Validate(); err != nil {
		return domain.AdmissionProbe{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		ent = &storeEntry{state: domain.NewBucketState(key, cfg, now)}
		s.entries[key] = ent
	}

	next, probe := domain.Admit(ent.state, cfg, now)
	ent.state = next
	ent.lastSeen = s.clock()
	ent.reclaimAt = ent.lastSeen.Add(max(s.idleTTL, cfg.FillTime()))
	return probe, nil
}

// State devolve uma cópia do estado atual da chave.
func (s *MemoryBucketStore) State(key domain.Key) (domain.BucketState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		return domain.BucketState{}, false
	}
	return ent.state, true
}

func (s *MemoryBucketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup remove as chaves cujo prazo já venceu: o maior entre o idle TTL e
// o tempo que o bucket leva para encher.
func (s *MemoryBucketStore) Cleanup() {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if now.After(ent.reclaimAt) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryBucketStore) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context sem acoplar
// o janitor ao resto da API de context.
type DoneContext interface {
	Done() <-chan struct{}
}

var _ domain.BucketStore = (*MemoryBucketStore)(nil)
