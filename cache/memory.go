package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend guarda entradas no processo. Expiração passiva: uma entrada
// vencida só some quando é lida ou sobrescrita.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && !b.now().Before(e.expiresAt) {
		delete(b.entries, key)
		return nil, ErrMiss
	}
	return e.value, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = b.now().Add(ttl)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = memoryEntry{value: value, expiresAt: exp}
	return nil
}
