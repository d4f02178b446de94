package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryBackend implements Backend using in-memory storage.
// It provides fast access with no persistence and is meant for tests and
// single-process deployments that accept losing counters on restart.
//
// MemoryBackend is thread-safe; Update holds the write lock for the whole
// get-or-insert, mutate and store sequence.
type MemoryBackend struct {
	counters map[string]*UsageCounter
	mu       sync.RWMutex
	now      func() time.Time
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		counters: make(map[string]*UsageCounter),
		now:      time.Now,
	}
}

// Update implements Backend.
func (m *MemoryBackend) Update(ctx context.Context, identity string, seed *UsageCounter, fn func(*UsageCounter) error) (*UsageCounter, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	current, ok := m.counters[identity]
	if !ok {
		if seed == nil {
			return nil, fmt.Errorf("no counter for %q and no seed given", identity)
		}
		current = seed.Clone()
		current.Identity = identity
		if current.CreatedAt.IsZero() {
			current.CreatedAt = now
		}
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.Identity = identity
	working.UpdatedAt = now

	m.counters[identity] = working
	return working.Clone(), nil
}

// Load implements Backend.
func (m *MemoryBackend) Load(ctx context.Context, identity string) (*UsageCounter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.counters[identity]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// List implements Backend.
func (m *MemoryBackend) List(ctx context.Context) ([]*UsageCounter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*UsageCounter, 0, len(m.counters))
	for _, c := range m.counters {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(ctx context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.counters, identity)
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	return nil
}
