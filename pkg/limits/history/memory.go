package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in memory. Used in tests and when no history
// path is configured.
type MemoryStore struct {
	records []*Record
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Insert implements Store.
func (m *MemoryStore) Insert(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.records {
		if existing.ID == r.ID {
			return NewStorageError("memory", "insert", errDuplicateID(r.ID))
		}
	}
	cp := *r
	m.records = append(m.records, &cp)
	return nil
}

// Query implements Store.
func (m *MemoryStore) Query(ctx context.Context, q *Query) ([]*Record, error) {
	if q == nil {
		q = &Query{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*Record{}
	for _, r := range m.records {
		if matches(r, q) {
			cp := *r
			out = append(out, &cp)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].PeriodStart.Equal(out[j].PeriodStart) {
			return out[i].PeriodStart.After(out[j].PeriodStart)
		}
		return out[i].ID < out[j].ID
	})

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteBefore implements Store.
func (m *MemoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	var deleted int64
	for _, r := range m.records {
		if r.PeriodEnd.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return deleted, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

// Size returns the number of stored records.
func (m *MemoryStore) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func matches(r *Record, q *Query) bool {
	if q.Identity != "" && r.Identity != q.Identity {
		return false
	}
	if q.Tier != "" && r.Tier != q.Tier {
		return false
	}
	if q.PeriodType != "" && r.PeriodType != q.PeriodType {
		return false
	}
	if q.StartTime != nil && r.PeriodStart.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && r.PeriodStart.After(*q.EndTime) {
		return false
	}
	return true
}

type errDuplicateID string

func (e errDuplicateID) Error() string {
	return "duplicate record id " + string(e)
}
