package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Load when no counter exists for an identity.
var ErrNotFound = errors.New("usage counter not found")

// Backend defines the interface for usage counter persistence.
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// Update atomically loads the counter for identity, inserting seed first
	// if no counter exists, applies fn, and persists the result. The get-or-insert,
	// the mutation and the write happen as one unit: concurrent Updates on the
	// same identity never observe each other's intermediate state.
	//
	// If fn returns an error nothing is written and the error is returned
	// unchanged. The returned counter is a copy of what was persisted.
	Update(ctx context.Context, identity string, seed *UsageCounter, fn func(*UsageCounter) error) (*UsageCounter, error)

	// Load retrieves the counter for identity without modifying it.
	// Returns ErrNotFound if no counter exists.
	Load(ctx context.Context, identity string) (*UsageCounter, error)

	// List returns every counter ordered by identity.
	List(ctx context.Context) ([]*UsageCounter, error)

	// Delete removes the counter for identity. No-op if it doesn't exist.
	Delete(ctx context.Context, identity string) error

	// Close releases any resources held by the backend.
	Close() error
}

// WindowCounter is a request count with the moment it next rolls over.
type WindowCounter struct {
	Count   int64
	ResetAt time.Time
}

// CostCounter is an accumulated cost with the moment it next rolls over.
type CostCounter struct {
	Cost    float64
	ResetAt time.Time
}

// UsageCounter is the persisted per-identity counter row.
type UsageCounter struct {
	// Identity is the rate limited identity.
	Identity string

	// Tier is the catalog tier name currently assigned.
	Tier string

	Minute WindowCounter
	Hour   WindowCounter
	Day    WindowCounter
	Month  CostCounter

	// UpdatedAt is when this counter was last written.
	UpdatedAt time.Time

	// CreatedAt is when this counter was first inserted.
	CreatedAt time.Time
}

// Clone returns a copy of c.
func (c *UsageCounter) Clone() *UsageCounter {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
