package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// newTestSQLiteBackend creates a SQLite backend in a temporary directory.
func newTestSQLiteBackend(t *testing.T) (*SQLiteBackend, func()) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "usage.db")
	backend, err := NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}

	return backend, func() { backend.Close() }
}

// forEachBackend runs fn against every Backend implementation.
func forEachBackend(t *testing.T, fn func(t *testing.T, backend Backend)) {
	t.Run("memory", func(t *testing.T) {
		backend := NewMemoryBackend()
		defer backend.Close()
		fn(t, backend)
	})
	t.Run("sqlite", func(t *testing.T) {
		backend, cleanup := newTestSQLiteBackend(t)
		defer cleanup()
		fn(t, backend)
	})
}

func testSeed(now time.Time) *UsageCounter {
	return &UsageCounter{
		Tier:   "free",
		Minute: WindowCounter{ResetAt: now.Add(time.Minute)},
		Hour:   WindowCounter{ResetAt: now.Add(time.Hour)},
		Day:    WindowCounter{ResetAt: now.Add(24 * time.Hour)},
		Month:  CostCounter{ResetAt: now.Add(30 * 24 * time.Hour)},
	}
}

func TestBackend_UpdateInsertsSeed(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		now := time.Unix(1700000000, 0)

		counter, err := backend.Update(ctx, "owner-1", testSeed(now), func(c *UsageCounter) error {
			c.Minute.Count++
			c.Month.Cost += 0.25
			return nil
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		if counter.Identity != "owner-1" {
			t.Errorf("Expected identity owner-1, got %s", counter.Identity)
		}
		if counter.Tier != "free" {
			t.Errorf("Expected tier free, got %s", counter.Tier)
		}
		if counter.Minute.Count != 1 {
			t.Errorf("Expected minute count 1, got %d", counter.Minute.Count)
		}
		if counter.Month.Cost != 0.25 {
			t.Errorf("Expected month cost 0.25, got %f", counter.Month.Cost)
		}
		if !counter.Minute.ResetAt.Equal(now.Add(time.Minute)) {
			t.Errorf("Expected minute reset %v, got %v", now.Add(time.Minute), counter.Minute.ResetAt)
		}

		loaded, err := backend.Load(ctx, "owner-1")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded.Minute.Count != 1 {
			t.Errorf("Expected persisted minute count 1, got %d", loaded.Minute.Count)
		}
		if !loaded.Month.ResetAt.Equal(counter.Month.ResetAt) {
			t.Errorf("Expected month reset %v, got %v", counter.Month.ResetAt, loaded.Month.ResetAt)
		}
	})
}

func TestBackend_UpdateIgnoresSeedForExisting(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		now := time.Unix(1700000000, 0)

		inc := func(c *UsageCounter) error {
			c.Hour.Count++
			return nil
		}
		if _, err := backend.Update(ctx, "owner-1", testSeed(now), inc); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		other := testSeed(now.Add(time.Hour))
		other.Tier = "pro"
		counter, err := backend.Update(ctx, "owner-1", other, inc)
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		if counter.Tier != "free" {
			t.Errorf("Expected seed to be ignored, got tier %s", counter.Tier)
		}
		if counter.Hour.Count != 2 {
			t.Errorf("Expected hour count 2, got %d", counter.Hour.Count)
		}
	})
}

func TestBackend_UpdateWithoutSeed(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		_, err := backend.Update(context.Background(), "ghost", nil, func(*UsageCounter) error { return nil })
		if err == nil {
			t.Fatal("Expected error for unknown identity without seed")
		}
	})
}

func TestBackend_UpdateMutationError(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		now := time.Unix(1700000000, 0)
		boom := errors.New("boom")

		if _, err := backend.Update(ctx, "owner-1", testSeed(now), func(c *UsageCounter) error {
			c.Day.Count = 5
			return nil
		}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		_, err := backend.Update(ctx, "owner-1", nil, func(c *UsageCounter) error {
			c.Day.Count = 99
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Expected mutation error, got %v", err)
		}

		loaded, err := backend.Load(ctx, "owner-1")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded.Day.Count != 5 {
			t.Errorf("Expected failed mutation to be discarded, got day count %d", loaded.Day.Count)
		}
	})
}

func TestBackend_LoadNonExistent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		_, err := backend.Load(context.Background(), "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestBackend_ListAndDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		now := time.Unix(1700000000, 0)
		noop := func(*UsageCounter) error { return nil }

		for _, id := range []string{"charlie", "alpha", "bravo"} {
			if _, err := backend.Update(ctx, id, testSeed(now), noop); err != nil {
				t.Fatalf("Update %s failed: %v", id, err)
			}
		}

		list, err := backend.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("Expected 3 counters, got %d", len(list))
		}
		want := []string{"alpha", "bravo", "charlie"}
		for i, c := range list {
			if c.Identity != want[i] {
				t.Errorf("List[%d]: expected %s, got %s", i, want[i], c.Identity)
			}
		}

		if err := backend.Delete(ctx, "bravo"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := backend.Load(ctx, "bravo"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
	})
}

func TestBackend_ConcurrentUpdates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		now := time.Unix(1700000000, 0)

		const workers = 10
		const perWorker = 20

		var wg sync.WaitGroup
		errs := make(chan error, workers*perWorker)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perWorker; j++ {
					_, err := backend.Update(ctx, "shared", testSeed(now), func(c *UsageCounter) error {
						c.Minute.Count++
						return nil
					})
					if err != nil {
						errs <- err
					}
				}
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Fatalf("Concurrent update failed: %v", err)
		}

		loaded, err := backend.Load(ctx, "shared")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded.Minute.Count != workers*perWorker {
			t.Errorf("Expected %d increments, got %d", workers*perWorker, loaded.Minute.Count)
		}
	})
}

func TestSQLiteBackend_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "usage.db")
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	backend, err := NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	if _, err := backend.Update(ctx, "owner-1", testSeed(now), func(c *UsageCounter) error {
		c.Month.Cost = 1.5
		return nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen backend: %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.Load(ctx, "owner-1")
	if err != nil {
		t.Fatalf("Load after reopen failed: %v", err)
	}
	if loaded.Month.Cost != 1.5 {
		t.Errorf("Expected month cost 1.5 after reopen, got %f", loaded.Month.Cost)
	}
}

func TestSQLiteBackend_CloseIdempotent(t *testing.T) {
	backend, _ := newTestSQLiteBackend(t)
	if err := backend.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}
