package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mercator-hq/dispatch/pkg/scheduler"
)

func newTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "dispatch.db")

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return db, func() { db.Close() }
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		db, cleanup := newTestDB(t)
		defer cleanup()
		fn(t, db)
	})
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func pendingJob(id string, at time.Time) *scheduler.Job {
	return &scheduler.Job{
		ID:             id,
		ConversationID: "conv-1",
		AgentID:        "agent-1",
		Content:        "hello " + id,
		ContentType:    scheduler.ContentText,
		ScheduledAt:    at,
		Status:         scheduler.StatusPending,
		CreatedAt:      base,
		UpdatedAt:      base,
	}
}

func TestJobs_CreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		want := pendingJob("job-1", base)

		if err := s.CreateJob(ctx, want); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}

		got, err := s.GetJob(ctx, "job-1")
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if got.Content != want.Content || got.Status != scheduler.StatusPending {
			t.Errorf("GetJob() = %+v", got)
		}
		if !got.ScheduledAt.Equal(want.ScheduledAt) {
			t.Errorf("ScheduledAt = %v, want %v", got.ScheduledAt, want.ScheduledAt)
		}

		_, err = s.GetJob(ctx, "missing")
		if !errors.Is(err, scheduler.ErrNotFound) {
			t.Errorf("GetJob(missing) error = %v, want ErrNotFound", err)
		}
	})
}

func TestJobs_ListDue(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		jobs := []*scheduler.Job{
			pendingJob("late", base.Add(-1*time.Minute)),
			pendingJob("early", base.Add(-10*time.Minute)),
			pendingJob("exact", base),
			pendingJob("future", base.Add(time.Second)),
		}
		done := pendingJob("done", base.Add(-time.Hour))
		done.Status = scheduler.StatusSent
		jobs = append(jobs, done)

		for _, j := range jobs {
			if err := s.CreateJob(ctx, j); err != nil {
				t.Fatalf("CreateJob(%s) error = %v", j.ID, err)
			}
		}

		due, err := s.ListDue(ctx, base, 10)
		if err != nil {
			t.Fatalf("ListDue() error = %v", err)
		}
		want := []string{"early", "late", "exact"}
		if len(due) != len(want) {
			t.Fatalf("ListDue() returned %d jobs, want %d", len(due), len(want))
		}
		for i, id := range want {
			if due[i].ID != id {
				t.Errorf("due[%d] = %s, want %s", i, due[i].ID, id)
			}
		}

		limited, err := s.ListDue(ctx, base, 2)
		if err != nil {
			t.Fatalf("ListDue() error = %v", err)
		}
		if len(limited) != 2 || limited[0].ID != "early" {
			t.Errorf("ListDue(limit 2) = %v", limited)
		}
	})
}

func TestJobs_ListJobsFilter(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		a := pendingJob("a", base)
		b := pendingJob("b", base.Add(time.Minute))
		b.AgentID = "agent-2"
		c := pendingJob("c", base.Add(2*time.Minute))
		c.Status = scheduler.StatusFailed
		for _, j := range []*scheduler.Job{a, b, c} {
			if err := s.CreateJob(ctx, j); err != nil {
				t.Fatalf("CreateJob() error = %v", err)
			}
		}

		tests := []struct {
			name   string
			filter scheduler.JobFilter
			want   []string
		}{
			{"all newest first", scheduler.JobFilter{}, []string{"c", "b", "a"}},
			{"by status", scheduler.JobFilter{Status: scheduler.StatusPending}, []string{"b", "a"}},
			{"by agent", scheduler.JobFilter{AgentID: "agent-2"}, []string{"b"}},
			{"limit", scheduler.JobFilter{Limit: 1}, []string{"c"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.ListJobs(ctx, tt.filter)
				if err != nil {
					t.Fatalf("ListJobs() error = %v", err)
				}
				if len(got) != len(tt.want) {
					t.Fatalf("ListJobs() returned %d jobs, want %d", len(got), len(tt.want))
				}
				for i, id := range tt.want {
					if got[i].ID != id {
						t.Errorf("got[%d] = %s, want %s", i, got[i].ID, id)
					}
				}
			})
		}
	})
}

func TestJobs_Transition(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.CreateJob(ctx, pendingJob("job-1", base)); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}

		claim := scheduler.Transition{JobID: "job-1", From: scheduler.StatusPending, To: scheduler.StatusProcessing, At: base}
		if err := s.Transition(ctx, claim); err != nil {
			t.Fatalf("claim error = %v", err)
		}

		// A second claim finds the job already processing.
		err := s.Transition(ctx, claim)
		if !errors.Is(err, scheduler.ErrTransitionConflict) {
			t.Fatalf("second claim error = %v, want ErrTransitionConflict", err)
		}

		sent := scheduler.Transition{
			JobID:         "job-1",
			From:          scheduler.StatusProcessing,
			To:            scheduler.StatusSent,
			SentMessageID: "msg-1",
			At:            base.Add(time.Second),
		}
		if err := s.Transition(ctx, sent); err != nil {
			t.Fatalf("sent transition error = %v", err)
		}

		got, err := s.GetJob(ctx, "job-1")
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if got.Status != scheduler.StatusSent || got.SentMessageID != "msg-1" {
			t.Errorf("job = %+v, want sent with msg-1", got)
		}
		if !got.UpdatedAt.Equal(base.Add(time.Second)) {
			t.Errorf("UpdatedAt = %v", got.UpdatedAt)
		}

		err = s.Transition(ctx, scheduler.Transition{JobID: "job-1", From: scheduler.StatusSent, To: scheduler.StatusPending})
		if !errors.Is(err, scheduler.ErrInvalidTransition) {
			t.Errorf("sent -> pending error = %v, want ErrInvalidTransition", err)
		}

		err = s.Transition(ctx, scheduler.Transition{JobID: "missing", From: scheduler.StatusPending, To: scheduler.StatusProcessing})
		if !errors.Is(err, scheduler.ErrNotFound) {
			t.Errorf("missing job error = %v, want ErrNotFound", err)
		}
	})
}

func TestJobs_ConcurrentClaims(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.CreateJob(ctx, pendingJob("job-1", base)); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}

		const workers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Transition(ctx, scheduler.Transition{
					JobID: "job-1", From: scheduler.StatusPending, To: scheduler.StatusProcessing,
				})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				} else if !errors.Is(err, scheduler.ErrTransitionConflict) {
					t.Errorf("Transition() error = %v", err)
				}
			}()
		}
		wg.Wait()

		if wins != 1 {
			t.Errorf("claims won = %d, want 1", wins)
		}
	})
}

func TestConversations(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		conv := &scheduler.Conversation{ID: "conv-1", Platform: "telegram", ExternalID: "chat-42"}
		if err := s.CreateConversation(ctx, conv); err != nil {
			t.Fatalf("CreateConversation() error = %v", err)
		}

		got, err := s.GetConversation(ctx, "conv-1")
		if err != nil {
			t.Fatalf("GetConversation() error = %v", err)
		}
		if got.Platform != "telegram" || got.ExternalID != "chat-42" {
			t.Errorf("GetConversation() = %+v", got)
		}
		if !got.LastActivityAt.IsZero() {
			t.Errorf("LastActivityAt = %v, want zero", got.LastActivityAt)
		}

		msg := &scheduler.Message{
			ID:             "msg-1",
			ConversationID: "conv-1",
			AgentID:        "agent-1",
			Content:        "hi",
			ContentType:    scheduler.ContentText,
			ExternalID:     "ext-9",
			CreatedAt:      base,
		}
		if err := s.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("InsertMessage() error = %v", err)
		}
		if err := s.InsertMessage(ctx, msg); err == nil {
			t.Error("InsertMessage() with duplicate ID should fail")
		}
		if err := s.TouchConversation(ctx, "conv-1", base); err != nil {
			t.Fatalf("TouchConversation() error = %v", err)
		}

		got, _ = s.GetConversation(ctx, "conv-1")
		if !got.LastActivityAt.Equal(base) {
			t.Errorf("LastActivityAt = %v, want %v", got.LastActivityAt, base)
		}

		messages, err := s.ListMessages(ctx, "conv-1", 0)
		if err != nil {
			t.Fatalf("ListMessages() error = %v", err)
		}
		if len(messages) != 1 || messages[0].ExternalID != "ext-9" {
			t.Errorf("ListMessages() = %v", messages)
		}

		if _, err := s.GetConversation(ctx, "missing"); !errors.Is(err, scheduler.ErrNotFound) {
			t.Errorf("GetConversation(missing) error = %v, want ErrNotFound", err)
		}
		if err := s.TouchConversation(ctx, "missing", base); !errors.Is(err, scheduler.ErrNotFound) {
			t.Errorf("TouchConversation(missing) error = %v, want ErrNotFound", err)
		}
	})
}

func TestDirectory(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		if err := s.CreateAgent(ctx, &scheduler.Agent{ID: "agent-1", OwnerID: "owner-1", Name: "Ada"}); err != nil {
			t.Fatalf("CreateAgent() error = %v", err)
		}
		agent, err := s.GetAgent(ctx, "agent-1")
		if err != nil {
			t.Fatalf("GetAgent() error = %v", err)
		}
		if agent.LimitIdentity() != "owner-1" {
			t.Errorf("LimitIdentity() = %q, want owner-1", agent.LimitIdentity())
		}

		account := &scheduler.PlatformAccount{ID: "pa-1", AgentID: "agent-1", Platform: "telegram", Handle: "@ada"}
		if err := s.CreatePlatformAccount(ctx, account); err != nil {
			t.Fatalf("CreatePlatformAccount() error = %v", err)
		}
		got, err := s.GetPlatformAccount(ctx, "agent-1", "telegram")
		if err != nil {
			t.Fatalf("GetPlatformAccount() error = %v", err)
		}
		if got.Handle != "@ada" {
			t.Errorf("Handle = %q, want @ada", got.Handle)
		}

		_, err = s.GetPlatformAccount(ctx, "agent-1", "whatsapp")
		if !errors.Is(err, scheduler.ErrNotFound) {
			t.Errorf("GetPlatformAccount(whatsapp) error = %v, want ErrNotFound", err)
		}
		if _, err := s.GetAgent(ctx, "missing"); !errors.Is(err, scheduler.ErrNotFound) {
			t.Errorf("GetAgent(missing) error = %v, want ErrNotFound", err)
		}
	})
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open() with empty path should fail")
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dispatch.db")
	cfg := DefaultConfig()
	cfg.Path = path

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.CreateJob(context.Background(), pendingJob("job-1", base)); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	db.Close()

	db, err = Open(cfg)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close()

	if _, err := db.GetJob(context.Background(), "job-1"); err != nil {
		t.Errorf("GetJob() after reopen error = %v", err)
	}
}
