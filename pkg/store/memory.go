package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mercator-hq/dispatch/pkg/scheduler"
)

// Memory is an in-memory store with the same semantics as DB. It is meant
// for tests and dry runs.
type Memory struct {
	mu            sync.RWMutex
	jobs          map[string]*scheduler.Job
	conversations map[string]*scheduler.Conversation
	messages      map[string][]*scheduler.Message
	messageIDs    map[string]struct{}
	agents        map[string]*scheduler.Agent
	accounts      map[string]*scheduler.PlatformAccount
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:          make(map[string]*scheduler.Job),
		conversations: make(map[string]*scheduler.Conversation),
		messages:      make(map[string][]*scheduler.Message),
		messageIDs:    make(map[string]struct{}),
		agents:        make(map[string]*scheduler.Agent),
		accounts:      make(map[string]*scheduler.PlatformAccount),
	}
}

func accountKey(agentID string, platform scheduler.Platform) string {
	return agentID + "/" + string(platform)
}

// CreateJob implements scheduler.JobStore.
func (m *Memory) CreateJob(ctx context.Context, job *scheduler.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

// GetJob implements scheduler.JobStore.
func (m *Memory) GetJob(ctx context.Context, id string) (*scheduler.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", scheduler.ErrNotFound, id)
	}
	cp := *job
	return &cp, nil
}

// ListDue implements scheduler.JobStore.
func (m *Memory) ListDue(ctx context.Context, now time.Time, limit int) ([]*scheduler.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	due := []*scheduler.Job{}
	for _, job := range m.jobs {
		if job.Due(now) {
			cp := *job
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(due[j].ScheduledAt)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ListJobs implements scheduler.JobStore.
func (m *Memory) ListJobs(ctx context.Context, filter scheduler.JobFilter) ([]*scheduler.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*scheduler.Job{}
	for _, job := range m.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.ConversationID != "" && job.ConversationID != filter.ConversationID {
			continue
		}
		if filter.AgentID != "" && job.AgentID != filter.AgentID {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.After(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = scheduler.DefaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Transition implements scheduler.JobStore.
func (m *Memory) Transition(ctx context.Context, t scheduler.Transition) error {
	if err := t.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[t.JobID]
	if !ok {
		return fmt.Errorf("%w: job %s", scheduler.ErrNotFound, t.JobID)
	}
	if job.Status != t.From {
		return fmt.Errorf("%w: job %s is not %s", scheduler.ErrTransitionConflict, t.JobID, t.From)
	}

	job.Status = t.To
	if t.SentMessageID != "" {
		job.SentMessageID = t.SentMessageID
	}
	if t.ErrorMessage != "" {
		job.ErrorMessage = t.ErrorMessage
	}
	if t.At.IsZero() {
		job.UpdatedAt = time.Now()
	} else {
		job.UpdatedAt = t.At
	}
	return nil
}

// CreateConversation stores conv, replacing any existing one.
func (m *Memory) CreateConversation(ctx context.Context, conv *scheduler.Conversation) error {
	if conv.ID == "" {
		return fmt.Errorf("conversation id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *conv
	m.conversations[conv.ID] = &cp
	return nil
}

// GetConversation implements scheduler.ConversationStore.
func (m *Memory) GetConversation(ctx context.Context, id string) (*scheduler.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: conversation %s", scheduler.ErrNotFound, id)
	}
	cp := *conv
	return &cp, nil
}

// InsertMessage implements scheduler.ConversationStore.
func (m *Memory) InsertMessage(ctx context.Context, msg *scheduler.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("message id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.messageIDs[msg.ID]; ok {
		return fmt.Errorf("message %s already exists", msg.ID)
	}
	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return fmt.Errorf("%w: conversation %s", scheduler.ErrNotFound, msg.ConversationID)
	}
	cp := *msg
	m.messageIDs[msg.ID] = struct{}{}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &cp)
	return nil
}

// TouchConversation implements scheduler.ConversationStore.
func (m *Memory) TouchConversation(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return fmt.Errorf("%w: conversation %s", scheduler.ErrNotFound, id)
	}
	conv.LastActivityAt = at
	return nil
}

// ListMessages returns up to limit messages of a conversation, oldest first.
func (m *Memory) ListMessages(ctx context.Context, conversationID string, limit int) ([]*scheduler.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = scheduler.DefaultListLimit
	}
	out := []*scheduler.Message{}
	for _, msg := range m.messages[conversationID] {
		if len(out) == limit {
			break
		}
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}

// CreateAgent stores agent, replacing any existing one.
func (m *Memory) CreateAgent(ctx context.Context, agent *scheduler.Agent) error {
	if agent.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *agent
	m.agents[agent.ID] = &cp
	return nil
}

// GetAgent implements scheduler.Directory.
func (m *Memory) GetAgent(ctx context.Context, id string) (*scheduler.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: agent %s", scheduler.ErrNotFound, id)
	}
	cp := *agent
	return &cp, nil
}

// CreatePlatformAccount stores account, replacing the agent's existing
// account on the same platform.
func (m *Memory) CreatePlatformAccount(ctx context.Context, account *scheduler.PlatformAccount) error {
	if account.ID == "" || account.AgentID == "" || account.Platform == "" {
		return fmt.Errorf("platform account id, agent id and platform are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *account
	m.accounts[accountKey(account.AgentID, account.Platform)] = &cp
	return nil
}

// GetPlatformAccount implements scheduler.Directory.
func (m *Memory) GetPlatformAccount(ctx context.Context, agentID string, platform scheduler.Platform) (*scheduler.PlatformAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[accountKey(agentID, platform)]
	if !ok {
		return nil, fmt.Errorf("%w: platform account for agent %s on %s", scheduler.ErrNotFound, agentID, platform)
	}
	cp := *account
	return &cp, nil
}

// Close implements io.Closer.
func (m *Memory) Close() error {
	return nil
}
