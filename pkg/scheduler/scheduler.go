package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"mercator-hq/dispatch/pkg/limits"
	"mercator-hq/dispatch/pkg/telemetry/logging"
)

const (
	// DefaultBatchSize is the maximum number of due jobs taken per poll.
	DefaultBatchSize = 10

	// DefaultInterval is the time between ticks.
	DefaultInterval = 30 * time.Second

	// DefaultListLimit caps Jobs when the filter sets no limit.
	DefaultListLimit = 100
)

// Deps are the collaborators a Scheduler needs. Notifier is optional.
type Deps struct {
	Jobs          JobStore
	Conversations ConversationStore
	Directory     Directory
	Channels      ChannelResolver
	Limiter       RateLimiter
	Notifier      Notifier
}

func (d Deps) validate() error {
	switch {
	case d.Jobs == nil:
		return fmt.Errorf("scheduler: job store is required")
	case d.Conversations == nil:
		return fmt.Errorf("scheduler: conversation store is required")
	case d.Directory == nil:
		return fmt.Errorf("scheduler: directory is required")
	case d.Channels == nil:
		return fmt.Errorf("scheduler: channel resolver is required")
	case d.Limiter == nil:
		return fmt.Errorf("scheduler: rate limiter is required")
	}
	return nil
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBatchSize sets the number of due jobs taken per poll.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithInterval sets the tick interval. The ticker's resolution is one
// second; shorter intervals are rounded up to it.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithCostPerMessage sets the cost charged to the monthly budget for each
// delivered message. New rejects negative or non-finite costs.
func WithCostPerMessage(cost float64) Option {
	return func(s *Scheduler) { s.costPerMessage = cost }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// PollResult summarizes one poll cycle.
type PollResult struct {
	// Skipped is true when another cycle was still running.
	Skipped bool

	// Selected is the number of due jobs taken.
	Selected int

	Sent   int
	Failed int

	// Conflicts counts jobs another writer moved out of pending first.
	Conflicts int

	// Aborted is true when a store failure ended the batch early.
	Aborted bool
}

// Scheduler delivers due jobs. Poll may be driven by the built-in ticker
// (Start/Stop) or called directly.
type Scheduler struct {
	deps           Deps
	batchSize      int
	interval       time.Duration
	costPerMessage float64
	now            func() time.Time
	logger         *slog.Logger
	metrics        *Metrics

	// polling is the single-flight guard. A Poll that finds it set returns
	// immediately without touching any job.
	polling atomic.Bool

	lifecycle sync.Mutex
	running   atomic.Bool
	cron      *cron.Cron
	stopCh    chan struct{}
	inflight  sync.WaitGroup
}

// New creates a scheduler.
func New(deps Deps, opts ...Option) (*Scheduler, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		deps:      deps,
		batchSize: DefaultBatchSize,
		interval:  DefaultInterval,
		now:       time.Now,
		logger:    slog.Default().With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if c := s.costPerMessage; c < 0 || math.IsNaN(c) || math.IsInf(c, 0) {
		return nil, &ConfigurationError{
			Field:  "cost_per_message",
			Value:  fmt.Sprint(c),
			Reason: "must be a finite, non-negative amount",
		}
	}
	return s, nil
}

// Schedule validates req and stores it as a pending job.
func (s *Scheduler) Schedule(ctx context.Context, req ScheduleRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	job := &Job{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		AgentID:        req.AgentID,
		Content:        req.Content,
		ContentType:    req.ContentType,
		ScheduledAt:    req.ScheduledAt,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.deps.Jobs.CreateJob(ctx, job); err != nil {
		return nil, newStoreError("create_job", job.ID, err)
	}

	s.logger.Info("job scheduled",
		"job_id", job.ID,
		"conversation_id", job.ConversationID,
		"scheduled_at", job.ScheduledAt,
	)
	return job, nil
}

// Jobs lists jobs. Failed jobs and jobs left in processing by an aborted
// batch are only ever surfaced here; nothing retries them.
func (s *Scheduler) Jobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &ConfigurationError{Field: "status", Value: string(filter.Status), Reason: "unknown job status"}
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}

	jobs, err := s.deps.Jobs.ListJobs(ctx, filter)
	if err != nil {
		return nil, newStoreError("list_jobs", "", err)
	}
	return jobs, nil
}

// Poll runs one cycle: it takes up to the batch size of due jobs, oldest
// first, and delivers them one at a time. If another cycle is in progress
// Poll returns at once with Skipped set.
//
// A job that cannot be delivered is marked failed and the batch continues.
// A store failure ends the batch and is returned as a *StoreError; jobs
// already moved to processing stay there.
func (s *Scheduler) Poll(ctx context.Context) (*PollResult, error) {
	if !s.polling.CompareAndSwap(false, true) {
		s.logger.Debug("poll skipped, previous cycle still running")
		s.metrics.recordPoll("skipped", 0, 0)
		return &PollResult{Skipped: true}, nil
	}
	defer s.polling.Store(false)

	start := time.Now()
	ctx = logging.WithPollID(ctx, uuid.New().String()[:8])
	logger := logging.FromContext(ctx, s.logger)
	result := &PollResult{}

	jobs, err := s.deps.Jobs.ListDue(ctx, s.now(), s.batchSize)
	if err != nil {
		storeErr := newStoreError("list_due", "", err)
		s.abort(logger, result, storeErr, start)
		return result, storeErr
	}
	result.Selected = len(jobs)

	for _, job := range jobs {
		outcome, err := s.process(ctx, job)
		if err != nil {
			s.abort(logger, result, err, start)
			return result, err
		}

		switch outcome {
		case StatusSent:
			result.Sent++
		case StatusFailed:
			result.Failed++
		default:
			result.Conflicts++
		}
	}

	s.metrics.recordPoll("completed", time.Since(start).Seconds(), result.Selected)
	if result.Selected > 0 {
		logger.Info("poll cycle completed",
			"selected", result.Selected,
			"sent", result.Sent,
			"failed", result.Failed,
			"conflicts", result.Conflicts,
			"duration", time.Since(start),
		)
	}
	return result, nil
}

func (s *Scheduler) abort(logger *slog.Logger, result *PollResult, err *StoreError, start time.Time) {
	result.Aborted = true
	s.metrics.recordStoreError(err.Operation)
	s.metrics.recordPoll("aborted", time.Since(start).Seconds(), result.Selected)
	logger.Error("poll cycle aborted by store failure",
		"operation", err.Operation,
		"job_id", err.JobID,
		"sent", result.Sent,
		"failed", result.Failed,
		"error", err.Cause,
	)
}

// process moves one job to a terminal state. The returned status is the
// job's final state, or StatusPending when the job was claimed elsewhere.
// A non-nil error is always a store failure.
func (s *Scheduler) process(ctx context.Context, job *Job) (Status, *StoreError) {
	ctx = logging.WithJobID(ctx, job.ID)
	ctx = logging.WithConversationID(ctx, job.ConversationID)
	logger := logging.FromContext(ctx, s.logger)

	err := s.deps.Jobs.Transition(ctx, Transition{
		JobID: job.ID,
		From:  StatusPending,
		To:    StatusProcessing,
		At:    s.now(),
	})
	if errors.Is(err, ErrTransitionConflict) {
		logger.Warn("job no longer pending, skipping")
		s.metrics.recordJob("conflict")
		return StatusPending, nil
	}
	if err != nil {
		return "", newStoreError("claim_job", job.ID, err)
	}

	msg, err := s.deliver(ctx, job)
	if err != nil {
		var storeErr *StoreError
		if errors.As(err, &storeErr) {
			return "", storeErr
		}
		return s.fail(ctx, logger, job, err)
	}

	logger.Info("job sent", "message_id", msg.ID)
	s.metrics.recordJob(string(StatusSent))
	return StatusSent, nil
}

func (s *Scheduler) fail(ctx context.Context, logger *slog.Logger, job *Job, cause error) (Status, *StoreError) {
	err := s.deps.Jobs.Transition(ctx, Transition{
		JobID:        job.ID,
		From:         StatusProcessing,
		To:           StatusFailed,
		ErrorMessage: cause.Error(),
		At:           s.now(),
	})
	if err != nil {
		return "", newStoreError("fail_job", job.ID, err)
	}

	reason := failureReason(cause)
	logger.Warn("job failed", "reason", reason, "error", cause)
	s.metrics.recordJob(string(StatusFailed))
	s.metrics.recordFailure(reason)
	return StatusFailed, nil
}

// deliver resolves everything the job needs, sends it and records the
// result. Errors other than *StoreError fail only this job.
func (s *Scheduler) deliver(ctx context.Context, job *Job) (*Message, error) {
	agent, err := s.deps.Directory.GetAgent(ctx, job.AgentID)
	if err != nil {
		return nil, s.lookupError("agent", job.AgentID, "get_agent", job.ID, err)
	}

	conv, err := s.deps.Conversations.GetConversation(ctx, job.ConversationID)
	if err != nil {
		return nil, s.lookupError("conversation", job.ConversationID, "get_conversation", job.ID, err)
	}

	account, err := s.deps.Directory.GetPlatformAccount(ctx, agent.ID, conv.Platform)
	if err != nil {
		key := fmt.Sprintf("agent %s on %s", agent.ID, conv.Platform)
		return nil, s.lookupError("platform account", key, "get_platform_account", job.ID, err)
	}

	channel, err := s.deps.Channels.Resolve(ctx, agent, account)
	if err != nil || channel == nil {
		return nil, &ResolutionError{Resource: "channel", Key: fmt.Sprintf("account %s on %s", account.ID, account.Platform), Cause: err}
	}
	if status := channel.Status(); status != ChannelConnected {
		return nil, &ChannelUnavailableError{Platform: account.Platform, Status: status}
	}

	recipient := conv.ExternalID
	if recipient == "" {
		return nil, &ResolutionError{Resource: "recipient", Key: "conversation " + conv.ID}
	}

	identity := agent.LimitIdentity()
	check, err := s.deps.Limiter.Check(ctx, identity)
	if err != nil {
		return nil, s.limiterError("check_limit", job.ID, err)
	}
	if !check.Allowed {
		return nil, check.Err()
	}

	sent, err := channel.Send(ctx, recipient, Content{Type: job.ContentType, Body: job.Content})
	if err != nil {
		return nil, &DeliveryError{Platform: account.Platform, Recipient: recipient, Cause: err}
	}

	now := s.now()
	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		AgentID:        agent.ID,
		Content:        job.Content,
		ContentType:    job.ContentType,
		CreatedAt:      now,
	}
	if sent != nil {
		msg.ExternalID = sent.ExternalID
	}

	if err := s.deps.Conversations.InsertMessage(ctx, msg); err != nil {
		return nil, newStoreError("insert_message", job.ID, err)
	}
	if err := s.deps.Conversations.TouchConversation(ctx, conv.ID, now); err != nil {
		return nil, newStoreError("touch_conversation", job.ID, err)
	}

	err = s.deps.Jobs.Transition(ctx, Transition{
		JobID:         job.ID,
		From:          StatusProcessing,
		To:            StatusSent,
		SentMessageID: msg.ID,
		At:            now,
	})
	if err != nil {
		return nil, newStoreError("complete_job", job.ID, err)
	}

	if _, err := s.deps.Limiter.Increment(ctx, identity, s.costPerMessage); err != nil {
		return nil, s.limiterError("increment_usage", job.ID, err)
	}

	s.notify(ctx, conv.ID, msg)
	return msg, nil
}

// lookupError turns a collaborator error into a per-job ResolutionError when
// the thing is missing, and a StoreError when the lookup itself failed.
func (s *Scheduler) lookupError(resource, key, operation, jobID string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return &ResolutionError{Resource: resource, Key: key, Cause: err}
	}
	return newStoreError(operation, jobID, err)
}

// limiterError maps limiter failures. Counter storage failures are store
// failures; anything else the limiter rejects fails the job.
func (s *Scheduler) limiterError(operation, jobID string, err error) error {
	if errors.Is(err, limits.ErrStorageFailure) {
		return newStoreError(operation, jobID, err)
	}
	return err
}

func (s *Scheduler) notify(ctx context.Context, conversationID string, msg *Message) {
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.MessageCreated(ctx, conversationID, msg); err != nil {
		logging.FromContext(ctx, s.logger).Warn("message created notification failed", "error", err)
	}
}

func isRateLimited(err error) bool {
	return errors.Is(err, limits.ErrRateLimitExceeded)
}
