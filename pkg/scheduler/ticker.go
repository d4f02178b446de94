package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Start arms the ticker and runs one poll immediately. Polls run detached
// from ctx's cancellation so an in-flight batch always completes; cancelling
// ctx stops the ticker as Stop does. Calling Start while running logs a
// warning and does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.running.Load() {
		s.logger.Warn("scheduler already running, ignoring start")
		return nil
	}

	pollCtx := context.WithoutCancel(ctx)
	c := cron.New()
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() { s.tick(pollCtx) }))
	c.Start()

	s.cron = c
	s.stopCh = make(chan struct{})
	s.running.Store(true)
	s.metrics.setRunning(true)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.tick(pollCtx)
	}()

	stopCh := s.stopCh
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()

	s.logger.Info("scheduler started",
		"interval", s.interval,
		"batch_size", s.batchSize,
	)
	return nil
}

// Stop disarms the ticker and waits for an in-flight poll to finish. No poll
// starts after Stop returns. Stop on a stopped scheduler does nothing.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.running.Load() {
		return
	}

	<-s.cron.Stop().Done()
	s.inflight.Wait()

	close(s.stopCh)
	s.cron = nil
	s.running.Store(false)
	s.metrics.setRunning(false)

	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the ticker is armed. It stays true until Stop
// has drained the current batch.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) tick(ctx context.Context) {
	// Poll logs its own failures; the ticker keeps going regardless.
	_, _ = s.Poll(ctx)
}
