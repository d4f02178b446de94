package channel

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// StartHealthChecker probes the health URL in the background until ctx is
// cancelled or the channel is closed. While the channel is failing, probes
// back off exponentially.
func (w *Webhook) StartHealthChecker(ctx context.Context) {
	w.checkerStarted.Store(true)
	go w.runHealthChecker(ctx)
}

func (w *Webhook) runHealthChecker(ctx context.Context) {
	defer close(w.healthCheckStopped)

	interval := w.config.HealthCheckInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("health checker started", "interval", interval)

	// Probe once up front so the status leaves unknown quickly.
	w.performHealthCheck(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("health checker stopped (context cancelled)")
			return

		case <-w.stopHealthCheck:
			w.logger.Debug("health checker stopped (channel closed)")
			return

		case <-ticker.C:
			w.performHealthCheck(ctx)

			health := w.Health()
			next := calculateBackoff(health.ConsecutiveFailures, interval)
			ticker.Reset(next)
			if health.ConsecutiveFailures > 0 {
				w.logger.Debug("health check backoff",
					"consecutive_failures", health.ConsecutiveFailures,
					"next_check_in", next,
				)
			}
		}
	}
}

// CheckNow runs one health check and returns the resulting health. A
// channel that has never been checked or used reports unknown and is not sent
// to, so callers check it before the first poll.
func (w *Webhook) CheckNow(ctx context.Context) Health {
	w.performHealthCheck(ctx)
	return w.Health()
}

func (w *Webhook) performHealthCheck(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	err := w.HealthCheck(checkCtx)
	latency := time.Since(start)

	if err != nil {
		w.updateHealth(false, err)
		w.logger.Error("health check failed", "error", err, "latency", latency)
		return
	}
	w.updateHealth(true, nil)
	w.logger.Debug("health check passed", "latency", latency)
}

// HealthCheck probes the health URL once. Any response below 500 counts as
// reachable.
func (w *Webhook) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.config.HealthURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	if w.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.config.Token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// calculateBackoff doubles baseInterval per consecutive failure, capped at
// 10x the base and at 5 minutes.
func calculateBackoff(consecutiveFailures int, baseInterval time.Duration) time.Duration {
	if consecutiveFailures <= 0 {
		return baseInterval
	}

	multiplier := 1 << uint(min(consecutiveFailures, 4))
	if multiplier > 10 {
		multiplier = 10
	}

	backoff := baseInterval * time.Duration(multiplier)
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	return backoff
}
