package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/dispatch/pkg/scheduler"
)

// WebhookConfig configures a Webhook channel.
type WebhookConfig struct {
	// Name identifies the channel in logs and errors.
	Name string

	// URL receives a POST per delivery.
	URL string

	// HealthURL is probed with GET by the health checker.
	// Default: URL
	HealthURL string

	// Token is sent as a bearer token when set.
	Token string

	// Timeout bounds each HTTP request.
	// Default: 10 seconds
	Timeout time.Duration

	// MaxRetries is the number of retries after a 5xx or transport error.
	// Default: 2
	MaxRetries int

	// HealthCheckInterval is the probe period while healthy.
	// Default: 30 seconds
	HealthCheckInterval time.Duration
}

func (c *WebhookConfig) applyDefaults() {
	if c.HealthURL == "" {
		c.HealthURL = c.URL
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
}

// unhealthyAfter is the number of consecutive failures that disconnect the
// channel.
const unhealthyAfter = 3

// Health is a snapshot of a webhook channel's connectivity.
type Health struct {
	Status              scheduler.ChannelStatus
	LastCheck           time.Time
	ConsecutiveFailures int
	LastError           error
	TotalSends          int64
	FailedSends         int64
}

// webhookPayload is the request body posted for each delivery.
type webhookPayload struct {
	Recipient   string `json:"recipient"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

// webhookResponse is the accepted response body. ID is optional.
type webhookResponse struct {
	ID string `json:"id"`
}

// Webhook delivers messages by POSTing JSON to an HTTP endpoint, typically a
// platform bridge. Its status follows the outcome of sends and health probes.
type Webhook struct {
	config WebhookConfig
	client *http.Client
	logger *slog.Logger

	health   Health
	healthMu sync.RWMutex

	// backoff is the wait before retry attempt n (n >= 1).
	backoff func(attempt int) time.Duration

	stopHealthCheck    chan struct{}
	healthCheckStopped chan struct{}
	closeOnce          sync.Once
	checkerStarted     atomic.Bool
}

// NewWebhook creates a webhook channel. Its status is unknown until the
// first send or health probe.
func NewWebhook(config WebhookConfig) (*Webhook, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("channel %q: url is required", config.Name)
	}
	config.applyDefaults()

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &Webhook{
		config: config,
		client: &http.Client{Transport: transport, Timeout: config.Timeout},
		logger: slog.Default().With("component", "channel.webhook", "channel", config.Name),
		health: Health{Status: scheduler.ChannelUnknown},
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt-1)) * time.Second
		},
		stopHealthCheck:    make(chan struct{}),
		healthCheckStopped: make(chan struct{}),
	}, nil
}

// Name returns the configured channel name.
func (w *Webhook) Name() string {
	return w.config.Name
}

// Status implements scheduler.Channel.
func (w *Webhook) Status() scheduler.ChannelStatus {
	w.healthMu.RLock()
	defer w.healthMu.RUnlock()
	return w.health.Status
}

// Health returns detailed health information.
func (w *Webhook) Health() Health {
	w.healthMu.RLock()
	defer w.healthMu.RUnlock()
	return w.health
}

// Send implements scheduler.Channel. Transport errors and 5xx responses are
// retried with exponential backoff; 4xx responses fail immediately.
func (w *Webhook) Send(ctx context.Context, recipient string, content scheduler.Content) (*scheduler.SendResult, error) {
	body, err := json.Marshal(webhookPayload{
		Recipient:   recipient,
		ContentType: string(content.Type),
		Body:        content.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := w.backoff(attempt)
			w.logger.Debug("retrying send", "attempt", attempt, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		result, err := w.post(ctx, body)
		if err == nil {
			w.recordSend(true)
			w.updateHealth(true, nil)
			return result, nil
		}
		lastErr = err

		var sendErr *SendError
		if errors.As(err, &sendErr) && !sendErr.Retryable() {
			// The endpoint answered, so it is reachable.
			w.recordSend(false)
			w.updateHealth(true, nil)
			return nil, err
		}
	}

	w.recordSend(false)
	w.updateHealth(false, lastErr)
	return nil, lastErr
}

func (w *Webhook) post(ctx context.Context, body []byte) (*scheduler.SendResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.config.Token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, &SendError{Channel: w.config.Name, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &SendError{Channel: w.config.Name, StatusCode: resp.StatusCode, Message: "failed to read response", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &SendError{
			Channel:    w.config.Name,
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(respBody)),
		}
	}

	var decoded webhookResponse
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			w.logger.Debug("ignoring undecodable response body", "error", err)
		}
	}
	return &scheduler.SendResult{ExternalID: decoded.ID}, nil
}

// updateHealth applies the outcome of a send or probe. The channel is
// connected after any success and disconnected after unhealthyAfter
// consecutive failures.
func (w *Webhook) updateHealth(success bool, err error) {
	w.healthMu.Lock()
	defer w.healthMu.Unlock()

	w.health.LastCheck = time.Now()
	if success {
		if w.health.Status == scheduler.ChannelDisconnected {
			w.logger.Info("channel reconnected", "previous_failures", w.health.ConsecutiveFailures)
		}
		w.health.Status = scheduler.ChannelConnected
		w.health.ConsecutiveFailures = 0
		w.health.LastError = nil
		return
	}

	w.health.ConsecutiveFailures++
	w.health.LastError = err
	if w.health.ConsecutiveFailures >= unhealthyAfter && w.health.Status != scheduler.ChannelDisconnected {
		w.health.Status = scheduler.ChannelDisconnected
		w.logger.Warn("channel marked disconnected",
			"consecutive_failures", w.health.ConsecutiveFailures,
			"error", err,
		)
	}
}

func (w *Webhook) recordSend(success bool) {
	w.healthMu.Lock()
	defer w.healthMu.Unlock()

	w.health.TotalSends++
	if !success {
		w.health.FailedSends++
	}
}

// Close stops the health checker, if running.
func (w *Webhook) Close() error {
	w.closeOnce.Do(func() {
		close(w.stopHealthCheck)
		if w.checkerStarted.Load() {
			<-w.healthCheckStopped
		}
		w.client.CloseIdleConnections()
	})
	return nil
}
