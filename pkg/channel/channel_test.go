package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/dispatch/pkg/scheduler"
)

func newTestWebhook(t *testing.T, handler http.HandlerFunc) (*Webhook, func()) {
	t.Helper()

	server := httptest.NewServer(handler)
	w, err := NewWebhook(WebhookConfig{
		Name:                "test",
		URL:                 server.URL,
		Token:               "secret",
		MaxRetries:          2,
		HealthCheckInterval: 20 * time.Millisecond,
	})
	if err != nil {
		server.Close()
		t.Fatalf("NewWebhook() error = %v", err)
	}
	w.backoff = func(int) time.Duration { return time.Millisecond }

	return w, func() {
		w.Close()
		server.Close()
	}
}

func TestWebhook_Send(t *testing.T) {
	var got webhookPayload
	w, cleanup := newTestWebhook(t, func(rw http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		rw.Write([]byte(`{"id":"ext-123"}`))
	})
	defer cleanup()

	if w.Status() != scheduler.ChannelUnknown {
		t.Errorf("initial Status() = %s, want unknown", w.Status())
	}

	result, err := w.Send(context.Background(), "chat-1", scheduler.Content{Type: scheduler.ContentText, Body: "hi"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.ExternalID != "ext-123" {
		t.Errorf("ExternalID = %q, want ext-123", result.ExternalID)
	}
	if got.Recipient != "chat-1" || got.Body != "hi" || got.ContentType != "text" {
		t.Errorf("payload = %+v", got)
	}
	if w.Status() != scheduler.ChannelConnected {
		t.Errorf("Status() = %s, want connected", w.Status())
	}
}

func TestWebhook_RetryOn5xx(t *testing.T) {
	var calls atomic.Int32
	w, cleanup := newTestWebhook(t, func(rw http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			rw.WriteHeader(http.StatusBadGateway)
			return
		}
		rw.WriteHeader(http.StatusOK)
	})
	defer cleanup()

	result, err := w.Send(context.Background(), "chat-1", scheduler.Content{Type: scheduler.ContentText, Body: "hi"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.ExternalID != "" {
		t.Errorf("ExternalID = %q, want empty", result.ExternalID)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestWebhook_NoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	w, cleanup := newTestWebhook(t, func(rw http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(rw, "unknown recipient", http.StatusBadRequest)
	})
	defer cleanup()

	_, err := w.Send(context.Background(), "nobody", scheduler.Content{Type: scheduler.ContentText, Body: "hi"})
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("Send() error = %v, want *SendError", err)
	}
	if sendErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", sendErr.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if w.Status() != scheduler.ChannelConnected {
		t.Errorf("Status() = %s, want connected after a 4xx", w.Status())
	}
}

func TestWebhook_DisconnectsAfterFailures(t *testing.T) {
	w, cleanup := newTestWebhook(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusServiceUnavailable)
	})
	defer cleanup()
	w.config.MaxRetries = 0

	for i := 0; i < unhealthyAfter; i++ {
		if _, err := w.Send(context.Background(), "chat-1", scheduler.Content{Type: scheduler.ContentText, Body: "hi"}); err == nil {
			t.Fatal("Send() should fail")
		}
	}

	health := w.Health()
	if health.Status != scheduler.ChannelDisconnected {
		t.Errorf("Status = %s, want disconnected", health.Status)
	}
	if health.FailedSends != unhealthyAfter {
		t.Errorf("FailedSends = %d, want %d", health.FailedSends, unhealthyAfter)
	}
}

func TestWebhook_HealthChecker(t *testing.T) {
	var healthy atomic.Bool
	w, cleanup := newTestWebhook(t, func(rw http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			rw.WriteHeader(http.StatusInternalServerError)
			return
		}
		rw.WriteHeader(http.StatusNoContent)
	})
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.StartHealthChecker(ctx)

	waitFor(t, func() bool { return w.Status() == scheduler.ChannelDisconnected })

	healthy.Store(true)
	waitFor(t, func() bool { return w.Status() == scheduler.ChannelConnected })
}

func TestWebhook_CheckNow(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   scheduler.ChannelStatus
	}{
		{"reachable", http.StatusOK, scheduler.ChannelConnected},
		{"client error still reachable", http.StatusNotFound, scheduler.ChannelConnected},
		{"server error stays unknown", http.StatusBadGateway, scheduler.ChannelUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, cleanup := newTestWebhook(t, func(rw http.ResponseWriter, r *http.Request) {
				rw.WriteHeader(tt.status)
			})
			defer cleanup()

			health := w.CheckNow(context.Background())
			if health.Status != tt.want {
				t.Errorf("CheckNow() status = %s, want %s", health.Status, tt.want)
			}
			if w.Status() != tt.want {
				t.Errorf("Status() = %s, want %s", w.Status(), tt.want)
			}
		})
	}
}

func TestWebhook_RequiresURL(t *testing.T) {
	if _, err := NewWebhook(WebhookConfig{Name: "x"}); err == nil {
		t.Error("NewWebhook() without URL should fail")
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		failures int
		base     time.Duration
		want     time.Duration
	}{
		{0, 30 * time.Second, 30 * time.Second},
		{1, 30 * time.Second, time.Minute},
		{2, 30 * time.Second, 2 * time.Minute},
		{3, 30 * time.Second, 4 * time.Minute},
		{10, 30 * time.Second, 5 * time.Minute},
		{10, time.Second, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := calculateBackoff(tt.failures, tt.base); got != tt.want {
			t.Errorf("calculateBackoff(%d, %v) = %v, want %v", tt.failures, tt.base, got, tt.want)
		}
	}
}

func TestRegistry_Resolve(t *testing.T) {
	platformCh := NewLog("telegram")
	accountCh := NewFunc(func(ctx context.Context, recipient string, content scheduler.Content) (*scheduler.SendResult, error) {
		return &scheduler.SendResult{}, nil
	})

	r := NewRegistry()
	r.Register("telegram", platformCh)
	r.RegisterAccount("pa-special", accountCh)

	agent := &scheduler.Agent{ID: "agent-1"}

	got, err := r.Resolve(context.Background(), agent, &scheduler.PlatformAccount{ID: "pa-1", Platform: "telegram"})
	if err != nil || got != scheduler.Channel(platformCh) {
		t.Errorf("Resolve(pa-1) = %v, %v; want platform channel", got, err)
	}

	got, err = r.Resolve(context.Background(), agent, &scheduler.PlatformAccount{ID: "pa-special", Platform: "telegram"})
	if err != nil || got != scheduler.Channel(accountCh) {
		t.Errorf("Resolve(pa-special) = %v, %v; want account channel", got, err)
	}

	_, err = r.Resolve(context.Background(), agent, &scheduler.PlatformAccount{ID: "pa-2", Platform: "whatsapp"})
	if !errors.Is(err, scheduler.ErrNotFound) {
		t.Errorf("Resolve(whatsapp) error = %v, want ErrNotFound", err)
	}

	if platforms := r.Platforms(); len(platforms) != 1 || platforms[0] != "telegram" {
		t.Errorf("Platforms() = %v", platforms)
	}
}

func TestFunc_Status(t *testing.T) {
	f := NewFunc(nil)
	if f.Status() != scheduler.ChannelConnected {
		t.Errorf("Status() = %s, want connected", f.Status())
	}
	f.SetStatus(scheduler.ChannelDisconnected)
	if f.Status() != scheduler.ChannelDisconnected {
		t.Errorf("Status() = %s, want disconnected", f.Status())
	}
}

func TestLog_Send(t *testing.T) {
	result, err := NewLog("telegram").Send(context.Background(), "chat-1", scheduler.Content{Type: scheduler.ContentText, Body: "hi"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.ExternalID == "" {
		t.Error("ExternalID should be set")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
