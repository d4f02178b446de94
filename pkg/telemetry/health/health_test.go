package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"mercator-hq/dispatch/pkg/channel"
	"mercator-hq/dispatch/pkg/scheduler"
)

type fakePinger struct{ err error }

func (p fakePinger) PingContext(ctx context.Context) error { return p.err }

func TestChecker_Readiness(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]CheckFunc
		want   string
	}{
		{
			name: "no checks",
			want: StatusReady,
		},
		{
			name: "all healthy",
			checks: map[string]CheckFunc{
				"store":     PingCheck(fakePinger{}),
				"scheduler": RunningCheck(func() bool { return true }),
			},
			want: StatusReady,
		},
		{
			name: "one failing",
			checks: map[string]CheckFunc{
				"store":     PingCheck(fakePinger{err: errors.New("disk gone")}),
				"scheduler": RunningCheck(func() bool { return true }),
			},
			want: StatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			for name, check := range tt.checks {
				c.Register(name, check)
			}

			report := c.Readiness(context.Background())
			if report.Status != tt.want {
				t.Errorf("Status = %q, want %q", report.Status, tt.want)
			}
			if len(report.Checks) != len(tt.checks) {
				t.Errorf("got %d results, want %d", len(report.Checks), len(tt.checks))
			}
		})
	}
}

func TestChecker_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	report := c.Readiness(context.Background())
	got := report.Checks["slow"]
	if got.Status != StatusUnhealthy || got.Message != "health check timeout" {
		t.Errorf("slow check = %+v, want timeout", got)
	}
}

func TestChecker_RegisterUnregister(t *testing.T) {
	c := New(0)
	c.Register("b", RunningCheck(func() bool { return true }))
	c.Register("a", RunningCheck(func() bool { return true }))

	if got := c.Names(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Names() = %v", got)
	}

	c.Unregister("a")
	if got := c.Names(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("Names() after unregister = %v", got)
	}
}

func TestChannelCheck(t *testing.T) {
	ch := channel.NewFunc(func(ctx context.Context, recipient string, content scheduler.Content) (*scheduler.SendResult, error) {
		return &scheduler.SendResult{}, nil
	})
	check := ChannelCheck(ch)

	ch.SetStatus(scheduler.ChannelConnected)
	if err := check(context.Background()); err != nil {
		t.Errorf("connected channel: %v", err)
	}

	ch.SetStatus(scheduler.ChannelDisconnected)
	if err := check(context.Background()); err == nil {
		t.Error("disconnected channel should fail the check")
	}
}

func TestHandlers(t *testing.T) {
	c := New(time.Second)
	c.Register("scheduler", RunningCheck(func() bool { return false }))

	mux := http.NewServeMux()
	Mount(mux, c, VersionInfo{Version: "1.0.0", Commit: "abc"})

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
	}{
		{"liveness", http.MethodGet, "/healthz", http.StatusOK},
		{"readiness degraded", http.MethodGet, "/readyz", http.StatusServiceUnavailable},
		{"version", http.MethodGet, "/version", http.StatusOK},
		{"head", http.MethodHead, "/healthz", http.StatusOK},
		{"post rejected", http.MethodPost, "/healthz", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if info.Version != "1.0.0" || info.GoVersion == "" {
		t.Errorf("version info = %+v", info)
	}
}
