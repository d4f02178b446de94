package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/dispatch/pkg/cli"
	"mercator-hq/dispatch/pkg/config"
	"mercator-hq/dispatch/pkg/scheduler"
)

// newTestConfig writes a config whose databases live in a temp dir and whose
// telegram channel only logs.
func newTestConfig(t *testing.T) string {
	t.Helper()
	return newTestConfigWithChannels(t, `
  - platform: telegram
    type: log
`)
}

// newTestConfigWithChannels is newTestConfig with the channels list replaced.
func newTestConfigWithChannels(t *testing.T, channels string) string {
	t.Helper()
	dir := t.TempDir()

	cfg := `
scheduler:
  interval: 1s
  batch_size: 5
  cost_per_message: 0.01
store:
  path: ` + filepath.Join(dir, "dispatch.db") + `
history:
  path: ` + filepath.Join(dir, "history.db") + `
channels:` + channels + `server:
  listen_address: ""
telemetry:
  logging:
    level: error
`
	path := filepath.Join(dir, "dispatch.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// execute runs dispatchd with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	if err != nil {
		t.Fatalf("dispatchd %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestDispatchEndToEnd(t *testing.T) {
	cfg := newTestConfig(t)

	mustExecute(t, "-c", cfg, "agent", "add", "agent-1", "--owner", "owner-1", "--name", "Helper")
	mustExecute(t, "-c", cfg, "account", "add", "pa-1", "--agent", "agent-1", "--platform", "telegram")
	mustExecute(t, "-c", cfg, "conversation", "add", "conv-1", "--platform", "telegram", "--recipient", "chat-1")

	out := mustExecute(t, "-c", cfg, "-o", "json", "schedule", "--conversation", "conv-1", "--agent", "agent-1", "hello", "there")
	var scheduled []*scheduler.Job
	if err := json.Unmarshal([]byte(out), &scheduled); err != nil {
		t.Fatalf("decode schedule output %q: %v", out, err)
	}
	if len(scheduled) != 1 || scheduled[0].Status != scheduler.StatusPending || scheduled[0].Content != "hello there" {
		t.Fatalf("scheduled = %+v", scheduled)
	}

	out = mustExecute(t, "-c", cfg, "-o", "json", "run", "--once")
	var result scheduler.PollResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode poll output %q: %v", out, err)
	}
	if result.Selected != 1 || result.Sent != 1 {
		t.Fatalf("poll result = %+v, want one sent", result)
	}

	out = mustExecute(t, "-c", cfg, "-o", "json", "jobs", "--status", "sent")
	var sent []*scheduler.Job
	if err := json.Unmarshal([]byte(out), &sent); err != nil {
		t.Fatalf("decode jobs output: %v", err)
	}
	if len(sent) != 1 || sent[0].ID != scheduled[0].ID || sent[0].SentMessageID == "" {
		t.Errorf("sent jobs = %+v", sent)
	}

	out = mustExecute(t, "-c", cfg, "-o", "json", "conversation", "messages", "conv-1")
	var msgs []*scheduler.Message
	if err := json.Unmarshal([]byte(out), &msgs); err != nil {
		t.Fatalf("decode messages output: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != sent[0].SentMessageID {
		t.Errorf("messages = %+v", msgs)
	}

	out = mustExecute(t, "-c", cfg, "-o", "json", "usage", "owner-1")
	var status struct {
		Tier   string `json:"tier"`
		Minute struct {
			Used int64 `json:"used"`
		} `json:"minute"`
		Budget struct {
			Used float64 `json:"used"`
		} `json:"budget"`
	}
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode usage output %q: %v", out, err)
	}
	if status.Minute.Used != 1 || status.Budget.Used != 0.01 {
		t.Errorf("usage = %+v, want one request and $0.01", status)
	}
}

func TestDispatchWebhookOnce(t *testing.T) {
	var delivered atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			delivered.Add(1)
			w.Write([]byte(`{"id":"tg-1"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	cfg := newTestConfigWithChannels(t, `
  - name: telegram-hook
    platform: telegram
    type: webhook
    url: `+hook.URL+`
`)

	mustExecute(t, "-c", cfg, "agent", "add", "agent-1", "--owner", "owner-1")
	mustExecute(t, "-c", cfg, "account", "add", "pa-1", "--agent", "agent-1", "--platform", "telegram")
	mustExecute(t, "-c", cfg, "conversation", "add", "conv-1", "--platform", "telegram", "--recipient", "chat-1")
	mustExecute(t, "-c", cfg, "schedule", "--conversation", "conv-1", "--agent", "agent-1", "hello")

	out := mustExecute(t, "-c", cfg, "-o", "json", "run", "--once")
	var result scheduler.PollResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode poll output %q: %v", out, err)
	}
	if result.Selected != 1 || result.Sent != 1 || result.Failed != 0 {
		t.Fatalf("poll result = %+v, want one sent", result)
	}
	if got := delivered.Load(); got != 1 {
		t.Errorf("webhook deliveries = %d, want 1", got)
	}

	out = mustExecute(t, "-c", cfg, "-o", "json", "conversation", "messages", "conv-1")
	var msgs []*scheduler.Message
	if err := json.Unmarshal([]byte(out), &msgs); err != nil {
		t.Fatalf("decode messages output: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ExternalID != "tg-1" {
		t.Errorf("messages = %+v, want one with external id tg-1", msgs)
	}
}

func TestTierCommands(t *testing.T) {
	cfg := newTestConfig(t)

	out := mustExecute(t, "-c", cfg, "tiers")
	for _, tier := range []string{"free", "enterprise"} {
		if !strings.Contains(out, tier) {
			t.Errorf("tiers output missing %q:\n%s", tier, out)
		}
	}

	mustExecute(t, "-c", cfg, "tier", "set", "owner-1", "enterprise")
	out = mustExecute(t, "-c", cfg, "-o", "csv", "usage", "owner-1")
	if !strings.Contains(out, "owner-1,enterprise,minute") {
		t.Errorf("usage after tier set:\n%s", out)
	}

	_, err := execute(t, "-c", cfg, "tier", "set", "owner-1", "platinum")
	if err == nil {
		t.Error("unknown tier should fail")
	}
}

func TestReloadLimitsAppliesAssignments(t *testing.T) {
	path := newTestConfig(t)
	cfg, err := config.LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	a, err := openApp(cfg, appOptions{})
	if err != nil {
		t.Fatalf("openApp() error = %v", err)
	}
	defer a.Close()

	next, err := config.LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	next.Limits.Assignments = map[string]string{"owner-9": "pro"}
	if err := a.reloadLimits(next); err != nil {
		t.Fatalf("reloadLimits() error = %v", err)
	}

	status, err := a.limiter.Peek(context.Background(), "owner-9")
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if status.Tier != "pro" {
		t.Errorf("tier after reload = %s, want pro", status.Tier)
	}

	next.Limits.Assignments = map[string]string{"owner-9": "platinum"}
	if err := a.reloadLimits(next); err == nil {
		t.Error("reloadLimits() with an unknown tier should fail")
	}
	if got := a.limiter.Assignments()["owner-9"]; got != "pro" {
		t.Errorf("assignment after rejected reload = %s, want pro", got)
	}
}

func TestHistoryCommands(t *testing.T) {
	cfg := newTestConfig(t)

	mustExecute(t, "-c", cfg, "history", "record", "owner-1",
		"--period", "day",
		"--start", "2026-01-01T00:00:00Z",
		"--end", "2026-01-02T00:00:00Z",
		"--requests", "120",
		"--cost", "1.2",
	)

	out := mustExecute(t, "-c", cfg, "-o", "csv", "history", "list", "--identity", "owner-1")
	if !strings.Contains(out, "owner-1,free,day") || !strings.Contains(out, ",120,0,$1.20") {
		t.Errorf("history list:\n%s", out)
	}

	if _, err := execute(t, "-c", cfg, "history", "record", "owner-1",
		"--period", "week", "--start", "2026-01-01T00:00:00Z", "--end", "2026-01-02T00:00:00Z"); err == nil {
		t.Error("unknown period should fail")
	}

	mustExecute(t, "-c", cfg, "history", "prune")
}

func TestValidateCommand(t *testing.T) {
	cfg := newTestConfig(t)
	out := mustExecute(t, "-c", cfg, "validate")
	if !strings.Contains(out, "Configuration valid") {
		t.Errorf("validate output: %s", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("scheduler:\n  batch_size: -1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := execute(t, "-c", bad, "validate")
	if cli.ExitCode(err) != cli.ExitConfig {
		t.Errorf("ExitCode(%v) = %d, want %d", err, cli.ExitCode(err), cli.ExitConfig)
	}
}

func TestScheduleValidation(t *testing.T) {
	cfg := newTestConfig(t)

	tests := []struct {
		name string
		args []string
	}{
		{"bad type", []string{"--type", "sticker", "hi"}},
		{"bad time", []string{"--at", "tomorrow", "hi"}},
		{"negative delay", []string{"--in", "-1h", "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"-c", cfg, "schedule", "--conversation", "conv-1", "--agent", "agent-1"}, tt.args...)
			if _, err := execute(t, args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestResolveScheduleTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	got, err := resolveScheduleTime("", 2*time.Hour, now)
	if err != nil || !got.Equal(now.Add(2*time.Hour)) {
		t.Errorf("--in 2h = %v, %v", got, err)
	}

	got, err = resolveScheduleTime("2026-03-01T09:00:00+02:00", 0, now)
	if err != nil || !got.Equal(time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)) {
		t.Errorf("--at = %v, %v", got, err)
	}
}

func TestVersionCommand(t *testing.T) {
	out := mustExecute(t, "version")
	if !strings.HasPrefix(out, "dispatchd "+Version) {
		t.Errorf("version output: %s", out)
	}
}
