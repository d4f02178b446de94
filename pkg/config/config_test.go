package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/dispatch/pkg/limits"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "dispatch.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
scheduler:
  interval: 15s
  batch_size: 5
  cost_per_message: 0.01

limits:
  assignments:
    owner-1: pro
  storage:
    backend: memory

store:
  path: ./test.db

channels:
  - name: tg
    platform: telegram
    url: http://localhost:7000/send
    token: abc
  - platform: whatsapp
    type: log

notify:
  enabled: true

telemetry:
  logging:
    level: debug
    format: text
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Scheduler.Interval != 15*time.Second || cfg.Scheduler.BatchSize != 5 {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Limits.Assignments["owner-1"] != "pro" {
		t.Errorf("assignments = %v", cfg.Limits.Assignments)
	}
	if cfg.Store.Path != "./test.db" || cfg.Store.BusyTimeout != DefaultStoreBusyTimeout {
		t.Errorf("store = %+v", cfg.Store)
	}
	if len(cfg.Channels) != 2 {
		t.Fatalf("channels = %d, want 2", len(cfg.Channels))
	}
	if tg := cfg.Channels[0]; tg.HealthURL != tg.URL || tg.MaxRetries != DefaultChannelMaxRetries {
		t.Errorf("webhook defaults not applied: %+v", tg)
	}
	if cfg.Channels[1].Name != "whatsapp" {
		t.Errorf("log channel name = %q, want platform name", cfg.Channels[1].Name)
	}
	if cfg.Notify.Path != DefaultNotifyPath {
		t.Errorf("notify path = %q", cfg.Notify.Path)
	}
	if !cfg.History.IsEnabled() || cfg.History.RetentionDays != DefaultHistoryRetentionDays {
		t.Errorf("history = %+v", cfg.History)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig(missing) should fail")
	}

	path := writeConfig(t, t.TempDir(), "scheduler: [unclosed")
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig(invalid yaml) should fail")
	}
}

func TestLoadConfig_CustomTiers(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
limits:
  tiers:
    - {name: t1, requests_per_minute: 1, requests_per_hour: 10, requests_per_day: 100, monthly_budget: 1}
    - {name: t2, requests_per_minute: 2, requests_per_hour: 20, requests_per_day: 200, monthly_budget: 2}
    - {name: t3, requests_per_minute: 3, requests_per_hour: 30, requests_per_day: 300, monthly_budget: 3}
    - {name: t4, requests_per_minute: 4, requests_per_hour: 40, requests_per_day: 400, monthly_budget: 4}
  assignments:
    owner-1: t3
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	catalog, err := cfg.Limits.Catalog()
	if err != nil {
		t.Fatalf("Catalog() error = %v", err)
	}
	if catalog.Lowest().Name != "t1" {
		t.Errorf("lowest tier = %s, want t1", catalog.Lowest().Name)
	}
	if cfg.Limits.TierAssignments()["owner-1"] != limits.TierName("t3") {
		t.Errorf("TierAssignments() = %v", cfg.Limits.TierAssignments())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"interval below a second", func(c *Config) { c.Scheduler.Interval = 500 * time.Millisecond }, "scheduler.interval"},
		{"zero batch", func(c *Config) { c.Scheduler.BatchSize = -1 }, "scheduler.batch_size"},
		{"negative cost", func(c *Config) { c.Scheduler.CostPerMessage = -0.1 }, "scheduler.cost_per_message"},
		{"unknown assignment tier", func(c *Config) { c.Limits.Assignments["x"] = "platinum" }, "limits.assignments.x"},
		{"too few tiers", func(c *Config) { c.Limits.Tiers = limits.DefaultTiers[:2] }, "limits.tiers"},
		{"bad limits backend", func(c *Config) { c.Limits.Storage.Backend = "redis" }, "limits.storage.backend"},
		{"bad prune schedule", func(c *Config) { c.History.PruneSchedule = "every day" }, "history.prune_schedule"},
		{"bad store backend", func(c *Config) { c.Store.Backend = "postgres" }, "store.backend"},
		{"webhook without url", func(c *Config) {
			c.Channels = []ChannelConfig{{Name: "a", Platform: "telegram", Type: "webhook"}}
		}, "channels[0].url"},
		{"webhook with bad url", func(c *Config) {
			c.Channels = []ChannelConfig{{Name: "a", Platform: "telegram", Type: "webhook", URL: "localhost"}}
		}, "channels[0].url"},
		{"duplicate platform", func(c *Config) {
			c.Channels = []ChannelConfig{
				{Name: "a", Platform: "telegram", Type: "log"},
				{Name: "b", Platform: "telegram", Type: "log"},
			}
		}, "channels[1].platform"},
		{"unknown channel type", func(c *Config) {
			c.Channels = []ChannelConfig{{Name: "a", Platform: "telegram", Type: "smtp"}}
		}, "channels[0].type"},
		{"bad listen address", func(c *Config) { c.Server.ListenAddress = "9090" }, "server.listen_address"},
		{"bad log level", func(c *Config) { c.Telemetry.Logging.Level = "verbose" }, "telemetry.logging.level"},
		{"bad log format", func(c *Config) { c.Telemetry.Logging.Format = "xml" }, "telemetry.logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := MinimalConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() errors = %v, want one on %s", verr.Errors, tt.field)
			}
		})
	}
}

func TestValidate_MinimalConfig(t *testing.T) {
	if err := Validate(MinimalConfig()); err != nil {
		t.Errorf("MinimalConfig() should be valid: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := MinimalConfig()
	cfg.Scheduler.BatchSize = -1
	cfg.Store.Backend = "nope"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() should fail")
	}
	if !strings.Contains(err.Error(), "validation failed with 2 errors") {
		t.Errorf("error message = %q", err.Error())
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
channels:
  - name: tg-bridge
    platform: telegram
    url: http://localhost:7000/send
`)

	t.Setenv("DISPATCH_SCHEDULER_INTERVAL", "5s")
	t.Setenv("DISPATCH_STORE_PATH", "/tmp/override.db")
	t.Setenv("DISPATCH_HISTORY_ENABLED", "false")
	t.Setenv("DISPATCH_CHANNELS_TG_BRIDGE_TOKEN", "from-env")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() error = %v", err)
	}
	if cfg.Scheduler.Interval != 5*time.Second {
		t.Errorf("interval = %v, want 5s", cfg.Scheduler.Interval)
	}
	if cfg.Store.Path != "/tmp/override.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if cfg.History.IsEnabled() {
		t.Error("history should be disabled by env")
	}
	if cfg.Channels[0].Token != "from-env" {
		t.Errorf("channel token = %q, want from-env", cfg.Channels[0].Token)
	}
}

func TestLoadConfigWithEnvOverrides_InvalidValue(t *testing.T) {
	t.Setenv("DISPATCH_SCHEDULER_BATCH_SIZE", "ten")

	_, err := LoadConfigWithEnvOverrides("")
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if verr.Errors[0].Field != "DISPATCH_SCHEDULER_BATCH_SIZE" {
		t.Errorf("field = %q", verr.Errors[0].Field)
	}
}

func TestLoadConfigWithEnvOverrides_DotEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "scheduler:\n  batch_size: 3\n")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DISPATCH_SCHEDULER_COST_PER_MESSAGE=0.25\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// t.Setenv restores the variable godotenv sets.
	t.Setenv("DISPATCH_SCHEDULER_COST_PER_MESSAGE", "")
	os.Unsetenv("DISPATCH_SCHEDULER_COST_PER_MESSAGE")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() error = %v", err)
	}
	if cfg.Scheduler.CostPerMessage != 0.25 {
		t.Errorf("cost per message = %v, want 0.25 from .env", cfg.Scheduler.CostPerMessage)
	}
}

func TestEnvName(t *testing.T) {
	tests := map[string]string{
		"tg-bridge": "TG_BRIDGE",
		"WhatsApp1": "WHATSAPP1",
		"a.b c":     "A_B_C",
	}
	for in, want := range tests {
		if got := envName(in); got != want {
			t.Errorf("envName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "scheduler:\n  batch_size: 1\n")

	w, err := NewWatcher(path, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	var (
		mu      sync.Mutex
		batches []int
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.Watch(ctx, func(cfg *Config) error {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, cfg.Scheduler.BatchSize)
		return nil
	})
	time.Sleep(50 * time.Millisecond)

	// An invalid file is ignored.
	writeConfig(t, dir, "scheduler:\n  batch_size: -4\n")
	time.Sleep(100 * time.Millisecond)

	writeConfig(t, dir, "scheduler:\n  batch_size: 7\n")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(batches)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) == 0 || batches[len(batches)-1] != 7 {
		t.Errorf("reloaded batch sizes = %v, want last to be 7", batches)
	}
	for _, b := range batches {
		if b < 0 {
			t.Errorf("invalid configuration was applied: %v", batches)
		}
	}
}

func TestDebouncer(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	var (
		mu    sync.Mutex
		calls []int
	)
	for i := 0; i < 5; i++ {
		i := i
		d.Trigger(func() {
			mu.Lock()
			calls = append(calls, i)
			mu.Unlock()
		})
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 || calls[0] != 4 {
		t.Errorf("calls = %v, want [4]", calls)
	}
}
