package config

import (
	"time"

	"mercator-hq/dispatch/pkg/limits"
)

// Config is the root configuration structure for the dispatcher.
type Config struct {
	// Scheduler controls the poll loop.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Limits contains the tier catalog, tier assignments and counter storage.
	Limits LimitsConfig `yaml:"limits"`

	// History contains usage snapshot storage and retention.
	History HistoryConfig `yaml:"history"`

	// Store is the job and conversation database.
	Store StoreConfig `yaml:"store"`

	// Channels lists the delivery channels, at most one per platform
	// unless scoped to accounts.
	Channels []ChannelConfig `yaml:"channels"`

	// Server is the HTTP listener for metrics, health and notifications.
	Server ServerConfig `yaml:"server"`

	// Notify enables websocket "message created" events.
	Notify NotifyConfig `yaml:"notify"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// SchedulerConfig contains configuration for the poll loop.
type SchedulerConfig struct {
	// Interval is the time between polls. The ticker's resolution is one
	// second.
	// Default: 30s
	Interval time.Duration `yaml:"interval"`

	// BatchSize is the maximum number of due jobs taken per poll.
	// Default: 10
	BatchSize int `yaml:"batch_size"`

	// CostPerMessage is charged to the monthly budget for each delivery,
	// in USD.
	// Default: 0
	CostPerMessage float64 `yaml:"cost_per_message"`
}

// LimitsConfig contains configuration for tiered rate limiting.
type LimitsConfig struct {
	// Tiers replaces the built-in catalog when non-empty. At least four
	// tiers with strictly increasing ceilings are required.
	Tiers []limits.TierDefinition `yaml:"tiers"`

	// Assignments maps identities to the tier they start on.
	Assignments map[string]string `yaml:"assignments"`

	// Storage selects where usage counters live.
	Storage LimitsStorageConfig `yaml:"storage"`
}

// LimitsStorageConfig configures usage counter persistence.
type LimitsStorageConfig struct {
	// Backend is "sqlite" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// Path is a separate database file for counters. Empty shares the
	// store database.
	Path string `yaml:"path"`
}

// HistoryConfig contains configuration for usage history.
type HistoryConfig struct {
	// Enabled turns on history recording and pruning.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Backend is "sqlite" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// Path is the history database file.
	// Default: "data/history.db"
	Path string `yaml:"path"`

	// RetentionDays is how long records are kept. 0 keeps them forever.
	// Default: 400
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is a cron expression for pruning.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`

	// WriteTimeout bounds each insert.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// IsEnabled reports whether history is enabled.
func (h HistoryConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// StoreConfig configures the job and conversation database.
type StoreConfig struct {
	// Backend is "sqlite" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// Path is the database file.
	// Default: "data/dispatch.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait for SQLite locks.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// DisableWAL turns off write-ahead logging.
	DisableWAL bool `yaml:"disable_wal"`
}

// ChannelConfig configures one delivery channel.
type ChannelConfig struct {
	// Name identifies the channel in logs.
	Name string `yaml:"name"`

	// Platform is the platform this channel delivers on.
	Platform string `yaml:"platform"`

	// Type is "webhook" or "log".
	// Default: "webhook"
	Type string `yaml:"type"`

	// Accounts restricts the channel to these platform account IDs. Empty
	// makes it the platform-wide channel.
	Accounts []string `yaml:"accounts"`

	// URL receives deliveries (webhook only).
	URL string `yaml:"url"`

	// HealthURL is probed by the health checker (webhook only).
	// Default: URL
	HealthURL string `yaml:"health_url"`

	// Token is sent as a bearer token (webhook only).
	Token string `yaml:"token"`

	// Timeout bounds each request.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of retries after transient failures.
	// Default: 2
	MaxRetries int `yaml:"max_retries"`

	// HealthCheckInterval is the probe period.
	// Default: 30s
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// ListenAddress is "host:port". Empty disables the listener.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// NotifyConfig configures websocket notifications.
type NotifyConfig struct {
	// Enabled serves the websocket endpoint.
	Enabled bool `yaml:"enabled"`

	// Path is the websocket endpoint path.
	// Default: "/ws"
	Path string `yaml:"path"`
}

// TelemetryConfig contains logging and metrics configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is json, text or console.
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line in records.
	AddSource bool `yaml:"add_source"`

	// RedactPII masks recipients, tokens and similar values.
	// Default: true
	RedactPII *bool `yaml:"redact_pii"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled serves metrics on the server listener.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the metrics endpoint path.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// IsEnabled reports whether metrics are enabled.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Catalog builds the tier catalog. An empty tier list yields the built-in
// catalog.
func (l LimitsConfig) Catalog() (*limits.Catalog, error) {
	if len(l.Tiers) == 0 {
		return limits.DefaultCatalog(), nil
	}
	return limits.NewCatalog(l.Tiers)
}

// TierAssignments converts Assignments to tier names.
func (l LimitsConfig) TierAssignments() map[string]limits.TierName {
	out := make(map[string]limits.TierName, len(l.Assignments))
	for id, tier := range l.Assignments {
		out[id] = limits.TierName(tier)
	}
	return out
}
