package config

import "time"

// Default values for configuration fields.
const (
	// Scheduler defaults
	DefaultSchedulerInterval  = 30 * time.Second
	DefaultSchedulerBatchSize = 10

	// Limits defaults
	DefaultLimitsStorageBackend = "sqlite"

	// History defaults
	DefaultHistoryBackend       = "sqlite"
	DefaultHistoryPath          = "data/history.db"
	DefaultHistoryRetentionDays = 400
	DefaultHistoryPruneSchedule = "0 3 * * *"
	DefaultHistoryWriteTimeout  = 5 * time.Second

	// Store defaults
	DefaultStoreBackend     = "sqlite"
	DefaultStorePath        = "data/dispatch.db"
	DefaultStoreBusyTimeout = 5 * time.Second

	// Channel defaults
	DefaultChannelType                = "webhook"
	DefaultChannelTimeout             = 10 * time.Second
	DefaultChannelMaxRetries          = 2
	DefaultChannelHealthCheckInterval = 30 * time.Second

	// Server defaults
	DefaultServerListenAddress   = "127.0.0.1:9090"
	DefaultServerShutdownTimeout = 10 * time.Second

	// Notify defaults
	DefaultNotifyPath = "/ws"

	// Telemetry defaults
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
	DefaultMetricsPath = "/metrics"
)

// ApplyDefaults fills every unset field with its default value.
func ApplyDefaults(cfg *Config) {
	applySchedulerDefaults(&cfg.Scheduler)
	applyLimitsDefaults(&cfg.Limits)
	applyHistoryDefaults(&cfg.History)
	applyStoreDefaults(&cfg.Store)
	for i := range cfg.Channels {
		applyChannelDefaults(&cfg.Channels[i])
	}
	applyServerDefaults(&cfg.Server)
	if cfg.Notify.Path == "" {
		cfg.Notify.Path = DefaultNotifyPath
	}
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applySchedulerDefaults(cfg *SchedulerConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultSchedulerInterval
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultSchedulerBatchSize
	}
}

func applyLimitsDefaults(cfg *LimitsConfig) {
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultLimitsStorageBackend
	}
	if cfg.Assignments == nil {
		cfg.Assignments = make(map[string]string)
	}
}

func applyHistoryDefaults(cfg *HistoryConfig) {
	if cfg.Enabled == nil {
		cfg.Enabled = boolPtr(true)
	}
	if cfg.Backend == "" {
		cfg.Backend = DefaultHistoryBackend
	}
	if cfg.Path == "" {
		cfg.Path = DefaultHistoryPath
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = DefaultHistoryRetentionDays
	}
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = DefaultHistoryPruneSchedule
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultHistoryWriteTimeout
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultStoreBackend
	}
	if cfg.Path == "" {
		cfg.Path = DefaultStorePath
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = DefaultStoreBusyTimeout
	}
}

func applyChannelDefaults(cfg *ChannelConfig) {
	if cfg.Type == "" {
		cfg.Type = DefaultChannelType
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Platform
	}
	if cfg.Type != "webhook" {
		return
	}
	if cfg.HealthURL == "" {
		cfg.HealthURL = cfg.URL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultChannelTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultChannelMaxRetries
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = DefaultChannelHealthCheckInterval
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultServerListenAddress
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultServerShutdownTimeout
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Logging.RedactPII == nil {
		cfg.Logging.RedactPII = boolPtr(true)
	}
	if cfg.Metrics.Enabled == nil {
		cfg.Metrics.Enabled = boolPtr(true)
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}

// MinimalConfig returns a valid configuration with every default applied.
func MinimalConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func boolPtr(b bool) *bool {
	return &b
}
