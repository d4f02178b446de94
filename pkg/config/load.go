package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DISPATCH_"

// LoadConfig loads configuration from a YAML file, applies defaults and
// validates it. Environment variables are not consulted.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration the way the daemon does:
//
//  1. Load a .env file next to the config file, or in the working
//     directory, into the environment (existing variables win)
//  2. Load YAML from path, or start from defaults when path is empty
//  3. Apply DISPATCH_* environment overrides
//  4. Validate the result
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	envFiles := []string{".env"}
	if path != "" {
		envFiles = append([]string{filepath.Join(filepath.Dir(path), ".env")}, envFiles...)
	}
	LoadDotEnv(envFiles...)

	var cfg *Config
	if path == "" {
		cfg = MinimalConfig()
	} else {
		var err error
		cfg, err = LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads the first existing file among paths into the
// environment. Variables already set are not overwritten.
func LoadDotEnv(paths ...string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

// applyEnvOverrides applies DISPATCH_SECTION_FIELD variables. A variable
// that does not parse is an error rather than silently ignored.
func applyEnvOverrides(cfg *Config) error {
	var errs []FieldError

	str := func(name string, dst *string) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			*dst = val
		}
	}
	dur := func(name string, dst *time.Duration) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				errs = append(errs, FieldError{Field: EnvPrefix + name, Message: fmt.Sprintf("invalid duration %q", val)})
				return
			}
			*dst = d
		}
	}
	integer := func(name string, dst *int) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, FieldError{Field: EnvPrefix + name, Message: fmt.Sprintf("invalid integer %q", val)})
				return
			}
			*dst = i
		}
	}
	float := func(name string, dst *float64) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				errs = append(errs, FieldError{Field: EnvPrefix + name, Message: fmt.Sprintf("invalid number %q", val)})
				return
			}
			*dst = f
		}
	}
	boolean := func(name string, dst **bool) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			b, err := strconv.ParseBool(val)
			if err != nil {
				errs = append(errs, FieldError{Field: EnvPrefix + name, Message: fmt.Sprintf("invalid boolean %q", val)})
				return
			}
			*dst = &b
		}
	}

	// Scheduler
	dur("SCHEDULER_INTERVAL", &cfg.Scheduler.Interval)
	integer("SCHEDULER_BATCH_SIZE", &cfg.Scheduler.BatchSize)
	float("SCHEDULER_COST_PER_MESSAGE", &cfg.Scheduler.CostPerMessage)

	// Limits
	str("LIMITS_STORAGE_BACKEND", &cfg.Limits.Storage.Backend)
	str("LIMITS_STORAGE_PATH", &cfg.Limits.Storage.Path)

	// History
	boolean("HISTORY_ENABLED", &cfg.History.Enabled)
	str("HISTORY_BACKEND", &cfg.History.Backend)
	str("HISTORY_PATH", &cfg.History.Path)
	integer("HISTORY_RETENTION_DAYS", &cfg.History.RetentionDays)
	str("HISTORY_PRUNE_SCHEDULE", &cfg.History.PruneSchedule)

	// Store
	str("STORE_BACKEND", &cfg.Store.Backend)
	str("STORE_PATH", &cfg.Store.Path)
	dur("STORE_BUSY_TIMEOUT", &cfg.Store.BusyTimeout)

	// Server
	str("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	dur("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Telemetry
	str("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	str("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	boolean("TELEMETRY_LOGGING_REDACT_PII", &cfg.Telemetry.Logging.RedactPII)
	boolean("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)

	// Channels: DISPATCH_CHANNELS_<NAME>_TOKEN and _URL, so secrets can
	// stay out of the file.
	for i := range cfg.Channels {
		ch := &cfg.Channels[i]
		key := "CHANNELS_" + envName(ch.Name) + "_"
		str(key+"TOKEN", &ch.Token)
		str(key+"URL", &ch.URL)
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// envName upper-cases name and replaces anything outside [A-Z0-9] with _.
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}
