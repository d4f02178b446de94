package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/dispatch/pkg/limits"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "store.path").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration. All field errors are
// collected and returned together as a ValidationError.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateHistory(&cfg.History)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateChannels(cfg.Channels)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if cfg.Notify.Enabled && !strings.HasPrefix(cfg.Notify.Path, "/") {
		errs = append(errs, FieldError{Field: "notify.path", Message: "path must start with /"})
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateScheduler(cfg *SchedulerConfig) []FieldError {
	var errs []FieldError

	if cfg.Interval < time.Second {
		errs = append(errs, FieldError{
			Field:   "scheduler.interval",
			Message: "interval must be at least 1s",
		})
	}
	if cfg.BatchSize <= 0 {
		errs = append(errs, FieldError{
			Field:   "scheduler.batch_size",
			Message: "batch size must be positive",
		})
	}
	if cfg.CostPerMessage < 0 {
		errs = append(errs, FieldError{
			Field:   "scheduler.cost_per_message",
			Message: "cost must be non-negative",
		})
	}

	return errs
}

func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	catalog, err := cfg.Catalog()
	if err != nil {
		errs = append(errs, FieldError{Field: "limits.tiers", Message: err.Error()})
	} else {
		for id, tier := range cfg.Assignments {
			if !catalog.Has(limits.TierName(tier)) {
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("limits.assignments.%s", id),
					Message: fmt.Sprintf("unknown tier %q", tier),
				})
			}
		}
	}

	if !validBackend(cfg.Storage.Backend) {
		errs = append(errs, FieldError{
			Field:   "limits.storage.backend",
			Message: fmt.Sprintf("invalid backend %q (must be sqlite or memory)", cfg.Storage.Backend),
		})
	}

	return errs
}

func validateHistory(cfg *HistoryConfig) []FieldError {
	if !cfg.IsEnabled() {
		return nil
	}

	var errs []FieldError

	if !validBackend(cfg.Backend) {
		errs = append(errs, FieldError{
			Field:   "history.backend",
			Message: fmt.Sprintf("invalid backend %q (must be sqlite or memory)", cfg.Backend),
		})
	}
	if cfg.Backend == "sqlite" && cfg.Path == "" {
		errs = append(errs, FieldError{Field: "history.path", Message: "path is required for sqlite backend"})
	}
	if cfg.RetentionDays < 0 {
		errs = append(errs, FieldError{Field: "history.retention_days", Message: "retention days must be non-negative"})
	}
	if cfg.RetentionDays > 0 {
		if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "history.prune_schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "history.write_timeout", Message: "write timeout must be positive"})
	}

	return errs
}

func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	if !validBackend(cfg.Backend) {
		errs = append(errs, FieldError{
			Field:   "store.backend",
			Message: fmt.Sprintf("invalid backend %q (must be sqlite or memory)", cfg.Backend),
		})
	}
	if cfg.Backend == "sqlite" && cfg.Path == "" {
		errs = append(errs, FieldError{Field: "store.path", Message: "path is required for sqlite backend"})
	}
	if cfg.BusyTimeout < 0 {
		errs = append(errs, FieldError{Field: "store.busy_timeout", Message: "busy timeout must be positive"})
	}

	return errs
}

func validateChannels(channels []ChannelConfig) []FieldError {
	var errs []FieldError

	names := make(map[string]bool)
	platforms := make(map[string]bool)

	for i, ch := range channels {
		prefix := fmt.Sprintf("channels[%d]", i)

		if ch.Platform == "" {
			errs = append(errs, FieldError{Field: prefix + ".platform", Message: "platform is required"})
		}
		if ch.Name != "" {
			if names[ch.Name] {
				errs = append(errs, FieldError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate channel name %q", ch.Name)})
			}
			names[ch.Name] = true
		}
		if len(ch.Accounts) == 0 && ch.Platform != "" {
			if platforms[ch.Platform] {
				errs = append(errs, FieldError{
					Field:   prefix + ".platform",
					Message: fmt.Sprintf("platform %q already has a platform-wide channel", ch.Platform),
				})
			}
			platforms[ch.Platform] = true
		}

		switch ch.Type {
		case "log":
		case "webhook":
			if ch.URL == "" {
				errs = append(errs, FieldError{Field: prefix + ".url", Message: "url is required for webhook channels"})
			} else if !isValidURL(ch.URL) {
				errs = append(errs, FieldError{Field: prefix + ".url", Message: fmt.Sprintf("invalid URL %q", ch.URL)})
			}
			if ch.HealthURL != "" && !isValidURL(ch.HealthURL) {
				errs = append(errs, FieldError{Field: prefix + ".health_url", Message: fmt.Sprintf("invalid URL %q", ch.HealthURL)})
			}
			if ch.Timeout < 0 {
				errs = append(errs, FieldError{Field: prefix + ".timeout", Message: "timeout must be positive"})
			}
			if ch.MaxRetries < 0 {
				errs = append(errs, FieldError{Field: prefix + ".max_retries", Message: "max retries must be non-negative"})
			}
		default:
			errs = append(errs, FieldError{
				Field:   prefix + ".type",
				Message: fmt.Sprintf("invalid channel type %q (must be webhook or log)", ch.Type),
			})
		}
	}

	return errs
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress != "" {
		if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
			errs = append(errs, FieldError{
				Field:   "server.listen_address",
				Message: fmt.Sprintf("invalid address %q: %v", cfg.ListenAddress, err),
			})
		}
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "shutdown timeout must be positive"})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn or error)", cfg.Logging.Level),
		})
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be json, text or console)", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.IsEnabled() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "path must start with /"})
	}

	return errs
}

func validBackend(b string) bool {
	return b == "sqlite" || b == "memory"
}

func isValidURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
