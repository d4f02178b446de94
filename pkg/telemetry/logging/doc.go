// Package logging configures the process-wide slog logger.
//
// New builds a JSON or text handler at the configured level, optionally with
// a ReplaceAttr hook that masks recipients, bearer tokens, e-mail addresses
// and phone numbers. Setup installs the result as slog's default so the
// per-component loggers (slog.Default().With("component", ...)) inherit it.
//
// Context helpers carry poll, job, conversation and identity IDs through a
// call chain; FromContext attaches them to a logger:
//
//	ctx = logging.WithJobID(ctx, job.ID)
//	logging.FromContext(ctx, logger).Info("job sent")
package logging
