// Package logctx carries a request-scoped slog.Logger through a context and
// enriches records with OpenTelemetry trace identifiers.
package logctx

import (
	"context"
	"log/slog"
)

type contextKey string

const loggerKey contextKey = "logger"

// WithLogger stores the logger in the context for downstream callers.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the logger stored in the context, falling back to
// slog.Default() when none was attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}
