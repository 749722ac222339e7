package logctx

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// TraceHandler decorates an slog.Handler so every record emitted inside an
// active OpenTelemetry span carries trace_id and span_id attributes.
type TraceHandler struct {
	inner slog.Handler
}

// NewTraceHandler wraps h. A nil handler is a programming error and panics.
func NewTraceHandler(h slog.Handler) *TraceHandler {
	if h == nil {
		panic("logctx: NewTraceHandler called with nil handler")
	}

	return &TraceHandler{inner: h}
}

// Enabled delegates to the wrapped handler.
func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle attaches the span identifiers, when the context carries a valid
// span, before delegating to the wrapped handler.
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if spanCtx := trace.SpanFromContext(ctx).SpanContext(); spanCtx.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}

	return h.inner.Handle(ctx, r)
}

// WithAttrs wraps the result of the inner handler's WithAttrs.
func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{inner: h.inner.WithAttrs(attrs)}
}

// WithGroup wraps the result of the inner handler's WithGroup.
func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{inner: h.inner.WithGroup(name)}
}
