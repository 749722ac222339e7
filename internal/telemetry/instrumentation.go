package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span and metric attributes stay bounded on purpose: operation types, status
// values and transport names only. Dataset URLs, file names and request IDs
// belong in logs, never in metric labels.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation instruments a generic operation with telemetry.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", duration.Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(operation, status, duration)

	return err
}

// InstrumentClientOperation instruments transport client operations.
func (t *Telemetry) InstrumentClientOperation(ctx context.Context, client, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "client_"+operation, "transport", func(ctx context.Context) error {
		ctx, span := t.tracer.Start(ctx, "client_"+operation)
		defer span.End()

		span.SetAttributes(
			attribute.String("client.type", client),
			attribute.String("client.operation", operation),
		)

		return fn(ctx)
	})

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordClientOperation(client, operation, status)

	return err
}

// InstrumentDownload instruments one dataset download end to end.
func (t *Telemetry) InstrumentDownload(ctx context.Context, provider string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveDownloads()
	defer t.DecrementActiveDownloads()

	err := t.InstrumentOperation(ctx, "download", "orchestrator", func(ctx context.Context) error {
		ctx, span := t.tracer.Start(ctx, "download")
		defer span.End()

		// Dataset URLs are high cardinality and stay out of span attributes.
		span.SetAttributes(attribute.String("download.provider", provider))

		return fn(ctx)
	})

	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDownloadDuration(ctx, provider, status, duration)

	return err
}
