package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers. The zero value is
// inert: every Record and Instrument method is safe to call on a nil or
// disabled instance.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// RED Metrics (Rate, Errors, Duration)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Business Metrics
	downloadsTotal      metric.Int64Counter
	downloadsActive     metric.Int64UpDownCounter
	downloadDuration    metric.Float64Histogram
	gateWaitDuration    metric.Float64Histogram
	tokenRefreshesTotal metric.Int64Counter
	clientOpsTotal      metric.Int64Counter
	clientErrors        metric.Int64Counter
	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram

	// System health
	memoryUsage    metric.Int64Gauge
	goroutineCount metric.Int64Gauge
	systemUptime   metric.Float64Gauge
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	go t.collectSystemMetrics(ctx)

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordDownload counts one finished download for a provider.
func (t *Telemetry) RecordDownload(ctx context.Context, provider, status string) {
	if t != nil && t.downloadsTotal != nil {
		t.downloadsTotal.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("status", status),
			),
		)
	}
}

// RecordDownloadDuration records how long one download took end to end.
func (t *Telemetry) RecordDownloadDuration(ctx context.Context, provider, status string, duration time.Duration) {
	if t != nil && t.downloadDuration != nil {
		t.downloadDuration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("status", status),
			),
		)
	}
}

// IncrementActiveDownloads increments the active downloads counter.
func (t *Telemetry) IncrementActiveDownloads() {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(context.Background(), 1)
	}
}

// DecrementActiveDownloads decrements the active downloads counter.
func (t *Telemetry) DecrementActiveDownloads() {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(context.Background(), -1)
	}
}

// RecordGateWait records how long a transfer waited for a provider slot.
func (t *Telemetry) RecordGateWait(ctx context.Context, provider string, wait time.Duration) {
	if t != nil && t.gateWaitDuration != nil {
		t.gateWaitDuration.Record(ctx, wait.Seconds(),
			metric.WithAttributes(attribute.String("provider", provider)),
		)
	}
}

// RecordTokenRefresh counts one OAuth2 token exchange.
func (t *Telemetry) RecordTokenRefresh(ctx context.Context, status string) {
	if t != nil && t.tokenRefreshesTotal != nil {
		t.tokenRefreshesTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
}

// RecordClientOperation records transport client operation metrics.
func (t *Telemetry) RecordClientOperation(client, operation, status string) {
	if t == nil {
		return
	}

	if t.clientOpsTotal != nil {
		t.clientOpsTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("client", client),
				attribute.String("operation", operation),
				attribute.String("status", status),
			),
		)
	}

	if status == "error" && t.clientErrors != nil {
		t.clientErrors.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("client", client),
				attribute.String("operation", operation),
			),
		)
	}
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.dbOperationsTotal != nil {
		t.dbOperationsTotal.Add(context.Background(), 1, attrs)
	}

	if t.dbOperationDuration != nil {
		t.dbOperationDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown gracefully shuts down the telemetry system.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		return mp.Shutdown(ctx)
	}

	return nil
}

func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeREDMetrics(); err != nil {
		return err
	}

	if err := t.initializeBusinessMetrics(); err != nil {
		return err
	}

	return t.initializeSystemMetrics()
}

func (t *Telemetry) initializeREDMetrics() error {
	var err error

	t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeBusinessMetrics() error {
	var err error

	t.downloadsTotal, err = t.meter.Int64Counter(
		"downloads_total",
		metric.WithDescription("Total number of dataset downloads"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create downloads_total counter: %w", err)
	}

	t.downloadsActive, err = t.meter.Int64UpDownCounter(
		"downloads_active",
		metric.WithDescription("Number of active dataset downloads"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create downloads_active counter: %w", err)
	}

	t.downloadDuration, err = t.meter.Float64Histogram(
		"download_duration_seconds",
		metric.WithDescription("Dataset download duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_duration histogram: %w", err)
	}

	t.gateWaitDuration, err = t.meter.Float64Histogram(
		"gate_wait_duration_seconds",
		metric.WithDescription("Time spent waiting for a provider concurrency slot"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create gate_wait_duration histogram: %w", err)
	}

	t.tokenRefreshesTotal, err = t.meter.Int64Counter(
		"token_refreshes_total",
		metric.WithDescription("Total number of OAuth2 token exchanges"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create token_refreshes_total counter: %w", err)
	}

	t.clientOpsTotal, err = t.meter.Int64Counter(
		"client_operations_total",
		metric.WithDescription("Total number of transport client operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create client_operations_total counter: %w", err)
	}

	t.clientErrors, err = t.meter.Int64Counter(
		"client_errors_total",
		metric.WithDescription("Total number of transport client errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create client_errors counter: %w", err)
	}

	t.dbOperationsTotal, err = t.meter.Int64Counter(
		"db_operations_total",
		metric.WithDescription("Total number of database operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operations_total counter: %w", err)
	}

	t.dbOperationDuration, err = t.meter.Float64Histogram(
		"db_operation_duration_seconds",
		metric.WithDescription("Database operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operation_duration histogram: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeSystemMetrics() error {
	var err error

	t.memoryUsage, err = t.meter.Int64Gauge(
		"memory_usage_bytes",
		metric.WithDescription("Memory usage in bytes"),
		metric.WithUnit("bytes"),
	)
	if err != nil {
		return fmt.Errorf("failed to create memory_usage gauge: %w", err)
	}

	t.goroutineCount, err = t.meter.Int64Gauge(
		"goroutine_count",
		metric.WithDescription("Number of goroutines"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create goroutine_count gauge: %w", err)
	}

	t.systemUptime, err = t.meter.Float64Gauge(
		"system_uptime_seconds",
		metric.WithDescription("System uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_uptime gauge: %w", err)
	}

	return nil
}

// collectSystemMetrics collects system-level metrics periodically.
func (t *Telemetry) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.updateSystemMetrics(startTime)
		}
	}
}

func (t *Telemetry) updateSystemMetrics(startTime time.Time) {
	var m runtime.MemStats

	runtime.ReadMemStats(&m)

	if t.memoryUsage != nil {
		t.memoryUsage.Record(context.Background(), int64(m.Alloc))
	}

	if t.goroutineCount != nil {
		t.goroutineCount.Record(context.Background(), int64(runtime.NumGoroutine()))
	}

	if t.systemUptime != nil {
		t.systemUptime.Record(context.Background(), time.Since(startTime).Seconds())
	}
}
