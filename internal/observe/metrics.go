// Package observe provides application-wide observability primitives for
// the knowledge query gateway: OpenTelemetry metrics, distributed tracing,
// structured logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all gateway metrics.
const meterName = "github.com/kqlgateway/kqlgateway"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// QueryDuration tracks end-to-end query execution latency, from parsing
	// through row shaping. Use with attribute
	// attribute.String("query_type", ...).
	QueryDuration metric.Float64Histogram

	// QueriesTotal counts completed queries by query_type and outcome.
	QueriesTotal metric.Int64Counter

	// SlowQueriesTotal counts queries that crossed the slow-query threshold.
	SlowQueriesTotal metric.Int64Counter

	// CursorsIssued counts cursor tokens minted by the executor.
	CursorsIssued metric.Int64Counter

	// CursorsRejected counts cursors that failed to decode, expired, or
	// whose query hash did not match the incoming query.
	CursorsRejected metric.Int64Counter

	// TelemetryBufferDropped counts entries dropped from the in-memory
	// telemetry ring buffer on overflow.
	TelemetryBufferDropped metric.Int64Counter

	// StoreErrors counts store-layer failures by operation.
	StoreErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds).
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.QueryDuration, err = m.Float64Histogram("kipgateway.query.duration",
		metric.WithDescription("Latency of query plan execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueriesTotal, err = m.Int64Counter("kipgateway.queries.total",
		metric.WithDescription("Total completed queries by query_type and outcome."),
	); err != nil {
		return nil, err
	}
	if met.SlowQueriesTotal, err = m.Int64Counter("kipgateway.queries.slow",
		metric.WithDescription("Total queries that crossed the slow-query threshold."),
	); err != nil {
		return nil, err
	}
	if met.CursorsIssued, err = m.Int64Counter("kipgateway.cursors.issued",
		metric.WithDescription("Total cursor tokens minted."),
	); err != nil {
		return nil, err
	}
	if met.CursorsRejected, err = m.Int64Counter("kipgateway.cursors.rejected",
		metric.WithDescription("Total cursors that failed to decode or whose query hash did not match."),
	); err != nil {
		return nil, err
	}
	if met.TelemetryBufferDropped, err = m.Int64Counter("kipgateway.telemetry.buffer_dropped",
		metric.WithDescription("Total telemetry entries dropped from the ring buffer on overflow."),
	); err != nil {
		return nil, err
	}
	if met.StoreErrors, err = m.Int64Counter("kipgateway.store.errors",
		metric.WithDescription("Total store-layer failures by operation."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("kipgateway.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordQuery records one completed query's duration and outcome.
func (m *Metrics) RecordQuery(ctx context.Context, queryType string, durationSeconds float64, outcome string) {
	m.QueryDuration.Record(ctx, durationSeconds, metric.WithAttributes(attribute.String("query_type", queryType)))
	m.QueriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("query_type", queryType),
		attribute.String("outcome", outcome),
	))
}

// RecordSlowQuery increments the slow-query counter for queryType.
func (m *Metrics) RecordSlowQuery(ctx context.Context, queryType string) {
	m.SlowQueriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("query_type", queryType)))
}

// RecordCursorIssued increments the cursors-issued counter.
func (m *Metrics) RecordCursorIssued(ctx context.Context) {
	m.CursorsIssued.Add(ctx, 1)
}

// RecordCursorRejected increments the cursors-rejected counter with reason
// (e.g. "decode_failed", "hash_mismatch", "expired").
func (m *Metrics) RecordCursorRejected(ctx context.Context, reason string) {
	m.CursorsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordStoreError increments the store-error counter for operation.
func (m *Metrics) RecordStoreError(ctx context.Context, operation string) {
	m.StoreErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}
