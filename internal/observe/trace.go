package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kqlgateway/kqlgateway/internal/gwerrors"
)

// tracerName is the instrumentation scope name for the gateway's tracer.
const tracerName = "github.com/kqlgateway/kqlgateway"

// Tracer returns the package-level [trace.Tracer] for the gateway. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartQuerySpan starts the span for one run of the KQL pipeline (spec.md
// §4's C1-C10 chain: lex, parse, validate, plan, execute). queryType is the
// envelope's metadata.query_type ("standard", "aggregation", "legacy_find",
// or "upsert" for UPSERT statements) and is recorded as the kql.query_type
// attribute, so a trace backend can group and filter spans by the pipeline
// stage mix a given query type exercises (an aggregation query takes the
// C4 group-by/aggregate plan; a standard find doesn't).
func StartQuerySpan(ctx context.Context, queryType string) (context.Context, trace.Span) {
	return StartSpan(ctx, "kql.query", trace.WithAttributes(
		attribute.String("kql.query_type", queryType),
	))
}

// EndQuerySpan closes a span started by [StartQuerySpan], recording err (if
// any) as the span's status and a kip.error_code attribute taken from its
// [gwerrors.Error] classification. Safe to call with a nil err.
func EndQuerySpan(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	gwErr, ok := gwerrors.As(err)
	code := "KIP500"
	if ok {
		code = gwErr.Code
	}
	span.SetAttributes(attribute.String("kip.error_code", code))
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
//
// This provides backward compatibility with code that used the old
// correlation ID system - the trace ID serves as the correlation identifier.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
