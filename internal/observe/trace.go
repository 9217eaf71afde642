package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every span kioskvoice starts.
const tracerName = "github.com/MrWong99/kioskvoice"

// SessionSpanName names the span that covers one voice session from Start to
// the end of teardown.
const SessionSpanName = "voice.session"

// Tracer returns the kioskvoice tracer from the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartSessionSpan starts the [SessionSpanName] span for one session.
func StartSessionSpan(ctx context.Context, sessionID, voice string) (context.Context, trace.Span) {
	return StartSpan(ctx, SessionSpanName, trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("session.voice", voice),
	))
}

// SessionEvent adds a named event, such as a finished turn, to the span in ctx.
// It does nothing when ctx carries no recording span.
func SessionEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// CorrelationID is the trace ID of the span in ctx, or "" without one. It
// ties log lines and X-Correlation-ID headers to traces.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, annotated with trace_id and span_id when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

// SessionLogger is [Logger] plus a session_id attribute.
func SessionLogger(ctx context.Context, sessionID string) *slog.Logger {
	return Logger(ctx).With(slog.String("session_id", sessionID))
}
