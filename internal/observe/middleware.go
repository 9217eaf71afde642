package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests no mux pattern matched, keeping the route
// attribute bounded.
const unmatchedRoute = "unmatched"

// statusRecorder wraps [http.ResponseWriter] to capture the status code
// written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Middleware instruments the operator endpoints served next to /metrics.
//
// Every request is timed into [Metrics.HTTPRequestDuration], labelled with the
// method, the [http.ServeMux] route pattern that matched, and the status code.
// Requests other than metric scrapes also get a server span that continues an
// incoming W3C trace context; its trace ID is echoed as X-Correlation-ID.
// A panicking handler is logged and answered with 500.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()

			var span trace.Span
			if r.URL.Path != "/metrics" {
				ctx = prop.Extract(ctx, propagation.HeaderCarrier(r.Header))
				ctx, span = StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
					trace.WithSpanKind(trace.SpanKindServer),
					trace.WithAttributes(
						semconv.HTTPRequestMethodKey.String(r.Method),
						semconv.URLPath(r.URL.Path),
					),
				)
				defer span.End()
				if cid := CorrelationID(ctx); cid != "" {
					w.Header().Set("X-Correlation-ID", cid)
				}
			}

			r = r.WithContext(ctx)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			defer func() {
				if p := recover(); p != nil {
					Logger(ctx).Error("observe: handler panicked", "path", r.URL.Path, "panic", p)
					if !rec.wroteHeader {
						http.Error(rec, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					}
					rec.status = http.StatusInternalServerError
				}

				// ServeMux stores the matched pattern on the request it was given.
				route := r.Pattern
				if route == "" {
					route = unmatchedRoute
				}
				d := time.Since(start)
				m.HTTPRequestDuration.Record(ctx, d.Seconds(),
					metric.WithAttributes(
						attribute.String("method", r.Method),
						attribute.String("route", route),
						attribute.String("status", strconv.Itoa(rec.status)),
					),
				)
				if span != nil {
					span.SetAttributes(
						semconv.HTTPRoute(route),
						semconv.HTTPResponseStatusCode(rec.status),
					)
				}
				slog.LogAttrs(ctx, slog.LevelDebug, "observe: request served",
					slog.String("method", r.Method),
					slog.String("route", route),
					slog.Int("status", rec.status),
					slog.Duration("duration", d),
				)
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
