// Package observe provides application-wide observability primitives for
// kioskvoice: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware for the operator endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [InitProvider] so that metrics can be scraped
// via the standard /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all kioskvoice metrics.
const meterName = "github.com/MrWong99/kioskvoice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Sessions ---

	// ActiveSessions tracks the number of live voice sessions (0 or 1 per engine).
	ActiveSessions metric.Int64UpDownCounter

	// SessionDuration tracks how long sessions last, from Start to teardown.
	SessionDuration metric.Float64Histogram

	// --- Turns ---

	// Turns counts finished assistant turns. Use with attribute:
	//   attribute.String("outcome", "completed"|"failed")
	Turns metric.Int64Counter

	// ResponseLatency tracks the time from a final user transcript to the
	// start of the assistant's reply.
	ResponseLatency metric.Float64Histogram

	// --- Audio ---

	// FramesSent counts captured frames written to the service.
	FramesSent metric.Int64Counter

	// FramesDropped counts captured frames evicted from a full send queue.
	FramesDropped metric.Int64Counter

	// --- Errors ---

	// Errors counts session errors. Use with attribute:
	//   attribute.String("kind", "device"|"connect"|"transport"|"protocol"|"config")
	Errors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks operator endpoint latency. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// conversational response latency.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5, 10,
}

// sessionBuckets covers kiosk sessions from a few seconds to half an hour.
var sessionBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("kioskvoice.sessions.active",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("kioskvoice.session.duration",
		metric.WithDescription("Duration of voice sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("kioskvoice.turns",
		metric.WithDescription("Total assistant turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ResponseLatency, err = m.Float64Histogram("kioskvoice.response.latency",
		metric.WithDescription("Time from final user transcript to assistant response start."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.FramesSent, err = m.Int64Counter("kioskvoice.frames.sent",
		metric.WithDescription("Captured audio frames written to the service."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("kioskvoice.frames.dropped",
		metric.WithDescription("Captured audio frames dropped from a full send queue."),
	); err != nil {
		return nil, err
	}

	if met.Errors, err = m.Int64Counter("kioskvoice.errors",
		metric.WithDescription("Total session errors by kind."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("kioskvoice.http.request.duration",
		metric.WithDescription("Operator endpoint latency by method, route, and status."),
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

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded decrements the active session gauge and records the session's
// duration.
func (m *Metrics) SessionEnded(ctx context.Context, d time.Duration) {
	m.ActiveSessions.Add(ctx, -1)
	m.SessionDuration.Record(ctx, d.Seconds())
}

// RecordTurn records one finished assistant turn.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordResponseLatency records the delay before the assistant started replying.
func (m *Metrics) RecordResponseLatency(ctx context.Context, d time.Duration) {
	m.ResponseLatency.Record(ctx, d.Seconds())
}

// RecordFrames adds sent and dropped capture frame counts. Zero values are
// skipped.
func (m *Metrics) RecordFrames(ctx context.Context, sent, dropped uint64) {
	if sent > 0 {
		m.FramesSent.Add(ctx, int64(sent))
	}
	if dropped > 0 {
		m.FramesDropped.Add(ctx, int64(dropped))
	}
}

// RecordError records one session error of the given kind.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
