package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "kioskvoice".
	ServiceName string

	// ServiceVersion is the service version reported in telemetry.
	ServiceVersion string

	// Registry receives the Prometheus collectors. When nil a fresh registry
	// is created with the Go runtime and process collectors already
	// registered; it is available from [Telemetry.Registry].
	Registry *prometheus.Registry

	// TraceExporter is an optional span exporter. When nil, spans are
	// recorded but not exported. In production this would typically be an
	// OTLP exporter.
	TraceExporter sdktrace.SpanExporter
}

// Telemetry is the result of [InitProvider].
type Telemetry struct {
	// Registry holds the Prometheus collectors fed by the OTel meter provider.
	Registry *prometheus.Registry

	// Shutdown flushes and closes exporters. Call it in a defer from main().
	Shutdown func(context.Context) error
}

// MetricsHandler returns the /metrics handler for the telemetry registry.
func (t *Telemetry) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(t.Registry, promhttp.HandlerOpts{})
}

// InitProvider initialises the OTel SDK with the given config. It sets up:
//
//   - A [sdkmetric.MeterProvider] with a Prometheus exporter so metrics can
//     be scraped via /metrics.
//   - A [sdktrace.TracerProvider] with the configured exporter (or none).
//
// Both providers are registered as the global OTel providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "kioskvoice"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
		cfg.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	// The service attributes carry no schema URL, so the merge keeps the one of
	// the SDK default resource.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	var shutdownFuncs []func(context.Context) error

	// --- Metrics: Prometheus exporter bridge ---
	promExp, err := promexporter.New(promexporter.WithRegisterer(cfg.Registry))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)
	shutdownFuncs = append(shutdownFuncs, mp.Shutdown)

	// --- Traces ---
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	shutdownFuncs = append(shutdownFuncs, tp.Shutdown)

	shutdown := func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if e := fn(ctx); e != nil {
				errs = append(errs, e)
			}
		}
		return errors.Join(errs...)
	}

	return &Telemetry{Registry: cfg.Registry, Shutdown: shutdown}, nil
}
