package runtime

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mohammad-safakhou/groundchat/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Telemetry encapsulates tracer and meter providers.
type Telemetry struct {
	tp       *sdktrace.TracerProvider
	mp       *sdkmetric.MeterProvider
	registry *prometheus.Registry
}

// SetupTelemetry initializes metrics, exported through the prometheus registry
// served by MetricsHandler, and tracing, exported over OTLP gRPC when an endpoint
// is configured.
func SetupTelemetry(ctx context.Context, cfg config.TelemetryConfig) (*Telemetry, otelmetric.Meter, trace.Tracer, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "groundchat"
	}
	if !cfg.Enabled {
		return &Telemetry{}, otel.Meter(name), otel.Tracer(name), nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
			attribute.String("service.namespace", "groundchat"),
			attribute.String("service.version", cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resource init: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.OTLPEndpoint != "" {
		traceExporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent(name+"/"+cfg.ServiceVersion)),
		)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("otlp init: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(traceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	tracer := tp.Tracer(name)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promExporter, err := promexporter.New(promexporter.WithRegisterer(promRegistry))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("prom exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	meter := mp.Meter(name)

	return &Telemetry{tp: tp, mp: mp, registry: promRegistry}, meter, tracer, nil
}

// MetricsHandler serves the telemetry registry, or the default prometheus registry
// when telemetry is disabled.
func (t *Telemetry) MetricsHandler() http.Handler {
	if t == nil || t.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var err error
	if t.tp != nil {
		if e := t.tp.Shutdown(ctx); e != nil {
			err = fmt.Errorf("trace shutdown: %w", e)
		}
	}
	if t.mp != nil {
		if e := t.mp.Shutdown(ctx); e != nil {
			if err != nil {
				err = fmt.Errorf("%v; metric shutdown: %w", err, e)
			} else {
				err = fmt.Errorf("metric shutdown: %w", e)
			}
		}
	}
	return err
}
