// Package tracing configures the OpenTelemetry TracerProvider behind the
// API Controllers' per-request spans, so a trace id can be logged alongside
// every request (spec §10.3). The Task Worker creates no spans.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls whether and how spans are exported. An empty Config
// leaves the global no-op TracerProvider in place.
type Config struct {
	Enabled     bool    `long:"tracing-enabled"  description:"export spans via OTLP/gRPC"`
	Endpoint    string  `long:"tracing-endpoint" description:"OTLP/gRPC collector endpoint" default:"localhost:4317"`
	ServiceName string  `long:"tracing-service-name" description:"service.name resource attribute" default:"arxiv-compiler"`
	Sampling    SamplingConfig
}

// Configured reports whether ConfigureTracerProvider has installed a real
// exporter, as opposed to the default no-op provider.
var Configured bool

// ConfigureTracerProvider builds and installs a TracerProvider for cfg. It
// is a no-op, returning a no-op shutdown function, when cfg.Enabled is
// false. The returned shutdown function must be called on process exit.
func ConfigureTracerProvider(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: building otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("tracing: building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.Sampler()),
	)
	otel.SetTracerProvider(tp)
	Configured = true

	return tp.Shutdown, nil
}
