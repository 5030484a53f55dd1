package metric

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	fetchDurationHistogram   otelmetric.Float64Histogram
	convertDurationHistogram otelmetric.Float64Histogram
	storeDurationHistogram   otelmetric.Float64Histogram
	tasksCreatedCounter      otelmetric.Float64Counter
)

// InitCompileMetrics creates the OTel instruments the worker and dispatch
// packages record into. Safe to call once at process start. The instruments
// come from the global MeterProvider, which discards recordings while no
// real provider is installed. Until InitCompileMetrics has run the
// instruments are nil and the Record functions do nothing.
func InitCompileMetrics() {
	meter := otel.Meter("arxiv-compiler")

	if h, err := meter.Float64Histogram(
		"arxiv_compiler.fetch.duration",
		otelmetric.WithDescription("Duration of the source-fetch stage in seconds"),
		otelmetric.WithUnit("s"),
	); err == nil {
		fetchDurationHistogram = h
	}

	if h, err := meter.Float64Histogram(
		"arxiv_compiler.convert.duration",
		otelmetric.WithDescription("Duration of the converter invocation in seconds"),
		otelmetric.WithUnit("s"),
	); err == nil {
		convertDurationHistogram = h
	}

	if h, err := meter.Float64Histogram(
		"arxiv_compiler.store.duration",
		otelmetric.WithDescription("Duration of the artifact/log/status store stage in seconds"),
		otelmetric.WithUnit("s"),
	); err == nil {
		storeDurationHistogram = h
	}

	if c, err := meter.Float64Counter(
		"arxiv_compiler.tasks.created",
		otelmetric.WithDescription("Number of compilation tasks enqueued"),
	); err == nil {
		tasksCreatedCounter = c
	}
}

// RecordFetchDuration records how long the Source Client took to retrieve
// one source package, labeled by the outcome's terminal reason (empty on
// success).
func RecordFetchDuration(ctx context.Context, duration time.Duration, format string, reason string) {
	if fetchDurationHistogram == nil {
		return
	}
	fetchDurationHistogram.Record(ctx, duration.Seconds(), otelmetric.WithAttributes(
		attribute.String("output_format", format),
		attribute.String("reason", reason),
	))
}

// RecordConvertDuration records how long the Converter Runner's container
// invocation took.
func RecordConvertDuration(ctx context.Context, duration time.Duration, format string, reason string) {
	if convertDurationHistogram == nil {
		return
	}
	convertDurationHistogram.Record(ctx, duration.Seconds(), otelmetric.WithAttributes(
		attribute.String("output_format", format),
		attribute.String("reason", reason),
	))
}

// RecordStoreDuration records how long the STORING -> DONE transition took.
func RecordStoreDuration(ctx context.Context, duration time.Duration, format string) {
	if storeDurationHistogram == nil {
		return
	}
	storeDurationHistogram.Record(ctx, duration.Seconds(), otelmetric.WithAttributes(
		attribute.String("output_format", format),
	))
}

// RecordTaskCreated increments the tasks-enqueued counter.
func RecordTaskCreated(ctx context.Context, format string) {
	if tasksCreatedCounter == nil {
		return
	}
	tasksCreatedCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("output_format", format)))
}
