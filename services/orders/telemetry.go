package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "orders-service"

func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
}

func initTracer(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetTracerProvider(tp)

	return tp, nil
}

func initMetrics(ctx context.Context, cfg Config) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return mp, nil
}

// sagaMetrics counts saga outcomes. Instruments come from the global meter
// provider, a no-op until initMetrics runs.
type sagaMetrics struct {
	started            metric.Int64Counter
	finished           metric.Int64Counter
	compensationFailed metric.Int64Counter
	captureRetries     metric.Int64Counter
}

func newSagaMetrics() *sagaMetrics {
	meter := otel.Meter(instrumentationName)
	return &sagaMetrics{
		started:  counter(meter, "saga.started", "order sagas started"),
		finished: counter(meter, "saga.finished", "order sagas finished, by final status"),
		compensationFailed: counter(meter, "saga.compensation.failed",
			"compensations that could not be applied and need reconciliation"),
		captureRetries: counter(meter, "payment.capture.retries",
			"transient payment capture failures that were retried"),
	}
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		log.Warn().Err(err).Str("instrument", name).Msg("⚠️ Falling back to no-op counter")
		c, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter(name)
	}
	return c
}

func (m *sagaMetrics) sagaStarted(ctx context.Context) {
	m.started.Add(ctx, 1)
}

func (m *sagaMetrics) sagaFinished(ctx context.Context, status OrderStatus) {
	m.finished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (m *sagaMetrics) compensationFailure(ctx context.Context, step SagaStep) {
	m.compensationFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("step", string(step))))
}

func (m *sagaMetrics) captureRetried(ctx context.Context) {
	m.captureRetries.Add(ctx, 1)
}

// startStepSpan opens the span of one saga step.
func startStepSpan(ctx context.Context, step string, orderID string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "saga."+step)
	span.SetAttributes(
		attribute.String("order_id", orderID),
		attribute.String("saga.step", step),
	)
	return ctx, span
}

func traceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
