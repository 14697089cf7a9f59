// Package tracing wires OpenTelemetry for the agent pipeline.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "chatd"

// Config configures the OTLP exporter.
type Config struct {
	ServiceName    string
	ExportEndpoint string
	Insecure       bool
}

// Init installs a tracer provider exporting to cfg.ExportEndpoint. With no
// endpoint the global noop provider stays in place. The returned function
// flushes and stops the provider.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.ExportEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.ExportEndpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartFrameSpan starts the span covering one inbound frame.
func StartFrameSpan(ctx context.Context, actorID, frameType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "actor.frame",
		trace.WithAttributes(
			attribute.String("actor.id", actorID),
			attribute.String("frame.type", frameType),
		),
	)
}

// StartInferenceSpan starts the span covering one model call.
func StartInferenceSpan(ctx context.Context, model string, turns int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "inference.call",
		trace.WithAttributes(
			attribute.String("llm.model", model),
			attribute.Int("llm.turns", turns),
		),
	)
}

// StartSearchSpan starts the span covering one search call.
func StartSearchSpan(ctx context.Context, query string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "search.query",
		trace.WithAttributes(attribute.String("search.query", query)),
	)
}

// Fail records err on span.
func Fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
