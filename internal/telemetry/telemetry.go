// Package telemetry wires OpenTelemetry tracing for the gateway: an OTLP/HTTP
// exporter and a RecordSpan helper for request-scoped spans (adapted from
// the teacher's pkg/observability/mlflow tracer-provider setup and
// pkg/telemetry span helpers, generalised from per-generation AI spans to
// per-request gateway spans).
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "aigateway"

// Config configures the OTLP/HTTP trace exporter. A zero Config disables
// tracing and returns a no-op provider.
type Config struct {
	Endpoint    string // host:port of the OTLP/HTTP collector
	ServiceName string
	Insecure    bool
	Headers     map[string]string
}

// Provider owns the tracer provider and its exporter for the process
// lifetime.
type Provider struct {
	tp       *sdktrace.TracerProvider
	exporter *otlptrace.Exporter
}

// New builds a Provider and installs it as the global tracer provider. If
// cfg.Endpoint is empty, tracing is disabled and New returns a Provider
// backed by the default (no-op) global provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" {
		return &Provider{}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "aigateway"
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithHeaders(cfg.Headers),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, exporter: exporter}, nil
}

// Tracer returns the gateway's tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tp == nil {
		return otel.Tracer(tracerName)
	}
	return p.tp.Tracer(tracerName)
}

// Shutdown flushes and stops the exporter. A no-op Provider returns nil.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: shutdown tracer provider: %w", err)
	}
	return nil
}

// SpanOptions configures a request-scoped span.
type SpanOptions struct {
	Name       string
	Attributes []attribute.KeyValue
}

// RecordSpan starts a span, runs fn, records any error on the span, and
// ends the span when fn returns.
func RecordSpan[T any](ctx context.Context, tracer trace.Tracer, opts SpanOptions, fn func(context.Context, trace.Span) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, opts.Name, trace.WithAttributes(opts.Attributes...))
	defer span.End()

	result, err := fn(ctx, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

// RequestAttributes builds the base span attributes for one gateway request.
func RequestAttributes(dialect, providerKind, model, credentialID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("gateway.dialect", dialect),
		attribute.String("gateway.provider_kind", providerKind),
		attribute.String("gateway.model", model),
		attribute.String("gateway.credential_id", credentialID),
	}
}
