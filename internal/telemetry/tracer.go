// SPDX-License-Identifier: MIT

// Package telemetry wires OpenTelemetry tracing: provider lifecycle, OTLP
// export, and the span attribute vocabulary shared by the daemon.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const shutdownGrace = 5 * time.Second

// Config selects the exporter and sampling for the tracer provider.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Protocol is "grpc" or "http"; Endpoint is the OTLP collector address
	// for that protocol (4317 for gRPC, 4318 for HTTP).
	Protocol string
	Endpoint string
	Insecure bool

	// SampleRate is the fraction of traces to keep, 0.0 through 1.0.
	SampleRate float64
}

// Provider owns the installed tracer provider. A disabled Config installs a
// noop tracer and leaves nothing to flush.
type Provider struct {
	flush func(context.Context) error
}

// NewProvider installs the global tracer provider and W3C propagators.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return &Provider{}, nil
	}

	exporter, err := openExporter(ctx, cfg.Protocol, cfg.Endpoint, cfg.Insecure)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: describe service: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{flush: tp.Shutdown}, nil
}

// openExporter builds the OTLP client for the configured protocol and
// starts the exporter on it.
func openExporter(ctx context.Context, protocol, endpoint string, insecure bool) (*otlptrace.Exporter, error) {
	var client otlptrace.Client
	switch protocol {
	case "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		client = otlptracegrpc.NewClient(opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		client = otlptracehttp.NewClient(opts...)
	default:
		return nil, fmt.Errorf("telemetry: unknown otlp protocol %q (want grpc or http)", protocol)
	}
	return otlptrace.New(ctx, client)
}

// samplerFor clamps rate into a sampler. Mid-range rates defer to the
// parent span's decision when a request arrives with one.
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Shutdown flushes buffered spans. Bounded so a dead collector cannot stall
// process exit.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.flush == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	return p.flush(ctx)
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
