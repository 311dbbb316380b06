// Package otelboot wires the broker's OpenTelemetry tracer and meter
// providers. Exporters write to stdout: the broker runs on an operator's
// host rather than inside an observability platform's own infrastructure,
// so a collector-backed exporter would need configuration this deployment
// shape doesn't have a natural home for.
package otelboot

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Providers bundles the tracer and meter providers built at startup, plus
// their combined shutdown.
type Providers struct {
	Tracer   trace.Tracer
	Meter    metric.Meter
	Shutdown func(context.Context) error
}

// Setup builds stdout-backed tracer and meter providers and installs them
// as the global providers, returning a combined shutdown func. enabled
// lets a deployment turn tracing off entirely without branching at every
// call site: a disabled Providers hands back otel's no-op implementations.
func Setup(serviceName string, enabled bool) (*Providers, error) {
	if !enabled {
		return &Providers{
			Tracer:   otel.Tracer(serviceName),
			Meter:    otel.Meter(serviceName),
			Shutdown: func(context.Context) error { return nil },
		}, nil
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("otelboot: build trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))
	otel.SetTracerProvider(tp)

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("otelboot: build metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	otel.SetMeterProvider(mp)

	return &Providers{
		Tracer: tp.Tracer(serviceName),
		Meter:  mp.Meter(serviceName),
		Shutdown: func(ctx context.Context) error {
			if err := tp.Shutdown(ctx); err != nil {
				return fmt.Errorf("otelboot: shutdown tracer provider: %w", err)
			}
			if err := mp.Shutdown(ctx); err != nil {
				return fmt.Errorf("otelboot: shutdown meter provider: %w", err)
			}
			return nil
		},
	}, nil
}
