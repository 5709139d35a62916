// Package telemetry installs the OpenTelemetry tracer provider that the
// generation pipeline and tool bridge report spans to.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/harunnryd/parley/pkg/logging"
)

type Config struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	Version      string
	SampleRate   float64
}

// Providers owns the installed tracer provider. A disabled config yields
// a Providers whose Shutdown does nothing; the global provider stays noop.
type Providers struct {
	tp *sdktrace.TracerProvider
}

func Init(ctx context.Context, cfg Config) (*Providers, error) {
	logger := logging.NewComponentLogger(nil, "telemetry")
	if !cfg.Enabled {
		logger.Info("telemetry_disabled")
		return &Providers{}, nil
	}
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	p := newProviders(sdktrace.NewBatchSpanProcessor(exporter), cfg)
	logger.Info("telemetry_initialized",
		slog.String("endpoint", cfg.OTLPEndpoint),
		slog.String("service_name", cfg.ServiceName),
		slog.Float64("sample_rate", cfg.SampleRate),
	)
	return p, nil
}

// newProviders installs a provider around processor as the global one.
func newProviders(processor sdktrace.SpanProcessor, cfg Config) *Providers {
	name := cfg.ServiceName
	if name == "" {
		name = "parley"
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1
	}
	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceNameKey.String(name),
		semconv.ServiceVersionKey.String(version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Providers{tp: tp}
}

// Shutdown flushes pending spans. Safe on a disabled Providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}
