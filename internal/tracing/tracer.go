// Package tracing sets up the OpenTelemetry tracer provider the proxy's
// internal/logging.Logger uses to correlate every connection's log
// lines with a span. Unlike the reverse proxy this was adapted from,
// tracing here wraps a raw net.Conn lifecycle (internal/worker's
// "proxy.connection" span, with "cache.lookup" and "origin.fetch"
// children), not an http.Handler chain.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// TracingConfig controls whether tracing runs and where spans go.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled" json:"enabled"`
	ServiceName    string  `yaml:"serviceName" json:"serviceName"`
	ServiceVersion string  `yaml:"serviceVersion" json:"serviceVersion"`
	Environment    string  `yaml:"environment" json:"environment"`
	JaegerEndpoint string  `yaml:"jaegerEndpoint" json:"jaegerEndpoint"`
	OTLPEndpoint   string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRatio  float64 `yaml:"samplingRatio" json:"samplingRatio"`
}

// InitTracing builds and installs the global tracer provider described
// by config and returns a shutdown function that flushes and closes it.
// Disabled tracing is a no-op on both ends. Enabled tracing with neither
// a Jaeger nor an OTLP endpoint configured still installs a provider —
// spans are generated and sampled, just discarded at export time —
// so internal/logging.Logger can still stamp trace_id/span_id onto log
// lines for local correlation without requiring a running collector.
func InitTracing(config TracingConfig) (func() error, error) {
	if !config.Enabled {
		return func() error { return nil }, nil
	}

	res, err := traceResource(config)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	exporters, err := traceExporters(config)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(traceSampler(config.SamplingRatio)),
	)
	for _, exp := range exporters {
		tp.RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(exp,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		))
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

// traceResource describes this process in every span it emits: the
// standard service identity attributes plus a proxy.role marker so a
// shared Jaeger/OTLP backend can tell this forward proxy's spans apart
// from the reverse-proxy deployments that share the same instruments.
func traceResource(config TracingConfig) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
			attribute.String("proxy.role", "forward"),
		),
	)
}

// traceExporters builds one exporter per configured endpoint. With
// neither endpoint set it falls back to a single discardExporter so
// InitTracing can still install a working (if export-less) provider.
func traceExporters(config TracingConfig) ([]sdktrace.SpanExporter, error) {
	var exporters []sdktrace.SpanExporter

	if config.JaegerEndpoint != "" {
		exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.JaegerEndpoint)))
		if err != nil {
			return nil, fmt.Errorf("tracing: jaeger exporter: %w", err)
		}
		exporters = append(exporters, exp)
	}

	if config.OTLPEndpoint != "" {
		exp, err := otlptracehttp.New(context.Background(),
			otlptracehttp.WithEndpoint(config.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("tracing: otlp exporter: %w", err)
		}
		exporters = append(exporters, exp)
	}

	if len(exporters) == 0 {
		exporters = append(exporters, discardExporter{})
	}
	return exporters, nil
}

// traceSampler maps a 0..1 ratio onto the sampler that implements it,
// short-circuiting the always/never extremes rather than handing them
// to TraceIDRatioBased.
func traceSampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.NeverSample()
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// discardExporter satisfies sdktrace.SpanExporter by dropping every
// span it's handed. It exists so tracing can be "on" (spans created,
// sampled, and available for log correlation) without a collector
// endpoint configured — a standalone proxy deployment's default case.
type discardExporter struct{}

func (discardExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (discardExporter) Shutdown(context.Context) error                            { return nil }
