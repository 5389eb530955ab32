// Package tracing sets up OpenTelemetry spans for extraction runs
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const ServiceName = "vidfeatures"

// FeatureTypeKey tags every span of a run with the network it extracts with
const FeatureTypeKey = attribute.Key("vidfeatures.feature_type")

type Options struct {
	Endpoint    string
	FeatureType string
	RunID       string
	// SampleRatio is the fraction of root spans kept; >= 1 keeps all, <= 0 drops all
	SampleRatio float64
}

// InitTracer installs a global provider exporting to an OTLP/HTTP collector
func InitTracer(ctx context.Context, opts Options) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(opts.Endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler(opts.SampleRatio)),
		sdktrace.WithResource(runResource(opts)),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// runResource identifies the run; the run id doubles as the service instance
func runResource(opts Options) *resource.Resource {
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(ServiceName)}
	if opts.RunID != "" {
		attrs = append(attrs, semconv.ServiceInstanceIDKey.String(opts.RunID))
	}
	if opts.FeatureType != "" {
		attrs = append(attrs, FeatureTypeKey.String(opts.FeatureType))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// Tracer returns the tracer of a component from the global provider
func Tracer(component string) trace.Tracer {
	return otel.Tracer(ServiceName + "/" + component)
}
