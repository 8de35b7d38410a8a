package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/polisai/kvcopy/pkg/engine/runtime"
)

const tracerName = "kvcopy.pipeline"

// Config describes where pipeline spans are exported.
type Config struct {
	ServiceName  string            `yaml:"service_name"`
	Endpoint     string            `yaml:"endpoint"`
	Environment  string            `yaml:"environment"`
	Insecure     bool              `yaml:"insecure"`
	Headers      map[string]string `yaml:"headers"`
	ResourceTags map[string]string `yaml:"resource_tags"`
	// SampleRatio is the fraction of entries traced. Zero or anything at or
	// above one traces every entry.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// SetupProvider installs a batching OTLP/gRPC tracer provider as the global
// provider. The returned function flushes and stops it. Without an endpoint
// tracing stays on the no-op provider.
func SetupProvider(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exporter, err := otlptrace.New(dialCtx, otlptracegrpc.NewClient(exporterOptions(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(256),
			sdktrace.WithBatchTimeout(2*time.Second),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

func exporterOptions(cfg Config) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return append(opts, otlptracegrpc.WithDialOption(
		grpc.WithReturnConnectionError(), //nolint:staticcheck // surfaces dial failures at startup
	))
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "kvcopy"
	}

	attrs := make([]attribute.KeyValue, 0, len(cfg.ResourceTags)+2)
	attrs = append(attrs, semconv.ServiceName(name))
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	for k, v := range cfg.ResourceTags {
		attrs = append(attrs, attribute.String(k, v))
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	return res, nil
}

func newSampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Tracer returns the pipeline tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// RecordStageResult attaches the outcome of a stage execution to span. Field
// values are never recorded, only counts.
func RecordStageResult(span trace.Span, stageID string, result runtime.StageResult) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.AddEvent("stage.result", trace.WithAttributes(
		attribute.String("stage.id", stageID),
		attribute.String("stage.outcome", string(result.Outcome)),
		attribute.Int("stage.fields.written", result.Written),
		attribute.Int("stage.fields.deleted", result.Deleted),
		attribute.Int("stage.fields.skipped", result.Skipped),
	))
}
