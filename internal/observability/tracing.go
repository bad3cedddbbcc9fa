package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig configures distributed tracing
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled" mapstructure:"enabled"`
	Exporter       string  `yaml:"exporter" mapstructure:"exporter"` // otlp, zipkin
	OTLPEndpoint   string  `yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	ZipkinEndpoint string  `yaml:"zipkin_endpoint" mapstructure:"zipkin_endpoint"`
	SampleRate     float64 `yaml:"sample_rate" mapstructure:"sample_rate"` // 0.0 to 1.0
	ServiceName    string  `yaml:"service_name" mapstructure:"service_name"`
	ServiceVersion string  `yaml:"service_version" mapstructure:"service_version"`
}

// TracerProvider wraps OpenTelemetry tracer
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider creates a new tracer provider
func NewTracerProvider(config TracingConfig) (*TracerProvider, error) {
	if !config.Enabled {
		// Return noop tracer
		return &TracerProvider{
			tracer: noop.NewTracerProvider().Tracer("sceneforge"),
		}, nil
	}

	if config.ServiceName == "" {
		config.ServiceName = "sceneforge"
	}

	if config.SampleRate <= 0 || config.SampleRate > 1.0 {
		config.SampleRate = 1.0
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch config.Exporter {
	case "otlp":
		endpoint := config.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		exporter, err = otlptracehttp.New(
			context.Background(),
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "zipkin":
		endpoint := config.ZipkinEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		exporter, err = zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", config.Exporter)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SampleRate)),
	)

	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer("sceneforge"),
	}, nil
}

// Shutdown gracefully shuts down the tracer provider
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the tracer
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartSpan starts a new span, attaching the task ID from the context when present
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if taskID := TaskIDFromContext(ctx); taskID != "" {
		attrs = append(attrs, attribute.String(AttrTaskID, taskID))
	}

	return tp.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Common span names
const (
	SpanPipelineRun    = "sceneforge.pipeline.run"
	SpanGenerate       = "sceneforge.generator.generate"
	SpanFix            = "sceneforge.generator.fix"
	SpanValidate       = "sceneforge.validator.validate"
	SpanRender         = "sceneforge.renderer.render"
	SpanHTTPServer     = "sceneforge.http.request"
	SpanSSEConnection  = "sceneforge.sse.connection"
	SpanLLMCompletion  = "sceneforge.llm.completion"
	SpanTaskExecution  = "sceneforge.task.execution"
)

// Common attribute keys
const (
	AttrTaskID       = "sceneforge.task_id"
	AttrAttempt      = "sceneforge.attempt"
	AttrSceneName    = "sceneforge.scene_name"
	AttrQuality      = "sceneforge.render.quality"
	AttrModel        = "sceneforge.llm.model"
	AttrInputTokens  = "sceneforge.llm.input_tokens"
	AttrOutputTokens = "sceneforge.llm.output_tokens"
	AttrOutcome      = "sceneforge.outcome"
)
