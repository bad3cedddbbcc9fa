package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages all metrics for the pipeline
type MetricsCollector struct {
	meter metric.Meter

	// LLM metrics
	llmRequests     metric.Int64Counter
	llmTokensInput  metric.Int64Counter
	llmTokensOutput metric.Int64Counter
	llmLatency      metric.Float64Histogram

	// Pipeline metrics
	pipelineRuns     metric.Int64Counter
	pipelineAttempts metric.Int64Counter
	renderExecutions metric.Int64Counter
	renderDuration   metric.Float64Histogram

	// Task metrics
	tasksActive metric.Int64UpDownCounter

	// HTTP metrics
	httpRequests metric.Int64Counter
	httpLatency  metric.Float64Histogram
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// NewMetricsCollector creates a new metrics collector backed by the
// Prometheus exporter. When disabled, all record methods are no-ops.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("sceneforge")

	llmRequests, err := meter.Int64Counter(
		"sceneforge.llm.requests.total",
		metric.WithDescription("Total number of LLM requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm_requests counter: %w", err)
	}

	llmTokensInput, err := meter.Int64Counter(
		"sceneforge.llm.tokens.input",
		metric.WithDescription("Total input tokens sent to the model"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm_tokens_input counter: %w", err)
	}

	llmTokensOutput, err := meter.Int64Counter(
		"sceneforge.llm.tokens.output",
		metric.WithDescription("Total output tokens from the model"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm_tokens_output counter: %w", err)
	}

	llmLatency, err := meter.Float64Histogram(
		"sceneforge.llm.latency",
		metric.WithDescription("LLM request latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm_latency histogram: %w", err)
	}

	pipelineRuns, err := meter.Int64Counter(
		"sceneforge.pipeline.runs.total",
		metric.WithDescription("Total pipeline runs by terminal status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline_runs counter: %w", err)
	}

	pipelineAttempts, err := meter.Int64Counter(
		"sceneforge.pipeline.attempts.total",
		metric.WithDescription("Total pipeline attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline_attempts counter: %w", err)
	}

	renderExecutions, err := meter.Int64Counter(
		"sceneforge.render.executions.total",
		metric.WithDescription("Total render subprocess executions"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create render_executions counter: %w", err)
	}

	renderDuration, err := meter.Float64Histogram(
		"sceneforge.render.duration",
		metric.WithDescription("Render subprocess duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create render_duration histogram: %w", err)
	}

	tasksActive, err := meter.Int64UpDownCounter(
		"sceneforge.tasks.active",
		metric.WithDescription("Number of tasks currently running"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks_active gauge: %w", err)
	}

	httpRequests, err := meter.Int64Counter(
		"sceneforge.http.requests.total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests counter: %w", err)
	}

	httpLatency, err := meter.Float64Histogram(
		"sceneforge.http.latency",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_latency histogram: %w", err)
	}

	return &MetricsCollector{
		meter:            meter,
		llmRequests:      llmRequests,
		llmTokensInput:   llmTokensInput,
		llmTokensOutput:  llmTokensOutput,
		llmLatency:       llmLatency,
		pipelineRuns:     pipelineRuns,
		pipelineAttempts: pipelineAttempts,
		renderExecutions: renderExecutions,
		renderDuration:   renderDuration,
		tasksActive:      tasksActive,
		httpRequests:     httpRequests,
		httpLatency:      httpLatency,
	}, nil
}

// Handler returns the HTTP handler serving the Prometheus scrape endpoint
func (m *MetricsCollector) Handler() http.Handler {
	return promclient.Handler()
}

// RecordLLMRequest records an LLM request
func (m *MetricsCollector) RecordLLMRequest(ctx context.Context, model string, status string, latency time.Duration, inputTokens, outputTokens int) {
	if m.llmRequests == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("status", status),
	}

	m.llmRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.llmTokensInput.Add(ctx, int64(inputTokens), metric.WithAttributes(attribute.String("model", model)))
	m.llmTokensOutput.Add(ctx, int64(outputTokens), metric.WithAttributes(attribute.String("model", model)))
	m.llmLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs...))
}

// RecordPipelineRun records a completed pipeline run with its terminal status
func (m *MetricsCollector) RecordPipelineRun(ctx context.Context, status string, attempts int) {
	if m.pipelineRuns == nil {
		return
	}
	m.pipelineRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.Int("attempts", attempts),
	))
}

// RecordAttempt records one pipeline attempt with its outcome
func (m *MetricsCollector) RecordAttempt(ctx context.Context, outcome string) {
	if m.pipelineAttempts == nil {
		return
	}
	m.pipelineAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRender records a render subprocess execution
func (m *MetricsCollector) RecordRender(ctx context.Context, status string, duration time.Duration) {
	if m.renderExecutions == nil {
		return
	}
	m.renderExecutions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.renderDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordHTTPRequest records an HTTP request
func (m *MetricsCollector) RecordHTTPRequest(ctx context.Context, method, path string, status int, latency time.Duration) {
	if m.httpRequests == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	}
	m.httpRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs...))
}

// IncrementActiveTasks increments the active task counter
func (m *MetricsCollector) IncrementActiveTasks(ctx context.Context) {
	if m.tasksActive == nil {
		return
	}
	m.tasksActive.Add(ctx, 1)
}

// DecrementActiveTasks decrements the active task counter
func (m *MetricsCollector) DecrementActiveTasks(ctx context.Context) {
	if m.tasksActive == nil {
		return
	}
	m.tasksActive.Add(ctx, -1)
}
