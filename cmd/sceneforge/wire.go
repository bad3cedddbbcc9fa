package main

import (
	"context"
	"fmt"
	"time"

	"sceneforge/internal/config"
	"sceneforge/internal/generator"
	"sceneforge/internal/llm"
	"sceneforge/internal/logging"
	"sceneforge/internal/observability"
	"sceneforge/internal/pipeline"
	"sceneforge/internal/renderer"
	"sceneforge/internal/validator"
)

// components holds everything wired from configuration.
type components struct {
	orchestrator *pipeline.Orchestrator
	metrics      *observability.MetricsCollector
	tracer       *observability.TracerProvider
	defaults     pipeline.Request
}

// buildComponents assembles the pipeline stack from configuration.
func buildComponents(cfg *config.Config, logger *observability.Logger) (*components, error) {
	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{
		Enabled: cfg.Metrics.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	var tracer *observability.TracerProvider
	if cfg.Tracing.Enabled {
		tracer, err = observability.NewTracerProvider(observability.TracingConfig{
			Enabled:        cfg.Tracing.Enabled,
			Exporter:       cfg.Tracing.Exporter,
			OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
			ZipkinEndpoint: cfg.Tracing.ZipkinEndpoint,
			SampleRate:     cfg.Tracing.SampleRate,
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: Version,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}

	factory := llm.NewFactory()
	factory.SetUsageCallback(func(usage llm.TokenUsage, model, provider string, latency time.Duration) {
		metrics.RecordLLMRequest(context.Background(), model, "success", latency, usage.PromptTokens, usage.CompletionTokens)
	})

	client, err := factory.Client(llm.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Timeout:  cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init llm client: %w", err)
	}

	gen := generator.New(client,
		generator.WithTemperature(cfg.LLM.Temperature),
		generator.WithMaxTokens(cfg.LLM.MaxTokens),
		generator.WithLogger(logging.FromObservabilityWithComponent(logger, "Generator")),
	)

	profiles := renderer.DefaultProfiles()
	if cfg.Renderer.ProfilesFile != "" {
		profiles, err = renderer.LoadProfiles(cfg.Renderer.ProfilesFile)
		if err != nil {
			return nil, fmt.Errorf("load quality profiles: %w", err)
		}
	}

	exec := renderer.NewExecutor(cfg.Renderer.Binary, cfg.Renderer.OutputDir,
		renderer.WithTimeout(cfg.Pipeline.RenderTimeout),
		renderer.WithStderrTailLines(cfg.Renderer.StderrTailLines),
		renderer.WithProfiles(profiles),
		renderer.WithExecLogger(logging.FromObservabilityWithComponent(logger, "RenderExecutor")),
	)

	opts := []pipeline.OrchestratorOption{
		pipeline.WithOrchestratorLogger(logging.FromObservabilityWithComponent(logger, "Orchestrator")),
		pipeline.WithMetrics(metrics),
	}
	if tracer != nil {
		opts = append(opts, pipeline.WithTracer(tracer))
	}
	orch := pipeline.NewOrchestrator(gen, validator.New(), exec, opts...)

	return &components{
		orchestrator: orch,
		metrics:      metrics,
		tracer:       tracer,
		defaults: pipeline.Request{
			MaxRetries:    cfg.Pipeline.MaxRetries,
			Quality:       cfg.Renderer.Quality,
			ModelTimeout:  cfg.Pipeline.ModelTimeout,
			RenderTimeout: cfg.Pipeline.RenderTimeout,
		},
	}, nil
}
