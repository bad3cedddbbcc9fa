package generator

import (
	"context"
	"fmt"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"sceneforge/internal/llm"
	"sceneforge/internal/logging"
)

const defaultSceneName = "GeneratedScene"

// Request carries the topic parameters that shape a generation prompt.
type Request struct {
	Topic        string
	Requirements []string
	Audience     string
	Style        string
}

// Candidate is one generated script plus its extraction metadata.
type Candidate struct {
	Code      string
	SceneName string
	RawText   string
	Usage     llm.TokenUsage
}

// Generator maps generation/fix requests onto model calls and extracts
// the candidate script from the response.
type Generator struct {
	client      llm.Client
	temperature float64
	maxTokens   int
	logger      logging.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithTemperature sets the sampling temperature for model calls.
func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = t }
}

// WithMaxTokens caps the completion length for model calls.
func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

// WithLogger overrides the component logger.
func WithLogger(l logging.Logger) Option {
	return func(g *Generator) { g.logger = logging.OrNop(l) }
}

// New creates a Generator around the given model client.
func New(client llm.Client, opts ...Option) *Generator {
	g := &Generator{
		client:      client,
		temperature: 0.4,
		maxTokens:   4096,
		logger:      logging.NewComponentLogger("Generator"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate asks the model for a fresh script for the request's topic.
// Any model failure, including a response with no extractable code,
// is returned as an error; the caller treats it as fatal.
func (g *Generator) Generate(ctx context.Context, req Request) (*Candidate, error) {
	userPrompt := buildGeneratePrompt(req)
	return g.complete(ctx, userPrompt)
}

// Fix asks the model to repair previousCode given the diagnostic from
// the failed attempt. Topic fidelity of the repaired script is a soft
// property; it is not checked here.
func (g *Generator) Fix(ctx context.Context, previousCode, diagnostic string) (*Candidate, error) {
	userPrompt := buildFixPrompt(previousCode, diagnostic)
	return g.complete(ctx, userPrompt)
}

func (g *Generator) complete(ctx context.Context, userPrompt string) (*Candidate, error) {
	start := time.Now()
	resp, err := g.client.Complete(ctx, &llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  g.temperature,
		MaxTokens:    g.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	code, err := extractCode(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("%w (model=%s, %d chars of text)", ErrNoCode, g.client.Model(), len(resp.Text))
	}

	usage := resp.Usage
	if usage.TotalTokens == 0 {
		// Some OpenAI-compatible endpoints omit usage; estimate so the
		// accounting stays non-zero.
		usage.PromptTokens = estimateTokens(systemPrompt + userPrompt)
		usage.CompletionTokens = estimateTokens(resp.Text)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	candidate := &Candidate{
		Code:      code,
		SceneName: sceneName(code, defaultSceneName),
		RawText:   resp.Text,
		Usage:     usage,
	}

	g.logger.Debug("candidate extracted scene=%s code_bytes=%d tokens=%d latency=%s",
		candidate.SceneName, len(code), usage.TotalTokens, time.Since(start).Round(time.Millisecond))

	return candidate, nil
}

// estimateTokens counts tokens with the cl100k_base encoding, falling
// back to a bytes/4 heuristic when the encoding is unavailable.
func estimateTokens(text string) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
