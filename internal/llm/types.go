package llm

import (
	"context"
	"time"
)

// CompletionRequest is a single-turn completion call to a code-generation model.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// TokenUsage reports token consumption for one completion call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse carries the model output text and usage accounting.
type CompletionResponse struct {
	Text  string
	Model string
	Usage TokenUsage
}

// Client is the capability interface every model backend implements.
//
// The error taxonomy of a backend (rate limit, auth, malformed body) is
// deliberately opaque to callers: any error returned here is terminal
// for the pipeline run that issued the call.
type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	Model() string
}

// Config holds the settings needed to construct a client.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	Headers  map[string]string
}

// UsageCallback receives token usage after each successful completion.
type UsageCallback func(usage TokenUsage, model string, provider string, latency time.Duration)
