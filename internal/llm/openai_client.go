package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sceneforge/internal/logging"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// openAIClient talks to any OpenAI-compatible chat-completions endpoint.
type openAIClient struct {
	model         string
	apiKey        string
	baseURL       string
	httpClient    *http.Client
	headers       map[string]string
	logger        logging.Logger
	usageCallback UsageCallback
}

// NewOpenAIClient creates a client for an OpenAI-compatible API.
func NewOpenAIClient(config Config) Client {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &openAIClient{
		model:      config.Model,
		apiKey:     config.APIKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		headers:    config.Headers,
		logger:     logging.NewComponentLogger("OpenAIClient"),
	}
}

// Model returns the model name used by this client.
func (c *openAIClient) Model() string {
	return c.model
}

// SetUsageCallback registers a callback invoked after each successful call.
func (c *openAIClient) SetUsageCallback(cb UsageCallback) {
	c.usageCallback = cb
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage TokenUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// Complete sends one chat-completion request and returns the first choice.
func (c *openAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}

	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserPrompt})

	body, err := json.Marshal(chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model returned HTTP %d: %s", resp.StatusCode, excerpt(raw, 512))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("model error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	c.logger.Debug("completion ok model=%s latency=%s tokens=%d",
		c.model, time.Since(start).Round(time.Millisecond), parsed.Usage.TotalTokens)

	if c.usageCallback != nil {
		c.usageCallback(parsed.Usage, c.model, "openai", time.Since(start))
	}

	return &CompletionResponse{
		Text:  parsed.Choices[0].Message.Content,
		Model: parsed.Model,
		Usage: parsed.Usage,
	}, nil
}

func excerpt(b []byte, limit int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}
