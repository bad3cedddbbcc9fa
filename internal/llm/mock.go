package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient implements Client for testing. Responses are consumed in
// order; when the queue is exhausted the last entry repeats.
type MockClient struct {
	mu        sync.Mutex
	model     string
	responses []MockResponse
	next      int
	calls     []*CompletionRequest
}

// MockResponse is one scripted reply (or error) from the mock model.
type MockResponse struct {
	Text  string
	Usage TokenUsage
	Err   error
}

// NewMockClient creates a mock client with scripted responses.
func NewMockClient(model string, responses ...MockResponse) *MockClient {
	return &MockClient{model: model, responses: responses}
}

// Model returns the mock model name.
func (m *MockClient) Model() string {
	return m.model
}

// Complete returns the next scripted response.
func (m *MockClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	if len(m.responses) == 0 {
		return &CompletionResponse{
			Text:  "```python\nfrom manim import *\n\nclass MockScene(Scene):\n    def construct(self):\n        self.add(Text(\"mock\"))\n```",
			Model: m.model,
			Usage: TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
		}, nil
	}

	idx := m.next
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	} else {
		m.next++
	}

	r := m.responses[idx]
	if r.Err != nil {
		return nil, r.Err
	}
	return &CompletionResponse{Text: r.Text, Model: m.model, Usage: r.Usage}, nil
}

// Calls returns a copy of every request the mock has received.
func (m *MockClient) Calls() []*CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*CompletionRequest, len(m.calls))
	copy(out, m.calls)
	return out
}
