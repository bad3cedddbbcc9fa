package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"sceneforge/internal/generator"
	"sceneforge/internal/llm"
	"sceneforge/internal/renderer"
	"sceneforge/internal/validator"
)

const okScene = "from manim import *\n\nclass OkScene(Scene):\n    def construct(self):\n        self.wait()\n"

// fakeGenerator scripts Generate/Fix outcomes per call ordinal.
type fakeGenerator struct {
	mu        sync.Mutex
	calls     int
	fixCalls  []string // diagnostics passed to Fix, in order
	responses []fakeGenResponse
}

type fakeGenResponse struct {
	code string
	err  error
}

func (f *fakeGenerator) next() fakeGenResponse {
	idx := f.calls
	f.calls++
	if idx >= len(f.responses) {
		return f.responses[len(f.responses)-1]
	}
	return f.responses[idx]
}

func (f *fakeGenerator) Generate(ctx context.Context, req generator.Request) (*generator.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.next()
	if r.err != nil {
		return nil, r.err
	}
	return &generator.Candidate{
		Code:      r.code,
		SceneName: "OkScene",
		Usage:     llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeGenerator) Fix(ctx context.Context, previousCode, diagnostic string) (*generator.Candidate, error) {
	f.mu.Lock()
	f.fixCalls = append(f.fixCalls, diagnostic)
	f.mu.Unlock()
	return f.Generate(ctx, generator.Request{})
}

// fakeRenderer scripts render outcomes per attempt.
type fakeRenderer struct {
	mu       sync.Mutex
	calls    int
	outcomes []renderer.Outcome
	onRender func(ctx context.Context)
}

func (f *fakeRenderer) Render(ctx context.Context, code, runID, sceneName, quality string) renderer.Outcome {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	hook := f.onRender
	f.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}
	return f.outcomes[idx]
}

func (f *fakeRenderer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingReporter struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingReporter) Progress(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func newOrchestratorUnderTest(gen CodeGenerator, ren Renderer) *Orchestrator {
	return NewOrchestrator(gen, validator.New(), ren)
}

func TestRunSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{responses: []fakeGenResponse{{code: okScene}}}
	ren := &fakeRenderer{outcomes: []renderer.Outcome{{Success: true, ArtifactPath: "/out/OkScene.mp4"}}}
	rep := &recordingReporter{}

	res, err := newOrchestratorUnderTest(gen, ren).Run(context.Background(), "run-1",
		Request{Topic: "circles", MaxRetries: 3}, rep)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("status: %s", res.Status)
	}
	if len(res.Attempts) != 1 {
		t.Fatalf("a first-attempt success must consume exactly 1 attempt, got %d", len(res.Attempts))
	}
	if res.ArtifactPath != "/out/OkScene.mp4" {
		t.Fatalf("artifact: %s", res.ArtifactPath)
	}
	if len(rep.messages) == 0 {
		t.Fatalf("expected progress messages")
	}
}

func TestRunRetriesRenderFailureThenSucceeds(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{responses: []fakeGenResponse{{code: okScene}}}
	ren := &fakeRenderer{outcomes: []renderer.Outcome{
		{Success: false, StderrTail: "NameError: name 'Circl' is not defined", ExitCode: 1},
		{Success: true, ArtifactPath: "/out/OkScene.mp4"},
	}}

	res, err := newOrchestratorUnderTest(gen, ren).Run(context.Background(), "run-2",
		Request{Topic: "circles", MaxRetries: 2}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("status: %s (diag: %s)", res.Status, res.Diagnostic)
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("attempts: %d", len(res.Attempts))
	}
	if res.Attempts[0].ErrorKind != ErrorKindRender {
		t.Fatalf("first attempt kind: %s", res.Attempts[0].ErrorKind)
	}
	if len(gen.fixCalls) != 1 || !strings.Contains(gen.fixCalls[0], "NameError") {
		t.Fatalf("render diagnostic must feed the fix pass, got %v", gen.fixCalls)
	}
}

func TestRunExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	maxRetries := 2
	gen := &fakeGenerator{responses: []fakeGenResponse{{code: okScene}}}
	ren := &fakeRenderer{}
	for i := 0; i < maxRetries+1; i++ {
		ren.outcomes = append(ren.outcomes, renderer.Outcome{
			Success:    false,
			StderrTail: fmt.Sprintf("error on attempt %d", i+1),
			ExitCode:   1,
		})
	}

	res, err := newOrchestratorUnderTest(gen, ren).Run(context.Background(), "run-3",
		Request{Topic: "circles", MaxRetries: maxRetries}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != StatusExhausted {
		t.Fatalf("status: %s", res.Status)
	}
	if len(res.Attempts) != maxRetries+1 {
		t.Fatalf("attempt budget is max_retries+1, got %d", len(res.Attempts))
	}
	if ren.callCount() != maxRetries+1 {
		t.Fatalf("render calls: %d", ren.callCount())
	}

	// Each attempt carries its own diagnostic, ordered.
	seen := map[string]bool{}
	for i, attempt := range res.Attempts {
		if attempt.Ordinal != i+1 {
			t.Fatalf("ordinal %d at index %d", attempt.Ordinal, i)
		}
		if attempt.Diagnostic == "" || seen[attempt.Diagnostic] {
			t.Fatalf("attempt %d diagnostic missing or repeated: %q", i+1, attempt.Diagnostic)
		}
		seen[attempt.Diagnostic] = true
	}
	if res.Diagnostic != res.Attempts[len(res.Attempts)-1].Diagnostic {
		t.Fatalf("result diagnostic should be the final attempt's")
	}
}

func TestRunGenerationErrorIsFatal(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{responses: []fakeGenResponse{{err: errors.New("model returned HTTP 429")}}}
	ren := &fakeRenderer{outcomes: []renderer.Outcome{{Success: true}}}

	res, err := newOrchestratorUnderTest(gen, ren).Run(context.Background(), "run-4",
		Request{Topic: "circles", MaxRetries: 5}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != StatusFatalError {
		t.Fatalf("status: %s", res.Status)
	}
	if len(res.Attempts) != 1 {
		t.Fatalf("a generation error must not be retried, got %d attempts", len(res.Attempts))
	}
	if res.Attempts[0].ErrorKind != ErrorKindGeneration {
		t.Fatalf("error kind: %s", res.Attempts[0].ErrorKind)
	}
	if ren.callCount() != 0 {
		t.Fatalf("render must not run after a generation error")
	}
}

func TestRunZeroRetriesSingleAttempt(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{responses: []fakeGenResponse{{code: okScene}}}
	ren := &fakeRenderer{outcomes: []renderer.Outcome{{Success: false, StderrTail: "boom", ExitCode: 1}}}

	res, err := newOrchestratorUnderTest(gen, ren).Run(context.Background(), "run-5",
		Request{Topic: "circles", MaxRetries: 0}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != StatusExhausted {
		t.Fatalf("status: %s", res.Status)
	}
	if len(res.Attempts) != 1 || ren.callCount() != 1 {
		t.Fatalf("max_retries=0 allows exactly one attempt")
	}
	if len(gen.fixCalls) != 0 {
		t.Fatalf("no fix pass with max_retries=0")
	}
}

func TestRunValidationFailureSkipsRender(t *testing.T) {
	t.Parallel()

	truncated := "from manim import *\n\nclass OkScene(Scene):\n    def construct(self):\n        self.play(Create(Circle("
	gen := &fakeGenerator{responses: []fakeGenResponse{
		{code: truncated},
		{code: okScene},
	}}
	ren := &fakeRenderer{outcomes: []renderer.Outcome{{Success: true, ArtifactPath: "/out/OkScene.mp4"}}}

	res, err := newOrchestratorUnderTest(gen, ren).Run(context.Background(), "run-6",
		Request{Topic: "circles", MaxRetries: 1}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("status: %s (diag: %s)", res.Status, res.Diagnostic)
	}
	if ren.callCount() != 1 {
		t.Fatalf("invalid code must never reach the renderer, got %d render calls", ren.callCount())
	}
	if res.Attempts[0].ErrorKind != ErrorKindValidation {
		t.Fatalf("first attempt kind: %s", res.Attempts[0].ErrorKind)
	}
	if len(gen.fixCalls) != 1 || !strings.Contains(gen.fixCalls[0], "bracket") {
		t.Fatalf("validator diagnostic must feed the fix pass, got %v", gen.fixCalls)
	}
}

func TestRunRenderTimeoutKind(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{responses: []fakeGenResponse{{code: okScene}}}
	ren := &fakeRenderer{outcomes: []renderer.Outcome{
		{Success: false, TimedOut: true, StderrTail: "partial output", Duration: time.Second},
	}}

	res, err := newOrchestratorUnderTest(gen, ren).Run(context.Background(), "run-7",
		Request{Topic: "circles", MaxRetries: 0}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Attempts[0].ErrorKind != ErrorKindRenderTimeout {
		t.Fatalf("error kind: %s", res.Attempts[0].ErrorKind)
	}
}

func TestRunCancellationMidRender(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	gen := &fakeGenerator{responses: []fakeGenResponse{{code: okScene}}}
	ren := &fakeRenderer{
		outcomes: []renderer.Outcome{{Success: false, StderrTail: "render cancelled"}},
		onRender: func(context.Context) { cancel() },
	}

	_, err := newOrchestratorUnderTest(gen, ren).Run(ctx, "run-8",
		Request{Topic: "circles", MaxRetries: 3}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ren.callCount() != 1 {
		t.Fatalf("no further attempts after cancellation, got %d render calls", ren.callCount())
	}
}

func TestRunRecordsCodeDiffBetweenAttempts(t *testing.T) {
	t.Parallel()

	fixedScene := strings.Replace(okScene, "self.wait()", "self.wait(2)", 1)
	gen := &fakeGenerator{responses: []fakeGenResponse{
		{code: okScene},
		{code: fixedScene},
	}}
	ren := &fakeRenderer{outcomes: []renderer.Outcome{
		{Success: false, StderrTail: "boom", ExitCode: 1},
		{Success: true, ArtifactPath: "/out/OkScene.mp4"},
	}}

	res, err := newOrchestratorUnderTest(gen, ren).Run(context.Background(), "run-9",
		Request{Topic: "circles", MaxRetries: 1}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Attempts[0].CodeDiff != "" {
		t.Fatalf("first attempt has no predecessor to diff against")
	}
	if res.Attempts[1].CodeDiff == "" {
		t.Fatalf("second attempt should record a diff")
	}
}

func TestRunTruncatesOversizedDiagnostic(t *testing.T) {
	t.Parallel()

	huge := strings.Repeat("x", 10*1024) + "\nRealError: at the end"
	gen := &fakeGenerator{responses: []fakeGenResponse{{code: okScene}}}
	ren := &fakeRenderer{outcomes: []renderer.Outcome{{Success: false, StderrTail: huge, ExitCode: 1}}}

	res, err := newOrchestratorUnderTest(gen, ren).Run(context.Background(), "run-10",
		Request{Topic: "circles", MaxRetries: 0}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	diag := res.Attempts[0].Diagnostic
	if len(diag) > maxDiagnosticBytes+64 {
		t.Fatalf("diagnostic not bounded: %d bytes", len(diag))
	}
	if !strings.Contains(diag, "RealError: at the end") {
		t.Fatalf("truncation must keep the tail")
	}
}

func TestMaxAttempts(t *testing.T) {
	t.Parallel()

	if got := (Request{MaxRetries: 2}).MaxAttempts(); got != 3 {
		t.Fatalf("got %d", got)
	}
	if got := (Request{MaxRetries: 0}).MaxAttempts(); got != 1 {
		t.Fatalf("got %d", got)
	}
	if got := (Request{MaxRetries: -5}).MaxAttempts(); got != 1 {
		t.Fatalf("negative retries floor at one attempt, got %d", got)
	}
}
