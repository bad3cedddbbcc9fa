package pipeline

import (
	"context"
	"time"

	"sceneforge/internal/generator"
	"sceneforge/internal/llm"
	"sceneforge/internal/renderer"
	"sceneforge/internal/validator"
)

// Status is the terminal status of a pipeline run.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusExhausted  Status = "exhausted"
	StatusFatalError Status = "fatal_error"
)

// State names one position in the run's state machine. States are
// reported as progress and recorded for debugging; transitions are
// driven exclusively by the orchestrator.
type State string

const (
	StateInit       State = "init"
	StateGenerating State = "generating"
	StateValidating State = "validating"
	StateRendering  State = "rendering"
	StateFixing     State = "fixing"
	StateSucceeded  State = "succeeded"
	StateExhausted  State = "exhausted"
	StateFatalError State = "fatal_error"
)

// ErrorKind tags which stage produced an attempt's failure.
type ErrorKind string

const (
	ErrorKindNone          ErrorKind = ""
	ErrorKindGeneration    ErrorKind = "generation_error"
	ErrorKindValidation    ErrorKind = "validation_error"
	ErrorKindRender        ErrorKind = "render_error"
	ErrorKindRenderTimeout ErrorKind = "render_timeout"
)

// Request describes one pipeline run. It is immutable once submitted.
type Request struct {
	Topic         string        `json:"topic"`
	Requirements  []string      `json:"requirements,omitempty"`
	Audience      string        `json:"audience,omitempty"`
	Style         string        `json:"style,omitempty"`
	MaxRetries    int           `json:"max_retries"`
	Quality       string        `json:"quality,omitempty"`
	ModelTimeout  time.Duration `json:"model_timeout,omitempty"`
	RenderTimeout time.Duration `json:"render_timeout,omitempty"`
}

// MaxAttempts returns the attempt budget: max_retries + 1, floor 1.
func (r Request) MaxAttempts() int {
	if r.MaxRetries < 0 {
		return 1
	}
	return r.MaxRetries + 1
}

// Attempt is the immutable record of one generate→validate→render
// cycle. The full ordered attempt list is the run's audit trail.
type Attempt struct {
	Ordinal    int               `json:"ordinal"`
	Code       string            `json:"code,omitempty"`
	SceneName  string            `json:"scene_name,omitempty"`
	Validation *validator.Report `json:"validation,omitempty"`
	Render     *renderer.Outcome `json:"render,omitempty"`
	ErrorKind  ErrorKind         `json:"error_kind,omitempty"`
	Diagnostic string            `json:"diagnostic,omitempty"`
	CodeDiff   string            `json:"code_diff,omitempty"`
	TokenUsage llm.TokenUsage    `json:"token_usage"`
	Duration   time.Duration     `json:"duration"`
}

// Result is the terminal outcome of a pipeline run.
type Result struct {
	Status       Status        `json:"status"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
	Attempts     []Attempt     `json:"attempts"`
	Elapsed      time.Duration `json:"elapsed"`
	Diagnostic   string        `json:"diagnostic,omitempty"`
}

// Reporter receives progress updates from a run. Implementations must
// be safe to call from the run's goroutine; the orchestrator never
// blocks on a reporter.
type Reporter interface {
	Progress(message string)
}

type nopReporter struct{}

func (nopReporter) Progress(string) {}

// NopReporter discards all progress updates.
func NopReporter() Reporter {
	return nopReporter{}
}

// CodeGenerator produces and repairs candidate scripts.
type CodeGenerator interface {
	Generate(ctx context.Context, req generator.Request) (*generator.Candidate, error)
	Fix(ctx context.Context, previousCode, diagnostic string) (*generator.Candidate, error)
}

// Validator screens a candidate before the render stage.
type Validator interface {
	Validate(code string) validator.Report
}

// Renderer executes one render of a validated candidate.
type Renderer interface {
	Render(ctx context.Context, code, runID, sceneName, quality string) renderer.Outcome
}
