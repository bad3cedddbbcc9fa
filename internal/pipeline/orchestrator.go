package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"sceneforge/internal/generator"
	"sceneforge/internal/logging"
	"sceneforge/internal/observability"
	"sceneforge/internal/renderer"
	"sceneforge/internal/validator"
)

const maxDiagnosticBytes = 4 * 1024

// Orchestrator drives the bounded Generate→Validate→Render→Fix loop.
//
// Failure routing is asymmetric on purpose: any generator error is
// fatal for the run, while validation and render failures consume an
// attempt and feed their diagnostic into a fix pass. This mirrors the
// observed behavior of the system it reimplements; a transient model
// rate-limit is plausibly recoverable, but it is treated as fatal
// until that intent is revisited.
type Orchestrator struct {
	gen     CodeGenerator
	val     Validator
	ren     Renderer
	logger  logging.Logger
	tracer  *observability.TracerProvider
	metrics *observability.MetricsCollector
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger overrides the component logger.
func WithOrchestratorLogger(l logging.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logging.OrNop(l) }
}

// WithTracer enables span emission around each stage.
func WithTracer(tp *observability.TracerProvider) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = tp }
}

// WithMetrics enables attempt/run/render metric recording.
func WithMetrics(m *observability.MetricsCollector) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator composes the three pipeline stages.
func NewOrchestrator(gen CodeGenerator, val Validator, ren Renderer, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		gen:    gen,
		val:    val,
		ren:    ren,
		logger: logging.NewComponentLogger("Orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one pipeline run to its terminal result.
//
// The returned error is non-nil only when the run context is cancelled
// or exceeds its deadline between stages; every in-band failure mode
// (generation, validation, render) is encoded in the Result.
func (o *Orchestrator) Run(ctx context.Context, runID string, req Request, rep Reporter) (*Result, error) {
	if rep == nil {
		rep = NopReporter()
	}

	start := time.Now()
	ctx, span := o.startSpan(ctx, observability.SpanPipelineRun,
		attribute.String(observability.AttrTaskID, runID))
	defer o.endSpan(span)

	maxAttempts := req.MaxAttempts()
	res := &Result{}
	var prevCode, diagnostic string

	o.logger.Info("run %s start topic=%q max_attempts=%d quality=%s", runID, req.Topic, maxAttempts, req.Quality)

	for ordinal := 1; ordinal <= maxAttempts; ordinal++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptStart := time.Now()
		attempt := Attempt{Ordinal: ordinal}

		// Generating (or Fixing→Generating on repair passes).
		if ordinal == 1 {
			rep.Progress(fmt.Sprintf("attempt %d/%d: generating scene code for %q", ordinal, maxAttempts, req.Topic))
		} else {
			rep.Progress(fmt.Sprintf("attempt %d/%d: repairing scene code", ordinal, maxAttempts))
		}

		candidate, genErr := o.generate(ctx, ordinal, req, prevCode, diagnostic)
		if genErr != nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			// GenerationError is terminal; the run never retries it.
			attempt.ErrorKind = ErrorKindGeneration
			attempt.Diagnostic = truncateDiagnostic(genErr.Error())
			attempt.Duration = time.Since(attemptStart)
			res.Attempts = append(res.Attempts, attempt)
			res.Status = StatusFatalError
			res.Diagnostic = attempt.Diagnostic
			res.Elapsed = time.Since(start)
			o.recordAttempt(ctx, string(ErrorKindGeneration))
			o.recordRun(ctx, res)
			o.logger.Error("run %s fatal: %v", runID, genErr)
			rep.Progress("generation failed: " + attempt.Diagnostic)
			return res, nil
		}

		attempt.Code = candidate.Code
		attempt.SceneName = candidate.SceneName
		attempt.TokenUsage = candidate.Usage
		attempt.CodeDiff = codeDiff(prevCode, candidate.Code)
		prevCode = candidate.Code

		// Validating.
		rep.Progress(fmt.Sprintf("attempt %d/%d: validating %s", ordinal, maxAttempts, candidate.SceneName))
		report := o.validate(ctx, candidate.Code)
		attempt.Validation = &report
		if !report.Valid {
			diagnostic = truncateDiagnostic(report.Diagnostic())
			attempt.ErrorKind = ErrorKindValidation
			attempt.Diagnostic = diagnostic
			attempt.Duration = time.Since(attemptStart)
			res.Attempts = append(res.Attempts, attempt)
			o.recordAttempt(ctx, string(ErrorKindValidation))
			o.logger.Info("run %s attempt %d invalid: %s", runID, ordinal, firstLine(diagnostic))
			if ordinal == maxAttempts {
				break
			}
			rep.Progress("validation failed, requesting a fix")
			continue
		}

		// Rendering. A validation pass is cheap; the render is not, so
		// honor cancellation one more time before spawning the subprocess.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rep.Progress(fmt.Sprintf("attempt %d/%d: rendering %s", ordinal, maxAttempts, candidate.SceneName))
		outcome := o.render(ctx, req, runID, candidate.Code, candidate.SceneName)
		attempt.Render = &outcome
		attempt.Duration = time.Since(attemptStart)

		if outcome.Success {
			res.Attempts = append(res.Attempts, attempt)
			res.Status = StatusSuccess
			res.ArtifactPath = outcome.ArtifactPath
			res.Elapsed = time.Since(start)
			o.recordAttempt(ctx, "success")
			o.recordRun(ctx, res)
			o.logger.Info("run %s succeeded after %d attempt(s), artifact=%s", runID, ordinal, outcome.ArtifactPath)
			rep.Progress(fmt.Sprintf("render succeeded on attempt %d", ordinal))
			return res, nil
		}

		if err := ctx.Err(); err != nil {
			// Cancelled mid-render; the subprocess was already killed.
			return nil, err
		}

		diagnostic = truncateDiagnostic(outcome.Diagnostic())
		if outcome.TimedOut {
			attempt.ErrorKind = ErrorKindRenderTimeout
		} else {
			attempt.ErrorKind = ErrorKindRender
		}
		attempt.Diagnostic = diagnostic
		res.Attempts = append(res.Attempts, attempt)
		o.recordAttempt(ctx, string(attempt.ErrorKind))
		o.logger.Info("run %s attempt %d render failed (%s): %s", runID, ordinal, attempt.ErrorKind, firstLine(diagnostic))
		if ordinal < maxAttempts {
			rep.Progress("render failed, requesting a fix")
		}
	}

	res.Status = StatusExhausted
	res.Diagnostic = diagnostic
	res.Elapsed = time.Since(start)
	o.recordRun(ctx, res)
	o.logger.Warn("run %s exhausted after %d attempt(s)", runID, len(res.Attempts))
	rep.Progress(fmt.Sprintf("retry budget exhausted after %d attempt(s)", len(res.Attempts)))
	return res, nil
}

func (o *Orchestrator) generate(ctx context.Context, ordinal int, req Request, prevCode, diagnostic string) (*generator.Candidate, error) {
	genCtx := ctx
	if req.ModelTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, req.ModelTimeout)
		defer cancel()
	}

	spanName := observability.SpanGenerate
	if ordinal > 1 {
		spanName = observability.SpanFix
	}
	genCtx, span := o.startSpan(genCtx, spanName, attribute.Int(observability.AttrAttempt, ordinal))
	defer o.endSpan(span)

	if ordinal == 1 {
		return o.gen.Generate(genCtx, generator.Request{
			Topic:        req.Topic,
			Requirements: req.Requirements,
			Audience:     req.Audience,
			Style:        req.Style,
		})
	}
	return o.gen.Fix(genCtx, prevCode, diagnostic)
}

func (o *Orchestrator) validate(ctx context.Context, code string) validator.Report {
	_, span := o.startSpan(ctx, observability.SpanValidate)
	defer o.endSpan(span)
	return o.val.Validate(code)
}

func (o *Orchestrator) render(ctx context.Context, req Request, runID, code, sceneName string) renderer.Outcome {
	renderCtx := ctx
	if req.RenderTimeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, req.RenderTimeout)
		defer cancel()
	}

	renderCtx, span := o.startSpan(renderCtx, observability.SpanRender,
		attribute.String(observability.AttrSceneName, sceneName),
		attribute.String(observability.AttrQuality, req.Quality))
	defer o.endSpan(span)

	outcome := o.ren.Render(renderCtx, code, runID, sceneName, req.Quality)

	if o.metrics != nil {
		status := "failed"
		switch {
		case outcome.Success:
			status = "success"
		case outcome.TimedOut:
			status = "timeout"
		}
		o.metrics.RecordRender(ctx, status, outcome.Duration)
	}
	return outcome
}

func (o *Orchestrator) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if o.tracer == nil {
		return ctx, nil
	}
	return o.tracer.StartSpan(ctx, name, attrs...)
}

func (o *Orchestrator) endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}

func (o *Orchestrator) recordAttempt(ctx context.Context, outcome string) {
	if o.metrics != nil {
		o.metrics.RecordAttempt(ctx, outcome)
	}
}

func (o *Orchestrator) recordRun(ctx context.Context, res *Result) {
	if o.metrics != nil {
		o.metrics.RecordPipelineRun(ctx, string(res.Status), len(res.Attempts))
	}
}

// truncateDiagnostic bounds a diagnostic so it stays cheap to re-inject
// into a prompt. The tail is kept; tracebacks put the real error last.
func truncateDiagnostic(diag string) string {
	diag = strings.TrimSpace(diag)
	if len(diag) <= maxDiagnosticBytes {
		return diag
	}
	return "... (truncated)\n" + diag[len(diag)-maxDiagnosticBytes:]
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
