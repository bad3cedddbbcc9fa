package renderer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"sceneforge/internal/logging"
)

const (
	defaultRenderTimeout  = 5 * time.Minute
	defaultStderrTail     = 30
	sceneFileName         = "scene.py"
	artifactFileExtension = ".mp4"
)

// Outcome is the tagged result of one render execution. Failures are
// data, not errors: the orchestrator decides whether to retry.
type Outcome struct {
	Success      bool          `json:"success"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
	StderrTail   string        `json:"stderr_tail,omitempty"`
	Duration     time.Duration `json:"duration"`
	TimedOut     bool          `json:"timed_out"`
	ExitCode     int           `json:"exit_code"`
}

// Diagnostic returns the failure text to feed into a repair prompt.
func (o Outcome) Diagnostic() string {
	if o.TimedOut {
		return fmt.Sprintf("render timed out after %s\n%s", o.Duration.Round(time.Second), o.StderrTail)
	}
	return o.StderrTail
}

// Executor runs the external renderer as an isolated, timed subprocess.
// It never retries; retrying is the orchestrator's sole responsibility.
type Executor struct {
	binary    string
	outputDir string
	timeout   time.Duration
	tailLines int
	profiles  Profiles
	logger    logging.Logger
}

// ExecOption configures an Executor.
type ExecOption func(*Executor)

// WithTimeout sets the wall-clock budget for one render.
func WithTimeout(d time.Duration) ExecOption {
	return func(e *Executor) { e.timeout = d }
}

// WithStderrTailLines bounds the diagnostic excerpt kept from stderr.
func WithStderrTailLines(n int) ExecOption {
	return func(e *Executor) { e.tailLines = n }
}

// WithProfiles overrides the quality profile table.
func WithProfiles(p Profiles) ExecOption {
	return func(e *Executor) { e.profiles = p }
}

// WithExecLogger overrides the component logger.
func WithExecLogger(l logging.Logger) ExecOption {
	return func(e *Executor) { e.logger = logging.OrNop(l) }
}

// NewExecutor creates an Executor for the given renderer binary and
// shared output directory. Each render writes only under a run-scoped
// subdirectory, so concurrent tasks never collide.
func NewExecutor(binary, outputDir string, opts ...ExecOption) *Executor {
	e := &Executor{
		binary:    binary,
		outputDir: outputDir,
		timeout:   defaultRenderTimeout,
		tailLines: defaultStderrTail,
		profiles:  DefaultProfiles(),
		logger:    logging.NewComponentLogger("RenderExecutor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Render executes one render of code under the run's scoped directory.
// A timeout or nonzero exit is reported in the Outcome, never as a
// panic or error; the subprocess is hard-killed on cancellation.
func (e *Executor) Render(ctx context.Context, code, runID, sceneName, quality string) Outcome {
	start := time.Now()

	profile, err := e.profiles.Resolve(quality)
	if err != nil {
		return Outcome{StderrTail: err.Error(), Duration: time.Since(start), ExitCode: -1}
	}

	runDir := filepath.Join(e.outputDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return Outcome{StderrTail: fmt.Sprintf("create run dir: %v", err), Duration: time.Since(start), ExitCode: -1}
	}

	scriptPath := filepath.Join(runDir, sceneFileName)
	if err := os.WriteFile(scriptPath, []byte(code), 0o644); err != nil {
		return Outcome{StderrTail: fmt.Sprintf("write scene script: %v", err), Duration: time.Since(start), ExitCode: -1}
	}

	renderCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := []string{
		"render",
		profile.Flag,
		"--media_dir", runDir,
		"-o", sceneName + artifactFileExtension,
		scriptPath,
		sceneName,
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(renderCtx, e.binary, args...)
	cmd.Dir = runDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	e.logger.Debug("render start run=%s scene=%s quality=%s", runID, sceneName, quality)
	runErr := cmd.Run()
	duration := time.Since(start)

	if renderCtx.Err() == context.DeadlineExceeded {
		e.logger.Warn("render timeout run=%s after %s", runID, duration.Round(time.Millisecond))
		return Outcome{
			StderrTail: tail(stderr.String(), e.tailLines),
			Duration:   duration,
			TimedOut:   true,
			ExitCode:   exitCode(cmd, runErr),
		}
	}
	if ctx.Err() != nil {
		return Outcome{
			StderrTail: "render cancelled",
			Duration:   duration,
			ExitCode:   exitCode(cmd, runErr),
		}
	}

	if runErr != nil {
		e.logger.Info("render failed run=%s exit=%d", runID, exitCode(cmd, runErr))
		diag := tail(stderr.String(), e.tailLines)
		if diag == "" {
			diag = runErr.Error()
		}
		return Outcome{
			StderrTail: diag,
			Duration:   duration,
			ExitCode:   exitCode(cmd, runErr),
		}
	}

	artifact, err := e.findArtifact(runDir, sceneName)
	if err != nil {
		return Outcome{
			StderrTail: err.Error(),
			Duration:   duration,
			ExitCode:   0,
		}
	}

	e.logger.Info("render ok run=%s artifact=%s duration=%s", runID, artifact, duration.Round(time.Millisecond))
	return Outcome{
		Success:      true,
		ArtifactPath: artifact,
		Duration:     duration,
	}
}

// findArtifact locates the produced media file. The renderer decides
// its own media layout under the run dir, so search rather than assume.
func (e *Executor) findArtifact(runDir, sceneName string) (string, error) {
	expected := filepath.Join(runDir, sceneName+artifactFileExtension)
	if _, err := os.Stat(expected); err == nil {
		return expected, nil
	}

	var found string
	walkErr := filepath.WalkDir(runDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, artifactFileExtension) {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("search artifact: %w", walkErr)
	}
	if found == "" {
		return "", fmt.Errorf("renderer exited 0 but produced no %s artifact under %s", artifactFileExtension, runDir)
	}
	return found, nil
}

func exitCode(cmd *exec.Cmd, runErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// tail keeps the last n non-empty lines of s.
func tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" || n <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
