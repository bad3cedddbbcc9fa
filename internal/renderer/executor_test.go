package renderer

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

const testScene = "from manim import *\n\nclass TestScene(Scene):\n    def construct(self):\n        pass\n"

// fakeRenderer writes a shell script standing in for the real renderer
// binary and returns its path.
func fakeRenderer(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake renderer scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-manim")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake renderer: %v", err)
	}
	return path
}

func TestRenderSuccessFindsArtifact(t *testing.T) {
	t.Parallel()

	// Drop the artifact where the real renderer would: nested under the
	// media dir, not at the expected top-level path.
	binary := fakeRenderer(t, `
mediadir=""
while [ $# -gt 0 ]; do
  if [ "$1" = "--media_dir" ]; then mediadir="$2"; shift; fi
  shift
done
mkdir -p "$mediadir/videos/scene/720p30"
echo fake-video > "$mediadir/videos/scene/720p30/TestScene.mp4"
`)

	outputDir := t.TempDir()
	exec := NewExecutor(binary, outputDir)

	outcome := exec.Render(context.Background(), testScene, "run-1", "TestScene", "medium")
	if !outcome.Success {
		t.Fatalf("expected success, got stderr: %s", outcome.StderrTail)
	}
	if !strings.HasSuffix(outcome.ArtifactPath, "TestScene.mp4") {
		t.Fatalf("artifact: %s", outcome.ArtifactPath)
	}
	if !strings.HasPrefix(outcome.ArtifactPath, filepath.Join(outputDir, "run-1")) {
		t.Fatalf("artifact escaped the run dir: %s", outcome.ArtifactPath)
	}

	// The scene script was written into the run dir.
	script, err := os.ReadFile(filepath.Join(outputDir, "run-1", "scene.py"))
	if err != nil {
		t.Fatalf("scene script missing: %v", err)
	}
	if string(script) != testScene {
		t.Fatalf("scene script content mismatch")
	}
}

func TestRenderFailureCapturesStderrTail(t *testing.T) {
	t.Parallel()

	binary := fakeRenderer(t, `
echo "line-1" >&2
echo "line-2" >&2
echo "Traceback (most recent call last):" >&2
echo "NameError: name 'Circl' is not defined" >&2
exit 1
`)

	exec := NewExecutor(binary, t.TempDir(), WithStderrTailLines(2))
	outcome := exec.Render(context.Background(), testScene, "run-2", "TestScene", "low")
	if outcome.Success {
		t.Fatalf("expected failure")
	}
	if outcome.ExitCode != 1 {
		t.Fatalf("exit code: %d", outcome.ExitCode)
	}
	if strings.Contains(outcome.StderrTail, "line-1") {
		t.Fatalf("tail not bounded: %s", outcome.StderrTail)
	}
	if !strings.Contains(outcome.StderrTail, "NameError") {
		t.Fatalf("tail lost the real error: %s", outcome.StderrTail)
	}
	if !strings.Contains(outcome.Diagnostic(), "NameError") {
		t.Fatalf("diagnostic should carry the stderr tail")
	}
}

func TestRenderTimeoutKillsSubprocess(t *testing.T) {
	t.Parallel()

	binary := fakeRenderer(t, "sleep 30\n")
	exec := NewExecutor(binary, t.TempDir(), WithTimeout(200*time.Millisecond))

	start := time.Now()
	outcome := exec.Render(context.Background(), testScene, "run-3", "TestScene", "low")
	if time.Since(start) > 10*time.Second {
		t.Fatalf("subprocess was not killed promptly")
	}
	if outcome.Success {
		t.Fatalf("expected failure")
	}
	if !outcome.TimedOut {
		t.Fatalf("expected TimedOut, got %+v", outcome)
	}
	if !strings.Contains(outcome.Diagnostic(), "timed out") {
		t.Fatalf("diagnostic: %s", outcome.Diagnostic())
	}
}

func TestRenderCancellation(t *testing.T) {
	t.Parallel()

	binary := fakeRenderer(t, "sleep 30\n")
	exec := NewExecutor(binary, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	outcome := exec.Render(ctx, testScene, "run-4", "TestScene", "low")
	if outcome.Success {
		t.Fatalf("expected failure")
	}
	if outcome.TimedOut {
		t.Fatalf("cancellation must not be reported as a timeout")
	}
	if !strings.Contains(outcome.StderrTail, "cancelled") {
		t.Fatalf("stderr tail: %s", outcome.StderrTail)
	}
}

func TestRenderExitZeroWithoutArtifactIsFailure(t *testing.T) {
	t.Parallel()

	binary := fakeRenderer(t, "exit 0\n")
	exec := NewExecutor(binary, t.TempDir())

	outcome := exec.Render(context.Background(), testScene, "run-5", "TestScene", "low")
	if outcome.Success {
		t.Fatalf("expected failure when no artifact is produced")
	}
	if !strings.Contains(outcome.StderrTail, "no .mp4 artifact") {
		t.Fatalf("stderr tail: %s", outcome.StderrTail)
	}
}

func TestRenderUnknownQuality(t *testing.T) {
	t.Parallel()

	exec := NewExecutor("manim", t.TempDir())
	outcome := exec.Render(context.Background(), testScene, "run-6", "TestScene", "ultra")
	if outcome.Success {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(outcome.StderrTail, "unknown quality") {
		t.Fatalf("stderr tail: %s", outcome.StderrTail)
	}
}

func TestTail(t *testing.T) {
	t.Parallel()

	if got := tail("a\nb\nc\n", 2); got != "b\nc" {
		t.Fatalf("got %q", got)
	}
	if got := tail("a\nb", 5); got != "a\nb" {
		t.Fatalf("got %q", got)
	}
	if got := tail("", 5); got != "" {
		t.Fatalf("got %q", got)
	}
}
