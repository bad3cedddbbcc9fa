package generator

import (
	"errors"
	"strings"
	"testing"
)

func TestExtractCodeFencedBlock(t *testing.T) {
	t.Parallel()

	text := "Here is your scene:\n```python\nfrom manim import *\n\nclass WaveScene(Scene):\n    def construct(self):\n        pass\n```\nLet me know if you want changes."
	code, err := extractCode(text)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.HasPrefix(code, "from manim import") {
		t.Fatalf("unexpected code: %q", code)
	}
	if strings.Contains(code, "```") {
		t.Fatalf("fence leaked into code: %q", code)
	}
}

func TestExtractCodeUnlabelledFence(t *testing.T) {
	t.Parallel()

	text := "```\nfrom manim import *\nclass S(Scene):\n    def construct(self):\n        pass\n```"
	code, err := extractCode(text)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(code, "class S(Scene)") {
		t.Fatalf("unexpected code: %q", code)
	}
}

func TestExtractCodeJSONPayload(t *testing.T) {
	t.Parallel()

	text := `{"code": "from manim import *\nclass JSONScene(Scene):\n    def construct(self):\n        pass", "explanation": "a scene"}`
	code, err := extractCode(text)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(code, "class JSONScene(Scene)") {
		t.Fatalf("unexpected code: %q", code)
	}
}

func TestExtractCodeRepairsBrokenJSON(t *testing.T) {
	t.Parallel()

	// Trailing comma and unquoted key, the kind of JSON models emit.
	text := "{code: \"from manim import *\\nclass FixedScene(Scene):\\n    def construct(self):\\n        pass\",}"
	code, err := extractCode(text)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(code, "class FixedScene(Scene)") {
		t.Fatalf("unexpected code: %q", code)
	}
}

func TestExtractCodeBareScript(t *testing.T) {
	t.Parallel()

	text := "from manim import *\n\nclass BareScene(Scene):\n    def construct(self):\n        self.wait()"
	code, err := extractCode(text)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if code != text {
		t.Fatalf("bare script should pass through unchanged")
	}
}

func TestExtractCodeNoCode(t *testing.T) {
	t.Parallel()

	for _, text := range []string{
		"",
		"I'm sorry, I can't produce that animation.",
		"{\"explanation\": \"no code here\"}",
	} {
		if _, err := extractCode(text); !errors.Is(err, ErrNoCode) {
			t.Fatalf("expected ErrNoCode for %q, got %v", text, err)
		}
	}
}

func TestSceneName(t *testing.T) {
	t.Parallel()

	code := "from manim import *\n\nclass FourierScene(Scene):\n    def construct(self):\n        pass"
	if got := sceneName(code, "Fallback"); got != "FourierScene" {
		t.Fatalf("got %q", got)
	}
	if got := sceneName("print('x')", "Fallback"); got != "Fallback" {
		t.Fatalf("got %q", got)
	}
	// Subclasses of Scene variants still match.
	code = "class ThreeDDemo(ThreeDScene):\n    def construct(self):\n        pass"
	if got := sceneName(code, "Fallback"); got != "ThreeDDemo" {
		t.Fatalf("got %q", got)
	}
}
