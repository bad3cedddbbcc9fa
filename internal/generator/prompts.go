package generator

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are an expert Manim animator. You write complete, runnable Manim Community Edition scripts.

Rules:
- Always answer with exactly one Python code block.
- The script must import manim, define a single Scene subclass, and implement construct(self).
- Never use input(), plt.show(), or any blocking call.
- Keep total animation length under 60 seconds.`

// buildGeneratePrompt renders the user prompt for a fresh generation.
func buildGeneratePrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a Manim animation that explains: %s\n", req.Topic)
	if req.Audience != "" {
		fmt.Fprintf(&b, "Target audience: %s\n", req.Audience)
	}
	if req.Style != "" {
		fmt.Fprintf(&b, "Visual style: %s\n", req.Style)
	}
	if len(req.Requirements) > 0 {
		b.WriteString("Requirements:\n")
		for _, r := range req.Requirements {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	b.WriteString("\nReturn the full script in a single ```python code block.")
	return b.String()
}

// buildFixPrompt renders the user prompt for a repair pass. The
// diagnostic from the failed attempt is quoted verbatim so the model
// sees exactly what the validator or renderer reported.
func buildFixPrompt(previousCode, diagnostic string) string {
	var b strings.Builder
	b.WriteString("The following Manim script failed. Fix it and return the complete corrected script.\n\n")
	b.WriteString("Failure output:\n")
	b.WriteString("```\n")
	b.WriteString(strings.TrimSpace(diagnostic))
	b.WriteString("\n```\n\n")
	b.WriteString("Script:\n")
	b.WriteString("```python\n")
	b.WriteString(previousCode)
	b.WriteString("\n```\n\n")
	b.WriteString("Return the full corrected script in a single ```python code block. Do not explain the changes.")
	return b.String()
}
