package validator

import (
	"fmt"
	"regexp"
	"strings"
)

// Report is the outcome of one static validation pass.
type Report struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Diagnostic flattens the report's errors into one feedback string
// suitable for a repair prompt.
func (r Report) Diagnostic() string {
	return strings.Join(r.Errors, "\n")
}

var (
	manimImportRe   = regexp.MustCompile(`(?m)^\s*(from\s+manim\s+import|import\s+manim)`)
	sceneClassRe    = regexp.MustCompile(`class\s+[A-Za-z_]\w*\s*\([^)]*Scene[^)]*\)`)
	constructRe     = regexp.MustCompile(`def\s+construct\s*\(\s*self`)
	tripleQuoteRe   = regexp.MustCompile(`"""|'''`)
	forbiddenCallRe = regexp.MustCompile(`(?m)^\s*[^#\n]*\b(input\s*\(|plt\.show\s*\(|os\.system\s*\()`)
)

// StaticValidator screens candidate scripts with deterministic,
// I/O-free structural checks before the expensive render stage.
type StaticValidator struct{}

// New creates a StaticValidator.
func New() *StaticValidator {
	return &StaticValidator{}
}

// Validate checks code structure. It never calls out of process and is
// deterministic for a given input.
func (v *StaticValidator) Validate(code string) Report {
	var report Report

	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		report.Errors = append(report.Errors, "script is empty")
		return report
	}

	if !manimImportRe.MatchString(code) {
		report.Errors = append(report.Errors, "missing manim import (expected 'from manim import ...' or 'import manim')")
	}
	if !sceneClassRe.MatchString(code) {
		report.Errors = append(report.Errors, "no Scene subclass found")
	}
	if !constructRe.MatchString(code) {
		report.Errors = append(report.Errors, "Scene subclass has no construct(self) method")
	}

	report.Errors = append(report.Errors, checkBalance(code)...)

	if countTripleQuotes(code)%2 != 0 {
		report.Errors = append(report.Errors, "unterminated triple-quoted string")
	}

	if forbiddenCallRe.MatchString(code) {
		report.Errors = append(report.Errors, "script uses a blocking call (input/plt.show/os.system) that would hang the renderer")
	}

	if strings.Contains(code, "\t") && strings.Contains(code, "    ") {
		report.Warnings = append(report.Warnings, "script mixes tabs and spaces for indentation")
	}

	report.Valid = len(report.Errors) == 0
	return report
}

// checkBalance verifies (), [] and {} pairing outside of comments and
// string literals. Lexing is line oriented; good enough to catch the
// truncated scripts models produce when they hit a token limit.
func checkBalance(code string) []string {
	var errs []string
	var stack []rune
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}

	for lineNo, line := range strings.Split(code, "\n") {
		inString := rune(0)
		escaped := false
		comment := false
		for _, ch := range line {
			if comment {
				break
			}
			if escaped {
				escaped = false
				continue
			}
			if inString != 0 {
				switch ch {
				case '\\':
					escaped = true
				case inString:
					inString = 0
				}
				continue
			}
			switch ch {
			case '#':
				comment = true
			case '\'', '"':
				inString = ch
			case '(', '[', '{':
				stack = append(stack, ch)
			case ')', ']', '}':
				if len(stack) == 0 || stack[len(stack)-1] != pairs[ch] {
					errs = append(errs, fmt.Sprintf("unbalanced '%c' on line %d", ch, lineNo+1))
					return errs
				}
				stack = stack[:len(stack)-1]
			}
		}
	}

	if len(stack) > 0 {
		errs = append(errs, fmt.Sprintf("%d unclosed bracket(s); script may be truncated", len(stack)))
	}
	return errs
}

func countTripleQuotes(code string) int {
	return len(tripleQuoteRe.FindAllString(code, -1))
}
