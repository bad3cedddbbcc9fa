package generator

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoCode is returned when no runnable code can be extracted from a
// model response.
var ErrNoCode = errors.New("no extractable code block in model response")

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:python|py)?[ \t]*\n(.*?)```")
	sceneClassRe  = regexp.MustCompile(`class\s+([A-Za-z_]\w*)\s*\([^)]*Scene[^)]*\)`)
)

// extractCode pulls the Python source out of a model response. It
// accepts three shapes: a fenced code block, a JSON object with a
// "code" field (repaired first, models routinely emit broken JSON),
// or a bare script.
func extractCode(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrNoCode
	}

	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		code := strings.TrimSpace(m[1])
		if code != "" {
			return code, nil
		}
	}

	if strings.HasPrefix(trimmed, "{") {
		if code := extractFromJSON(trimmed); code != "" {
			return code, nil
		}
	}

	if looksLikeScene(trimmed) {
		return trimmed, nil
	}

	return "", ErrNoCode
}

func extractFromJSON(text string) string {
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return ""
	}
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Code)
}

func looksLikeScene(text string) bool {
	return strings.Contains(text, "class ") && strings.Contains(text, "def construct")
}

// sceneName returns the first Scene subclass name found in code, or
// the given fallback.
func sceneName(code, fallback string) string {
	if m := sceneClassRe.FindStringSubmatch(code); m != nil {
		return m[1]
	}
	return fallback
}
