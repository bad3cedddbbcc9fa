package pipeline

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

const maxDiffBytes = 8 * 1024

// codeDiff renders a patch-format diff between consecutive attempt
// scripts so the audit trail shows what each fix pass actually changed.
func codeDiff(oldCode, newCode string) string {
	if oldCode == "" || oldCode == newCode {
		return ""
	}
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(oldCode, newCode)
	text := dmp.PatchToText(patches)
	if len(text) > maxDiffBytes {
		text = text[:maxDiffBytes] + "\n... (diff truncated)"
	}
	return text
}
