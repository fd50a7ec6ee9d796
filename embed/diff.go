package embed

import (
	"github.com/pmezard/go-difflib/difflib"
)

// UnifiedDiff renders the change between the original and instrumented content of name.
func UnifiedDiff(name string, before, after []byte) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: name,
		ToFile:   name + " (instrumented)",
		Context:  3,
	})
}
