package textdiff

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultContext is the number of context lines Unified uses when given a negative value.
const DefaultContext = 3

// Unified renders a classic unified patch (---/+++ headers, @@ hunks) of oldText against
// newText. Identical inputs render as the empty string.
func Unified(oldName, newName, oldText, newText string, context int) (string, error) {
	if oldText == newText {
		return "", nil
	}
	if context < 0 {
		context = DefaultContext
	}

	u := difflib.UnifiedDiff{
		A:        patchLines(oldText),
		B:        patchLines(newText),
		FromFile: oldName,
		ToFile:   newName,
		Context:  context,
	}
	s, err := difflib.GetUnifiedDiffString(u)
	if err != nil {
		return "", fmt.Errorf("render unified diff: %w", err)
	}
	return s, nil
}

// patchLines keeps each line's terminator and marks a missing final newline the way
// patch(1) expects.
func patchLines(text string) []string {
	lines := tokenizeLines(text)
	if n := len(lines); n > 0 && !strings.HasSuffix(lines[n-1], "\n") {
		lines[n-1] += "\n\\ No newline at end of file\n"
	}
	if lines == nil {
		return []string{}
	}
	return lines
}
