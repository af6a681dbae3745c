// Package textdiff computes token-level alignments between two texts.
//
// The engine aligns words (runs of non-whitespace, with each run of whitespace kept as its
// own token) using a longest-common-subsequence table. Line and character granularities are
// available for side-by-side rendering and for inputs too large for the quadratic table.
//
// Every function in this package is pure and safe for concurrent use.
package textdiff

import "strings"

// Op classifies a span of text in a diff.
type Op string

const (
	OpUnchanged Op = "unchanged"
	OpInsert    Op = "insert"
	OpDelete    Op = "delete"
)

// Segment is a maximal run of tokens sharing one classification.
type Segment struct {
	Type Op     `json:"type"`
	Text string `json:"text"`
}

// LineEntry is one line of a line diff, numbered on its own side starting at 1.
type LineEntry struct {
	Type   Op     `json:"type"`
	Text   string `json:"text"`
	Number int    `json:"number"`
}

// LineDiffResult holds the two parallel views used for split rendering.
// OldLines has every old line tagged unchanged or delete; NewLines has every new
// line tagged unchanged or insert.
type LineDiffResult struct {
	OldLines []LineEntry `json:"old_lines"`
	NewLines []LineEntry `json:"new_lines"`
}

// Stats counts inserted and deleted characters (or lines, see LineStats).
type Stats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// OldText rebuilds the old side of a diff.
func OldText(segments []Segment) string {
	return join(segments, OpInsert)
}

// NewText rebuilds the new side of a diff.
func NewText(segments []Segment) string {
	return join(segments, OpDelete)
}

func join(segments []Segment, skip Op) string {
	var b strings.Builder
	for _, s := range segments {
		if s.Type != skip {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}
