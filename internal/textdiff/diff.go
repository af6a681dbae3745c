package textdiff

import "unicode/utf8"

// Diff aligns oldText and newText word by word and returns the ordered segments.
//
// Filtering out insert segments rebuilds oldText exactly; filtering out delete
// segments rebuilds newText exactly. Diff("", "") returns an empty slice and a
// single empty side yields one insert or delete segment.
//
// Cost is O(n·m) in the token counts of the two inputs. Use LineDiff first or a
// Differ with MaxCells set when documents can be large.
func Diff(oldText, newText string) []Segment {
	return diffTokens(tokenizeWords(oldText), tokenizeWords(newText))
}

// WordDiff is Diff for short strings such as a single changed word or phrase,
// typically used to highlight an edit inside an otherwise unchanged line.
func WordDiff(oldText, newText string) []Segment {
	return Diff(oldText, newText)
}

// LineDiff aligns the two inputs line by line and returns one entry per line on
// each side.
func LineDiff(oldText, newText string) LineDiffResult {
	oldLines := splitLines(oldText)
	newLines := splitLines(newText)

	res := LineDiffResult{
		OldLines: make([]LineEntry, 0, len(oldLines)),
		NewLines: make([]LineEntry, 0, len(newLines)),
	}
	align(oldLines, newLines, func(op Op, line string) {
		switch op {
		case OpUnchanged:
			res.OldLines = append(res.OldLines, LineEntry{Type: OpUnchanged, Text: line, Number: len(res.OldLines) + 1})
			res.NewLines = append(res.NewLines, LineEntry{Type: OpUnchanged, Text: line, Number: len(res.NewLines) + 1})
		case OpDelete:
			res.OldLines = append(res.OldLines, LineEntry{Type: OpDelete, Text: line, Number: len(res.OldLines) + 1})
		case OpInsert:
			res.NewLines = append(res.NewLines, LineEntry{Type: OpInsert, Text: line, Number: len(res.NewLines) + 1})
		}
	})
	return res
}

// GetDiffStats sums the characters of insert and delete segments.
func GetDiffStats(segments []Segment) Stats {
	var st Stats
	for _, s := range segments {
		switch s.Type {
		case OpInsert:
			st.Additions += utf8.RuneCountInString(s.Text)
		case OpDelete:
			st.Deletions += utf8.RuneCountInString(s.Text)
		}
	}
	return st
}

// LineStats counts inserted and deleted lines of a line diff.
func LineStats(res LineDiffResult) Stats {
	var st Stats
	for _, l := range res.OldLines {
		if l.Type == OpDelete {
			st.Deletions++
		}
	}
	for _, l := range res.NewLines {
		if l.Type == OpInsert {
			st.Additions++
		}
	}
	return st
}

// Changed reports whether any segment is an insert or a delete.
func Changed(segments []Segment) bool {
	for _, s := range segments {
		if s.Type != OpUnchanged {
			return true
		}
	}
	return false
}
