package textdiff

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var corpus = []string{
	"",
	" ",
	"a",
	"hello world",
	"hello  world\n",
	"The quick fox",
	"The quick brown fox",
	"The quick fox jumps",
	"\tleading tab and trailing space ",
	"line one\nline two\nline three\n",
	"line one\nline 2\nline three",
	"naïve café, déjà vu",
	"a b a b a b",
	"b a b a",
	"x\n\n\ny",
}

func TestDiff_RoundTrip(t *testing.T) {
	for _, a := range corpus {
		for _, b := range corpus {
			segs := Diff(a, b)
			require.Equal(t, a, OldText(segs), "old side of %q -> %q", a, b)
			require.Equal(t, b, NewText(segs), "new side of %q -> %q", a, b)
		}
	}
}

func TestDiff_SegmentsAreCoalesced(t *testing.T) {
	for _, a := range corpus {
		for _, b := range corpus {
			segs := Diff(a, b)
			for i, s := range segs {
				assert.NotEmpty(t, s.Text)
				if i == 0 {
					continue
				}
				prev := segs[i-1]
				assert.NotEqual(t, prev.Type, s.Type, "adjacent %s segments in %q -> %q", s.Type, a, b)
				assert.False(t, prev.Type == OpInsert && s.Type == OpDelete,
					"insert before delete in %q -> %q", a, b)
			}
		}
	}
}

func TestDiff_Identity(t *testing.T) {
	for _, a := range corpus {
		segs := Diff(a, a)
		if a == "" {
			assert.Empty(t, segs)
			continue
		}
		require.Len(t, segs, 1)
		assert.Equal(t, Segment{Type: OpUnchanged, Text: a}, segs[0])
	}
}

func TestDiff_EmptySides(t *testing.T) {
	assert.Equal(t, []Segment{}, Diff("", ""))
	assert.Equal(t, []Segment{{Type: OpInsert, Text: "new text"}}, Diff("", "new text"))
	assert.Equal(t, []Segment{{Type: OpDelete, Text: "old text"}}, Diff("old text", ""))
}

func TestDiff_Scenarios(t *testing.T) {
	tests := []struct {
		name string
		old  string
		new  string
		want []Segment
	}{
		{
			name: "insert word",
			old:  "The quick fox",
			new:  "The quick brown fox",
			want: []Segment{
				{Type: OpUnchanged, Text: "The quick "},
				{Type: OpInsert, Text: "brown "},
				{Type: OpUnchanged, Text: "fox"},
			},
		},
		{
			name: "append",
			old:  "The quick fox",
			new:  "The quick fox jumps",
			want: []Segment{
				{Type: OpUnchanged, Text: "The quick fox"},
				{Type: OpInsert, Text: " jumps"},
			},
		},
		{
			name: "replace lists delete first",
			old:  "hello world",
			new:  "hello there",
			want: []Segment{
				{Type: OpUnchanged, Text: "hello "},
				{Type: OpDelete, Text: "world"},
				{Type: OpInsert, Text: "there"},
			},
		},
		{
			name: "whitespace change",
			old:  "a b",
			new:  "a  b",
			want: []Segment{
				{Type: OpUnchanged, Text: "a"},
				{Type: OpDelete, Text: " "},
				{Type: OpInsert, Text: "  "},
				{Type: OpUnchanged, Text: "b"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Diff(tt.old, tt.new))
		})
	}
}

func TestDiff_PrefersInsertOnTies(t *testing.T) {
	segs := Diff("x", "y x")
	assert.Equal(t, []Segment{
		{Type: OpInsert, Text: "y "},
		{Type: OpUnchanged, Text: "x"},
	}, segs)
}

func TestWordDiff_SameContractAsDiff(t *testing.T) {
	assert.Equal(t, Diff("colour", "color"), WordDiff("colour", "color"))
	assert.Equal(t, []Segment{
		{Type: OpDelete, Text: "colour"},
		{Type: OpInsert, Text: "color"},
	}, WordDiff("colour", "color"))
}

func TestGetDiffStats_CountsCharacters(t *testing.T) {
	for _, a := range corpus {
		for _, b := range corpus {
			segs := Diff(a, b)
			var ins, del int
			for _, s := range segs {
				switch s.Type {
				case OpInsert:
					ins += utf8.RuneCountInString(s.Text)
				case OpDelete:
					del += utf8.RuneCountInString(s.Text)
				}
			}
			st := GetDiffStats(segs)
			assert.Equal(t, ins, st.Additions)
			assert.Equal(t, del, st.Deletions)
		}
	}

	st := GetDiffStats(Diff("hello world", "hello there"))
	assert.Equal(t, Stats{Additions: 5, Deletions: 5}, st)

	st = GetDiffStats([]Segment{{Type: OpInsert, Text: "déjà"}})
	assert.Equal(t, 4, st.Additions)
}

func TestChanged(t *testing.T) {
	assert.False(t, Changed(Diff("same", "same")))
	assert.False(t, Changed(nil))
	assert.True(t, Changed(Diff("same", "different")))
}

func TestLineDiff(t *testing.T) {
	res := LineDiff("a\nb\nc\n", "a\nx\nc\n")

	assert.Equal(t, []LineEntry{
		{Type: OpUnchanged, Text: "a", Number: 1},
		{Type: OpDelete, Text: "b", Number: 2},
		{Type: OpUnchanged, Text: "c", Number: 3},
	}, res.OldLines)
	assert.Equal(t, []LineEntry{
		{Type: OpUnchanged, Text: "a", Number: 1},
		{Type: OpInsert, Text: "x", Number: 2},
		{Type: OpUnchanged, Text: "c", Number: 3},
	}, res.NewLines)
	assert.Equal(t, Stats{Additions: 1, Deletions: 1}, LineStats(res))
}

func TestLineDiff_ParallelViewsCoverEveryLine(t *testing.T) {
	for _, a := range corpus {
		for _, b := range corpus {
			res := LineDiff(a, b)
			require.Len(t, res.OldLines, len(splitLines(a)))
			require.Len(t, res.NewLines, len(splitLines(b)))

			var oldTexts, newTexts []string
			for i, l := range res.OldLines {
				assert.NotEqual(t, OpInsert, l.Type)
				assert.Equal(t, i+1, l.Number)
				oldTexts = append(oldTexts, l.Text)
			}
			for i, l := range res.NewLines {
				assert.NotEqual(t, OpDelete, l.Type)
				assert.Equal(t, i+1, l.Number)
				newTexts = append(newTexts, l.Text)
			}
			assert.Equal(t, splitLines(a), nilIfEmpty(oldTexts))
			assert.Equal(t, splitLines(b), nilIfEmpty(newTexts))
		}
	}
}

func TestLineDiff_TrailingNewline(t *testing.T) {
	res := LineDiff("one\n", "one")
	require.Len(t, res.OldLines, 1)
	require.Len(t, res.NewLines, 1)
	assert.Equal(t, OpUnchanged, res.OldLines[0].Type)

	res = LineDiff("", "")
	assert.Empty(t, res.OldLines)
	assert.Empty(t, res.NewLines)
}

func TestTokenizeWords_RoundTrip(t *testing.T) {
	for _, s := range corpus {
		assert.Equal(t, s, strings.Join(tokenizeWords(s), ""))
	}
	assert.Equal(t, []string{"  ", "a", " ", "b", "\n"}, tokenizeWords("  a b\n"))
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
