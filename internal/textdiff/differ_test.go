package textdiff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGranularity(t *testing.T) {
	tests := []struct {
		in      string
		want    Granularity
		wantErr bool
	}{
		{in: "", want: GranularityWord},
		{in: "word", want: GranularityWord},
		{in: "Lines", want: GranularityLine},
		{in: " char ", want: GranularityChar},
		{in: "paragraph", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseGranularity(tt.in)
		if tt.wantErr {
			require.ErrorIs(t, err, ErrUnknownGranularity)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestDiffer_UsesLCSWithinBound(t *testing.T) {
	d := NewDiffer(DefaultConfig())
	res := d.Compare("The quick fox", "The quick brown fox")

	assert.Equal(t, EngineLCS, res.Engine)
	assert.Equal(t, GranularityWord, res.Granularity)
	assert.Equal(t, Diff("The quick fox", "The quick brown fox"), res.Segments)
	assert.Equal(t, Stats{Additions: 6}, res.Stats)
}

func TestDiffer_FallsBackPastBound(t *testing.T) {
	for _, g := range []Granularity{GranularityWord, GranularityLine} {
		t.Run(string(g), func(t *testing.T) {
			d := NewDiffer(Config{Granularity: g, MaxCells: 1})
			for _, a := range corpus {
				for _, b := range corpus {
					res := d.Compare(a, b)
					require.Equal(t, a, OldText(res.Segments), "%q -> %q", a, b)
					require.Equal(t, b, NewText(res.Segments), "%q -> %q", a, b)
				}
			}
			res := d.Compare("one\ntwo\n", "one\nthree\n")
			assert.Equal(t, EngineMyers, res.Engine)
		})
	}
}

func TestDiffer_FallbackWithCleanup(t *testing.T) {
	d := NewDiffer(Config{Granularity: GranularityWord, MaxCells: 1, SemanticCleanup: true})
	old := strings.Repeat("alpha beta gamma ", 20)
	updated := strings.Replace(old, "beta", "delta", 3)

	segs := d.Diff(old, updated)
	assert.Equal(t, old, OldText(segs))
	assert.Equal(t, updated, NewText(segs))
}

func TestDiffer_LineGranularity(t *testing.T) {
	d := NewDiffer(Config{Granularity: GranularityLine})
	segs := d.Diff("a\nb\nc\n", "a\nx\nc\n")

	assert.Equal(t, []Segment{
		{Type: OpUnchanged, Text: "a\n"},
		{Type: OpDelete, Text: "b\n"},
		{Type: OpInsert, Text: "x\n"},
		{Type: OpUnchanged, Text: "c\n"},
	}, segs)
}

func TestDiffer_DefaultsToWords(t *testing.T) {
	d := NewDiffer(Config{})
	assert.Equal(t, GranularityWord, d.Config().Granularity)
	assert.Equal(t, EngineLCS, d.Compare("a", "b").Engine)
}

func TestCharDiff(t *testing.T) {
	for _, a := range corpus {
		for _, b := range corpus {
			segs := CharDiff(a, b)
			require.Equal(t, a, OldText(segs))
			require.Equal(t, b, NewText(segs))
		}
	}

	assert.Equal(t, []Segment{{Type: OpUnchanged, Text: "kitten"}}, CharDiff("kitten", "kitten"))
	assert.Empty(t, CharDiff("", ""))

	res := NewDiffer(Config{Granularity: GranularityChar}).Compare("cat", "cart")
	assert.Equal(t, EngineMyers, res.Engine)
	assert.Equal(t, Stats{Additions: 1}, res.Stats)
}

func TestCharDiff_InvalidUTF8KeepsBytes(t *testing.T) {
	pairs := [][2]string{
		{"ab\xffcd", "ab\xffXd"},
		{"\xc3", "\xc3\xa9"},
		{"caf\xe9", "caf\xc3\xa9"},
		{"", "\x80\x81"},
	}
	for _, p := range pairs {
		for _, cleanup := range []bool{true, false} {
			segs := charDiff(p[0], p[1], cleanup)
			require.Equal(t, p[0], OldText(segs), "%q -> %q", p[0], p[1])
			require.Equal(t, p[1], NewText(segs), "%q -> %q", p[0], p[1])
		}
	}

	segs := CharDiff("ab\xffcd", "ab\xffXd")
	require.NotEmpty(t, segs)
	assert.Equal(t, Segment{Type: OpUnchanged, Text: "ab\xff"}, segs[0])
	assert.NotContains(t, NewText(segs), "\uFFFD")

	res := NewDiffer(Config{Granularity: GranularityChar}).Compare("x\xfey", "x\xfez")
	assert.Equal(t, "x\xfez", NewText(res.Segments))
}

func TestSplitChars(t *testing.T) {
	assert.Equal(t, []string{"a", "\xff", "é", "\xc3"}, splitChars("a\xffé\xc3"))
	assert.Empty(t, splitChars(""))
}

func TestTokenRuneSkipsSurrogates(t *testing.T) {
	for _, i := range []int{0, 'a', surrogateMin - 1, surrogateMin, surrogateMin + 5, 200_000} {
		r := tokenRune(i)
		assert.False(t, r >= surrogateMin && r < surrogateMin+surrogateSize, "index %d", i)
		got := []rune(string(r))
		require.Len(t, got, 1)
		assert.Equal(t, i, runeIndex(got[0]))
	}
}
