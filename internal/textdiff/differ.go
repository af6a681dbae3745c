package textdiff

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Granularity selects the token unit of a diff.
type Granularity string

const (
	GranularityWord Granularity = "word"
	GranularityLine Granularity = "line"
	GranularityChar Granularity = "char"
)

// Engine names reported in Result.
const (
	EngineLCS   = "lcs"
	EngineMyers = "myers"
)

// ErrUnknownGranularity is returned by ParseGranularity.
var ErrUnknownGranularity = errors.New("unknown diff granularity")

// ParseGranularity maps "word", "line" and "char" to a Granularity. The empty string
// selects words.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "word", "words":
		return GranularityWord, nil
	case "line", "lines":
		return GranularityLine, nil
	case "char", "chars", "character":
		return GranularityChar, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownGranularity, s)
	}
}

// Config tunes a Differ.
type Config struct {
	Granularity Granularity `json:"granularity" yaml:"granularity" validate:"omitempty,oneof=word line char"`
	// MaxCells bounds the LCS table (old tokens × new tokens). Larger inputs are
	// aligned with Myers' algorithm instead. Zero or negative disables the bound.
	MaxCells int64 `json:"max_cells" yaml:"max_cells" validate:"gte=0"`
	// SemanticCleanup post-processes Myers output into human-friendly chunks.
	SemanticCleanup bool `json:"semantic_cleanup" yaml:"semantic_cleanup"`
}

// DefaultConfig returns word granularity with a table bound of four million cells.
func DefaultConfig() Config {
	return Config{
		Granularity:     GranularityWord,
		MaxCells:        4_000_000,
		SemanticCleanup: true,
	}
}

// Result is the output of Differ.Compare.
type Result struct {
	Segments    []Segment   `json:"segments"`
	Stats       Stats       `json:"stats"`
	Granularity Granularity `json:"granularity"`
	Engine      string      `json:"engine"`
}

// Differ runs diffs with a fixed Config. The zero value is not usable; use NewDiffer.
type Differ struct {
	cfg Config
}

// NewDiffer returns a Differ. An empty granularity defaults to words.
func NewDiffer(cfg Config) *Differ {
	if cfg.Granularity == "" {
		cfg.Granularity = GranularityWord
	}
	return &Differ{cfg: cfg}
}

// Config returns the configuration the Differ was built with.
func (d *Differ) Config() Config {
	return d.cfg
}

// Diff returns only the segments of Compare.
func (d *Differ) Diff(oldText, newText string) []Segment {
	return d.Compare(oldText, newText).Segments
}

// Compare diffs oldText against newText at the configured granularity.
func (d *Differ) Compare(oldText, newText string) Result {
	res := Result{Granularity: d.cfg.Granularity}

	if d.cfg.Granularity == GranularityChar {
		res.Segments = charDiff(oldText, newText, d.cfg.SemanticCleanup)
		res.Engine = EngineMyers
		res.Stats = GetDiffStats(res.Segments)
		return res
	}

	var a, b []string
	if d.cfg.Granularity == GranularityLine {
		a, b = tokenizeLines(oldText), tokenizeLines(newText)
	} else {
		a, b = tokenizeWords(oldText), tokenizeWords(newText)
	}

	if d.withinBound(len(a), len(b)) {
		res.Segments = diffTokens(a, b)
		res.Engine = EngineLCS
	} else {
		res.Segments = myersTokens(a, b, d.cfg.SemanticCleanup)
		res.Engine = EngineMyers
	}
	res.Stats = GetDiffStats(res.Segments)
	return res
}

func (d *Differ) withinBound(n, m int) bool {
	if d.cfg.MaxCells <= 0 {
		return true
	}
	return int64(n)*int64(m) <= d.cfg.MaxCells
}

// CharDiff diffs two strings character by character with semantic cleanup.
// Bytes that are not valid UTF-8 are compared one at a time and kept as is.
func CharDiff(oldText, newText string) []Segment {
	return charDiff(oldText, newText, true)
}

func charDiff(oldText, newText string, cleanup bool) []Segment {
	if !utf8.ValidString(oldText) || !utf8.ValidString(newText) {
		// diffmatchpatch would turn invalid bytes into U+FFFD.
		if segs, ok := alignTokens(splitChars(oldText), splitChars(newText), cleanup); ok {
			return segs
		}
		var sb segmentBuilder
		sb.add(OpDelete, oldText)
		sb.add(OpInsert, newText)
		return sb.segments()
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldText, newText, false)
	if cleanup {
		diffs = dmp.DiffCleanupSemantic(diffs)
	}
	return fromDMP(diffs)
}

// myersTokens aligns token sequences with the Myers implementation, falling back
// to characters when the tokens cannot be encoded.
func myersTokens(a, b []string, cleanup bool) []Segment {
	if segs, ok := alignTokens(a, b, cleanup); ok {
		return segs
	}
	return charDiff(strings.Join(a, ""), strings.Join(b, ""), cleanup)
}

// alignTokens maps every distinct token to one rune, diffs the rune sequences and
// maps the result back. It reports false when there are more distinct tokens than
// usable code points.
func alignTokens(a, b []string, cleanup bool) ([]Segment, bool) {
	dict := make(map[string]rune)
	var table []string

	encode := func(tokens []string) []rune {
		out := make([]rune, len(tokens))
		for i, t := range tokens {
			r, ok := dict[t]
			if !ok {
				r = tokenRune(len(table))
				dict[t] = r
				table = append(table, t)
			}
			out[i] = r
		}
		return out
	}
	ra, rb := encode(a), encode(b)

	if len(table) > maxTokenRunes {
		return nil, false
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMainRunes(ra, rb, false)
	if cleanup {
		diffs = dmp.DiffCleanupSemantic(diffs)
	}

	var sb segmentBuilder
	for _, df := range diffs {
		op := opOf(df.Type)
		for _, r := range df.Text {
			sb.add(op, table[runeIndex(r)])
		}
	}
	return sb.segments(), true
}

const (
	surrogateMin  = 0xD800
	surrogateSize = 0x800
	maxTokenRunes = 0x10FFFF + 1 - surrogateSize
)

// tokenRune skips the surrogate range, which does not survive a round trip through string.
func tokenRune(i int) rune {
	if i >= surrogateMin {
		i += surrogateSize
	}
	return rune(i)
}

func runeIndex(r rune) int {
	i := int(r)
	if i >= surrogateMin+surrogateSize {
		i -= surrogateSize
	}
	return i
}

func fromDMP(diffs []diffmatchpatch.Diff) []Segment {
	var sb segmentBuilder
	for _, df := range diffs {
		sb.add(opOf(df.Type), df.Text)
	}
	return sb.segments()
}

func opOf(t diffmatchpatch.Operation) Op {
	switch t {
	case diffmatchpatch.DiffInsert:
		return OpInsert
	case diffmatchpatch.DiffDelete:
		return OpDelete
	default:
		return OpUnchanged
	}
}
