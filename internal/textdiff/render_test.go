package textdiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnified(t *testing.T) {
	out, err := Unified("a.txt", "b.txt", "a\nb\nc\n", "a\nx\nc\n", 3)
	require.NoError(t, err)

	assert.Contains(t, out, "--- a.txt")
	assert.Contains(t, out, "+++ b.txt")
	assert.Contains(t, out, "@@ -1,3 +1,3 @@")
	assert.Contains(t, out, " a\n-b\n+x\n c\n")
}

func TestUnified_IdenticalIsEmpty(t *testing.T) {
	out, err := Unified("a", "b", "same\n", "same\n", 3)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestUnified_MissingFinalNewline(t *testing.T) {
	out, err := Unified("a", "b", "one\n", "one", -1)
	require.NoError(t, err)
	assert.Contains(t, out, "\\ No newline at end of file")
}

func TestRenderHTML(t *testing.T) {
	segs := []Segment{
		{Type: OpUnchanged, Text: "if a < b "},
		{Type: OpDelete, Text: "&&"},
		{Type: OpInsert, Text: "||"},
	}
	assert.Equal(t,
		"<span>if a &lt; b </span><del>&amp;&amp;</del><ins>||</ins>",
		RenderHTML(segs))
	assert.Empty(t, RenderHTML(nil))
}

func TestExtractText(t *testing.T) {
	src := `<html><head><title>Ignored</title><style>p{color:red}</style></head>
<body>
  <h1>Hello</h1>
  <p>one   <b>two</b></p>
  <script>alert("x")</script>
  <ul><li>first</li><li>second</li></ul>
  <p>line<br>break</p>
</body></html>`

	got, err := ExtractText(src)
	require.NoError(t, err)
	assert.Equal(t, "Hello\none two\nfirst\nsecond\nline\nbreak", got)
}

func TestExtractText_DiffByRenderedContent(t *testing.T) {
	a, err := ExtractText("<p>The quick fox</p>")
	require.NoError(t, err)
	b, err := ExtractText("<div>The <em>quick</em>   fox</div>")
	require.NoError(t, err)

	assert.False(t, Changed(Diff(a, b)))
}
