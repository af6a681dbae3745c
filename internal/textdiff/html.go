package textdiff

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// RenderHTML marks up segments for display: <span> for unchanged text, <del> and <ins>
// for changes. Segment text is escaped.
func RenderHTML(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		tag := "span"
		switch s.Type {
		case OpInsert:
			tag = "ins"
		case OpDelete:
			tag = "del"
		}
		b.WriteString("<" + tag + ">")
		b.WriteString(html.EscapeString(s.Text))
		b.WriteString("</" + tag + ">")
	}
	return b.String()
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "dd": true,
	"div": true, "dl": true, "dt": true, "fieldset": true, "figcaption": true,
	"figure": true, "footer": true, "form": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "header": true, "hr": true, "li": true,
	"main": true, "nav": true, "ol": true, "p": true, "pre": true, "section": true,
	"table": true, "tr": true, "ul": true, "body": true, "html": true,
}

// ExtractText returns the visible text of an HTML document. Block elements start new
// lines, runs of whitespace collapse to one space, and blank lines are dropped.
// Scripts, styles and the document head are ignored.
func ExtractText(src string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("head, script, style, noscript, template").Remove()

	var b strings.Builder
	for _, n := range doc.Selection.Nodes {
		writeText(&b, n)
	}
	return normalizeText(b.String()), nil
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.Data == "br" {
			b.WriteByte('\n')
			return
		}
	}

	block := n.Type == html.ElementNode && blockElements[n.Data]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if block {
		b.WriteByte('\n')
	}
}

func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if f := strings.Fields(l); len(f) > 0 {
			out = append(out, strings.Join(f, " "))
		}
	}
	return strings.Join(out, "\n")
}
