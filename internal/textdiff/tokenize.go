package textdiff

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// tokenizeWords splits text into alternating runs of whitespace and non-whitespace.
// Concatenating the tokens yields the input exactly.
func tokenizeWords(text string) []string {
	if text == "" {
		return nil
	}

	var tokens []string
	start := 0
	first, _ := utf8.DecodeRuneInString(text)
	inSpace := unicode.IsSpace(first)

	for i, r := range text {
		sp := unicode.IsSpace(r)
		if sp == inSpace {
			continue
		}
		tokens = append(tokens, text[start:i])
		start = i
		inSpace = sp
	}
	tokens = append(tokens, text[start:])
	return tokens
}

// tokenizeLines splits text after each newline so that tokens keep their terminator.
func tokenizeLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// splitLines splits text into lines without terminators. A single trailing newline
// does not produce an extra empty line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// splitChars splits text into UTF-8 characters. Each byte of an invalid sequence
// becomes its own token, so the tokens always join back to text.
func splitChars(text string) []string {
	var out []string
	for len(text) > 0 {
		_, n := utf8.DecodeRuneInString(text)
		out = append(out, text[:n])
		text = text[n:]
	}
	return out
}
