// Package extract turns DOCX and PDF files into normalised plain text.
package extract

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizerVersion changes whenever Normalize output changes for the
// same input, so stored fingerprints are invalidated.
const NormalizerVersion = "1"

var (
	spaceRun   = regexp.MustCompile(`[ \t]+`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// Normalize makes extracted text stable across trivial re-saves: NFC,
// LF line endings, no invisible characters, single spaces, trimmed
// lines and at most one blank line between paragraphs.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")

	s = strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\v', '\f':
			return '\n'
		case '\t', '\u00a0', '\u2007', '\u202f':
			return ' '
		case '\u00ad', '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
			return -1
		case '\n':
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		if unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}

// reflow joins hard-wrapped lines inside each paragraph. A line ending in
// a hyphen directly after a letter is joined to a following lowercase
// word without the hyphen.
func reflow(s string) string {
	paras := strings.Split(s, "\n\n")
	for i, p := range paras {
		lines := strings.Split(p, "\n")
		var b strings.Builder
		for j, line := range lines {
			if j == 0 {
				b.WriteString(line)
				continue
			}
			prev := b.String()
			if dehyphenate(prev, line) {
				trimmed := strings.TrimSuffix(prev, "-")
				b.Reset()
				b.WriteString(trimmed)
				b.WriteString(line)
				continue
			}
			b.WriteByte(' ')
			b.WriteString(line)
		}
		paras[i] = b.String()
	}
	return strings.Join(paras, "\n\n")
}

func dehyphenate(prev, next string) bool {
	if !strings.HasSuffix(prev, "-") || len(prev) < 2 || next == "" {
		return false
	}
	before := []rune(prev)
	if !unicode.IsLetter(before[len(before)-2]) {
		return false
	}
	first := []rune(next)[0]
	return unicode.IsLower(first)
}
