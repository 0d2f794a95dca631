package chunker

import (
	"unicode"

	"vndrag/internal/domain"
	"vndrag/internal/port"
)

var _ port.Chunker = (*TextChunker)(nil)

// TextChunker splits normalised text into overlapping windows of at most
// maxChars runes. Cuts prefer paragraph breaks, then line breaks, then
// sentence ends, then any whitespace; a word is split only when a window
// contains no whitespace at all.
type TextChunker struct {
	maxChars int
	overlap  int
}

func NewTextChunker(maxChars, overlap int) *TextChunker {
	if maxChars <= 0 {
		maxChars = 1000
	}
	if overlap < 0 || overlap*2 > maxChars {
		overlap = maxChars / 5
	}
	return &TextChunker{
		maxChars: maxChars,
		overlap:  overlap,
	}
}

// Chunk is a pure function of (key, text): the same input always yields
// the same chunks, numbered densely from 0. Start and End are rune
// offsets into text.
func (c *TextChunker) Chunk(key, text string) []domain.Chunk {
	runes := []rune(text)
	n := len(runes)

	var chunks []domain.Chunk
	start := 0

	for start < n {
		for start < n && unicode.IsSpace(runes[start]) {
			start++
		}
		if start >= n {
			break
		}

		end := n
		if n-start > c.maxChars {
			end = c.cut(runes, start, start+c.maxChars)
		}

		s, e := start, end
		for e > s && unicode.IsSpace(runes[e-1]) {
			e--
		}
		if e > s {
			chunks = append(chunks, domain.Chunk{
				DocKey: key,
				Seq:    len(chunks),
				Text:   string(runes[s:e]),
				Start:  s,
				End:    e,
			})
		}

		if end >= n {
			break
		}
		start = c.nextStart(runes, start, end)
	}

	return chunks
}

// cut picks the end of a window [start, limit). It never returns less
// than half a window so chunks stay reasonably full.
func (c *TextChunker) cut(runes []rune, start, limit int) int {
	minFill := start + c.maxChars/2

	// paragraph break
	for p := limit; p > minFill; p-- {
		if p >= 2 && runes[p-1] == '\n' && runes[p-2] == '\n' {
			return p
		}
	}
	// line break
	for p := limit; p > minFill; p-- {
		if runes[p-1] == '\n' {
			return p
		}
	}
	// sentence end followed by whitespace
	for p := limit; p > minFill; p-- {
		if p < len(runes) && isSentenceEnd(runes[p-1]) && unicode.IsSpace(runes[p]) {
			return p
		}
	}
	// any whitespace
	for p := limit; p > minFill; p-- {
		if p < len(runes) && unicode.IsSpace(runes[p]) {
			return p
		}
	}
	return limit
}

// nextStart steps back by the overlap and then forward to the start of a
// word, so overlapping context never begins mid-word.
func (c *TextChunker) nextStart(runes []rune, start, end int) int {
	next := end - c.overlap
	if c.overlap == 0 || next <= start {
		return end
	}
	for next < end && !unicode.IsSpace(runes[next-1]) {
		next++
	}
	if next <= start {
		return end
	}
	return next
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '…', ';':
		return true
	}
	return false
}
