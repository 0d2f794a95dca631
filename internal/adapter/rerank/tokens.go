package rerank

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenize lowercases text and splits it into word tokens, dropping
// single-letter words and common stopwords.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(w)
		if utf8.RuneCountInString(w) < 2 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

var stopwords = func() map[string]struct{} {
	words := []string{
		// english
		"an", "and", "are", "as", "at", "be", "by", "for", "from", "has",
		"in", "is", "it", "its", "of", "on", "or", "that", "the", "to",
		"was", "were", "will", "with", "this", "not", "no", "if",
		// russian
		"и", "в", "во", "не", "что", "он", "на", "я", "с", "со", "как",
		"а", "то", "все", "она", "так", "его", "но", "да", "ты", "к",
		"у", "же", "вы", "за", "бы", "по", "только", "ее", "мне", "было",
		"вот", "от", "меня", "еще", "нет", "о", "из", "ему", "или", "ни",
		"для", "при", "это", "этого", "также", "либо", "если", "до",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
