package searchindex

import (
	"unicode"
)

const (
	minWordRunes = 2
	// maxPrefixRunes bounds how many prefixes of a word go into a filter.
	maxPrefixRunes = 16
)

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

func isWordRune(r rune) bool {
	return (unicode.IsLetter(r) || unicode.IsDigit(r)) && !isCJK(r)
}

// Tokenize splits lowercased text into search tokens: letter/digit runs of at
// least two runes, and 2- and 3-rune sliding windows over CJK runs.
func Tokenize(s string) []string {
	var (
		tokens []string
		word   []rune
		cjk    []rune
	)
	flushWord := func() {
		if len(word) >= minWordRunes {
			tokens = append(tokens, string(word))
		}
		word = word[:0]
	}
	flushCJK := func() {
		for n := 2; n <= 3; n++ {
			for i := 0; i+n <= len(cjk); i++ {
				tokens = append(tokens, string(cjk[i:i+n]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range s {
		switch {
		case isCJK(r):
			flushWord()
			cjk = append(cjk, r)
		case isWordRune(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
	return tokens
}

// indexTokens extends Tokenize with word prefixes so that a query for the
// start of a word passes the filter.
func indexTokens(s string) []string {
	tokens := Tokenize(s)
	out := make([]string, 0, len(tokens)*2)
	for _, tok := range tokens {
		out = append(out, tok)
		runes := []rune(tok)
		if isCJK(runes[0]) {
			continue
		}
		limit := min(len(runes)-1, maxPrefixRunes)
		for n := minWordRunes; n <= limit; n++ {
			out = append(out, string(runes[:n]))
		}
	}
	return out
}
