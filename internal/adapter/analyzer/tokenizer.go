// Package analyzer splits mixed Latin and CJK text into lexical terms.
package analyzer

import (
	"strings"
	"unicode"
)

// Tokenizer splits text into lowercase terms. Runs of Han, Hiragana,
// Katakana or Hangul characters have no word boundaries, so they are
// emitted as single characters plus adjacent bigrams.
type Tokenizer struct {
	stopwords map[string]struct{}
}

// NewTokenizer creates a tokenizer with the default stopword list.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{stopwords: defaultStopwords()}
}

// Tokenize splits text into terms in order of appearance.
func (t *Tokenizer) Tokenize(text string) []string {
	var tokens []string
	var word strings.Builder
	var cjk []rune

	flushWord := func() {
		if word.Len() == 0 {
			return
		}
		w := strings.ToLower(word.String())
		word.Reset()
		if len([]rune(w)) < 2 {
			return
		}
		if _, stop := t.stopwords[w]; stop {
			return
		}
		tokens = append(tokens, w)
	}
	flushCJK := func() {
		for i, r := range cjk {
			if _, stop := t.stopwords[string(r)]; !stop {
				tokens = append(tokens, string(r))
			}
			if i+1 < len(cjk) {
				tokens = append(tokens, string(cjk[i:i+2]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			flushCJK()
			word.WriteRune(r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()

	return tokens
}

// Terms returns the term frequencies of text.
func (t *Tokenizer) Terms(text string) map[string]int {
	terms := make(map[string]int)
	for _, tok := range t.Tokenize(text) {
		terms[tok]++
	}
	return terms
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// defaultStopwords returns common English stopwords and Chinese particles.
func defaultStopwords() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "not", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "if", "or", "so",
		"no", "can", "do", "does", "did", "been", "being", "would",
		"could", "should", "may", "might", "must", "shall", "which",
		"who", "whom", "what", "when", "where", "why", "how", "all",
		"的", "了", "和", "是", "在", "吗", "呢", "吧", "啊", "也", "就", "都",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
