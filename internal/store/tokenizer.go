package store

import (
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kljensen/snowball"
)

// Tokenizer lowercases text, strips punctuation and splits on word
// boundaries. Stop-word removal and stemming are optional.
type Tokenizer struct {
	stopWords map[string]struct{}
	minLength int
	stem      bool
}

// NewTokenizer builds a tokenizer from a BM25 configuration.
func NewTokenizer(cfg BM25Config) *Tokenizer {
	minLength := cfg.MinTokenLength
	if minLength < 1 {
		minLength = 1
	}
	return &Tokenizer{
		stopWords: BuildStopWordMap(cfg.StopWords),
		minLength: minLength,
		stem:      cfg.Stem,
	}
}

// Tokenize splits text into normalized terms.
func (t *Tokenizer) Tokenize(text string) []string {
	spans := t.spans(text)
	tokens := make([]string, len(spans))
	for i, s := range spans {
		tokens[i] = s.term
	}
	return tokens
}

// TermFrequencies tokenizes text and counts each term.
func (t *Tokenizer) TermFrequencies(text string) map[string]int {
	freqs := make(map[string]int)
	for _, s := range t.spans(text) {
		freqs[s.term]++
	}
	return freqs
}

// tokenSpan is a term plus its byte offsets in the original text.
type tokenSpan struct {
	term       string
	start, end int
}

// spans walks text once, emitting every word that survives filtering.
func (t *Tokenizer) spans(text string) []tokenSpan {
	var out []tokenSpan
	start := -1

	for i, r := range text {
		if isSeparator(r) {
			if start >= 0 {
				out = t.appendWord(out, text, start, i)
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = t.appendWord(out, text, start, len(text))
	}
	return out
}

func (t *Tokenizer) appendWord(out []tokenSpan, text string, start, end int) []tokenSpan {
	word := strings.ToLower(text[start:end])
	if utf8.RuneCountInString(word) < t.minLength {
		return out
	}
	if _, stop := t.stopWords[word]; stop {
		return out
	}
	if t.stem {
		word = stem(word)
	}
	return append(out, tokenSpan{term: word, start: start, end: end})
}

// Tokenize applies the default tokenizer (no stop words, no stemming).
func Tokenize(text string) []string {
	return defaultTokenizer.Tokenize(text)
}

var defaultTokenizer = NewTokenizer(DefaultBM25Config())

// isSeparator treats everything except letters and digits as a word boundary.
func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsNumber(r)
}

// stem reduces a word to its English Snowball stem, keeping the word on error.
func stem(word string) string {
	stemmed, err := snowball.Stem(word, "english", true)
	if err != nil {
		slog.Debug("stem_failed", slog.String("word", word), slog.String("error", err.Error()))
		return word
	}
	return stemmed
}

// BuildStopWordMap converts a slice of stop words to a map for efficient lookup.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
