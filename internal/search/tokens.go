package search

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used for token counting.
const DefaultEncoding = "cl100k_base"

// HeuristicCounter estimates tokens as characters / 4.
type HeuristicCounter struct{}

// Count returns ceil(runes/4), so non-empty text is at least one token.
func (HeuristicCounter) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// TiktokenCounter counts tokens with a BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding. Loading may fetch the
// vocabulary over the network on first use.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count returns the exact token count.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// NewTokenCounter returns a BPE counter for encoding, or the heuristic
// counter when the encoding is "heuristic" or cannot be loaded.
func NewTokenCounter(encoding string) TokenCounter {
	if strings.EqualFold(encoding, "heuristic") {
		return HeuristicCounter{}
	}
	c, err := NewTiktokenCounter(encoding)
	if err != nil {
		slog.Warn("tiktoken_unavailable_using_heuristic",
			slog.String("encoding", encoding),
			slog.String("error", err.Error()))
		return HeuristicCounter{}
	}
	return c
}

// truncateToTokens cuts text to at most limit tokens on a word boundary
// and appends an ellipsis when anything was removed.
func truncateToTokens(text string, limit int, counter TokenCounter) string {
	if limit <= 0 {
		return ""
	}
	if counter.Count(text) <= limit {
		return text
	}
	words := strings.Fields(text)
	lo, hi := 0, len(words)
	// Largest prefix of words whose text plus ellipsis fits.
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if counter.Count(strings.Join(words[:mid], " ")+" …") <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo == 0 {
		return ""
	}
	return strings.Join(words[:lo], " ") + " …"
}
