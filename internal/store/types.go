// Package store provides the keyword (BM25) and vector indexes the retrieval
// engine searches. Both indexes hold derived, disposable copies of corpus
// chunks and can be rebuilt from the corpus store at any time.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Chunk is a retrievable unit of a document.
// Chunks are immutable once indexed; re-indexing a document supersedes them.
type Chunk struct {
	ID         string
	DocumentID string
	OwnerID    string
	TopicID    string
	Content    string
	TokenCount int

	// TermFreqs optionally carries precomputed term frequencies.
	// When nil the index tokenizes Content itself.
	TermFreqs map[string]int

	// Embedding optionally carries a precomputed vector. When nil the
	// vector indexer embeds Content.
	Embedding []float32
}

// Filters restrict the candidate set before scoring.
// Empty fields do not restrict.
type Filters struct {
	OwnerID     string
	TopicID     string
	DocumentIDs []string
}

// IsEmpty reports whether no filter is set.
func (f Filters) IsEmpty() bool {
	return f.OwnerID == "" && f.TopicID == "" && len(f.DocumentIDs) == 0
}

// documentSet returns DocumentIDs as a set, or nil when unrestricted.
func (f Filters) documentSet() map[string]struct{} {
	if len(f.DocumentIDs) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(f.DocumentIDs))
	for _, id := range f.DocumentIDs {
		set[id] = struct{}{}
	}
	return set
}

// matches reports whether a chunk's ownership passes the owner and topic filters.
func (f Filters) matches(ownerID, topicID string) bool {
	if f.OwnerID != "" && f.OwnerID != ownerID {
		return false
	}
	if f.TopicID != "" && f.TopicID != topicID {
		return false
	}
	return true
}

// KeywordHit is a single keyword search result.
type KeywordHit struct {
	ChunkID      string
	DocumentID   string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about a keyword index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	TotalLength   int
	AvgDocLength  float64
}

// KeywordIndex provides BM25 keyword search over chunks.
// Implementations support concurrent readers; mutations are atomic with
// respect to readers.
type KeywordIndex interface {
	// Index adds chunks, replacing any chunk with the same ID.
	Index(ctx context.Context, chunks ...*Chunk) error

	// Remove deletes every chunk of a document.
	Remove(ctx context.Context, documentID string) error

	// Search returns chunks matching query, best first.
	Search(ctx context.Context, query string, filters Filters, topK int, minScore float64) ([]*KeywordHit, error)

	// Stats returns index statistics.
	Stats() IndexStats

	// Clear drops every chunk.
	Clear(ctx context.Context) error

	Close() error
}

// BM25Config configures keyword indexing and scoring.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2)
	K1 float64

	// B is the length normalization parameter (default: 0.75)
	B float64

	// StopWords are dropped during tokenization.
	StopWords []string

	// MinTokenLength is the minimum token length to index (default: 1)
	MinTokenLength int

	// Stem applies English Snowball stemming to documents and queries.
	Stem bool
}

// DefaultBM25Config returns the default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		MinTokenLength: 1,
	}
}

// DefaultEnglishStopWords is a short list of English function words.
var DefaultEnglishStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"in", "is", "it", "of", "on", "or", "that", "the", "to", "was", "with",
}

// VectorHit is a single vector search result.
type VectorHit struct {
	ChunkID    string
	DocumentID string
	Distance   float32 // Lower is more similar (0-2 for cosine)
	Score      float32 // Normalized similarity (0-1)
}

// VectorEntry is a chunk embedding plus the ownership fields used for filtering.
type VectorEntry struct {
	ChunkID    string
	DocumentID string
	OwnerID    string
	TopicID    string
	Vector     []float32
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the embedding dimension.
	Dimensions int

	// Metric is the distance metric: "cos" (cosine) or "l2" (euclidean). Default "cos".
	Metric string

	// M is HNSW max connections per layer (default: 16)
	M int

	// EfSearch is HNSW query-time search width (default: 20)
	EfSearch int

	// OverFetch multiplies topK when filters are set, since filtering
	// happens after the graph search (default: 4).
	OverFetch int
}

// DefaultVectorStoreConfig returns sensible defaults for the vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   20,
		OverFetch:  4,
	}
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'amanrag import --rebuild')", e.Expected, e.Got)
}

// ErrClosed is returned by operations on a closed index.
var ErrClosed = errors.New("index is closed")
