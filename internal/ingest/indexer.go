// Package ingest loads pre-chunked documents into the corpus store and
// builds the keyword and vector indexes the retriever searches.
//
// Indexers are composable: a HybridIndexer fans every operation out to a
// keyword and a vector component, either of which may be absent.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/store"
)

var (
	// ErrNoIndexers is returned when a HybridIndexer has no components.
	ErrNoIndexers = errors.New("at least one indexer is required")

	// ErrNilEmbedder is returned when a VectorIndexer has no embedder.
	ErrNilEmbedder = errors.New("embedder is required")

	// ErrNilVectorStore is returned when a VectorIndexer has no store.
	ErrNilVectorStore = errors.New("vector store is required")

	// ErrNilKeywordIndex is returned when a KeywordIndexer has no index.
	ErrNilKeywordIndex = errors.New("keyword index is required")
)

// Indexer adds and removes chunks from one searchable index.
//
// Implementations are safe for concurrent use. Index is idempotent per
// chunk ID and an empty slice is a no-op.
type Indexer interface {
	Index(ctx context.Context, chunks []*store.Chunk) error

	// Remove deletes every chunk of a document. Unknown documents are a no-op.
	Remove(ctx context.Context, documentID string) error

	Stats() IndexStats
	Close() error
}

// IndexStats holds statistics about an index.
type IndexStats struct {
	// Chunks is the number of indexed chunks.
	Chunks int

	// Terms is the number of unique terms. Zero for vector indexes.
	Terms int

	// AvgChunkLength is the average chunk length in terms.
	AvgChunkLength float64
}

// KeywordIndexer feeds a BM25 keyword index.
type KeywordIndexer struct {
	index store.KeywordIndex
}

// NewKeywordIndexer wraps idx.
func NewKeywordIndexer(idx store.KeywordIndex) (*KeywordIndexer, error) {
	if idx == nil {
		return nil, ErrNilKeywordIndex
	}
	return &KeywordIndexer{index: idx}, nil
}

// Index adds chunks to the keyword index.
func (k *KeywordIndexer) Index(ctx context.Context, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := k.index.Index(ctx, chunks...); err != nil {
		return fmt.Errorf("keyword index: %w", err)
	}
	return nil
}

// Remove drops a document's chunks from the keyword index.
func (k *KeywordIndexer) Remove(ctx context.Context, documentID string) error {
	if err := k.index.Remove(ctx, documentID); err != nil {
		return fmt.Errorf("keyword remove: %w", err)
	}
	return nil
}

// Stats reports the keyword index statistics.
func (k *KeywordIndexer) Stats() IndexStats {
	s := k.index.Stats()
	return IndexStats{Chunks: s.DocumentCount, Terms: s.TermCount, AvgChunkLength: s.AvgDocLength}
}

// Close is a no-op: the index is owned by whoever opened it.
func (k *KeywordIndexer) Close() error {
	return nil
}

// VectorStore is the subset of the HNSW store written during ingest.
type VectorStore interface {
	Add(ctx context.Context, entries ...store.VectorEntry) error
	RemoveDocument(ctx context.Context, documentID string) error
	Count() int
}

// VectorIndexer embeds chunk content and stores the vectors.
type VectorIndexer struct {
	embedder  embed.Embedder
	store     VectorStore
	batchSize int
	mu        sync.Mutex
}

// VectorOption configures a VectorIndexer.
type VectorOption func(*VectorIndexer)

// WithEmbedder sets the embedder. Required.
func WithEmbedder(e embed.Embedder) VectorOption {
	return func(v *VectorIndexer) {
		v.embedder = e
	}
}

// WithVectorStore sets the vector store. Required.
func WithVectorStore(s VectorStore) VectorOption {
	return func(v *VectorIndexer) {
		v.store = s
	}
}

// WithBatchSize sets how many chunks are embedded per request.
func WithBatchSize(n int) VectorOption {
	return func(v *VectorIndexer) {
		if n > 0 {
			v.batchSize = n
		}
	}
}

// NewVectorIndexer creates a vector indexer.
//
// Returns ErrNilEmbedder or ErrNilVectorStore when a required option is missing.
func NewVectorIndexer(opts ...VectorOption) (*VectorIndexer, error) {
	v := &VectorIndexer{batchSize: embed.DefaultBatchSize}
	for _, opt := range opts {
		opt(v)
	}
	if v.embedder == nil {
		return nil, ErrNilEmbedder
	}
	if v.store == nil {
		return nil, ErrNilVectorStore
	}
	return v, nil
}

// Index embeds chunks in batches and adds them to the store. Chunks that
// already carry an Embedding are stored as is.
func (v *VectorIndexer) Index(ctx context.Context, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for start := 0; start < len(chunks); start += v.batchSize {
		batch := chunks[start:min(start+v.batchSize, len(chunks))]

		var missing []*store.Chunk
		for _, c := range batch {
			if len(c.Embedding) == 0 {
				missing = append(missing, c)
			}
		}
		fresh := make(map[string][]float32, len(missing))
		if len(missing) > 0 {
			vectors, err := v.Embed(ctx, missing)
			if err != nil {
				return err
			}
			for i, c := range missing {
				fresh[c.ID] = vectors[i]
			}
		}

		entries := make([]store.VectorEntry, len(batch))
		for i, c := range batch {
			vec := c.Embedding
			if len(vec) == 0 {
				vec = fresh[c.ID]
			}
			entries[i] = store.VectorEntry{
				ChunkID:    c.ID,
				DocumentID: c.DocumentID,
				OwnerID:    c.OwnerID,
				TopicID:    c.TopicID,
				Vector:     vec,
			}
		}

		v.mu.Lock()
		err := v.store.Add(ctx, entries...)
		v.mu.Unlock()
		if err != nil {
			return fmt.Errorf("vector store add: %w", err)
		}
	}
	return nil
}

// Embed returns one vector per chunk, in order.
func (v *VectorIndexer) Embed(ctx context.Context, chunks []*store.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := v.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("vector embed: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("vector embed: got %d embeddings for %d chunks", len(vectors), len(chunks))
	}
	return vectors, nil
}

// Remove drops a document's vectors.
func (v *VectorIndexer) Remove(ctx context.Context, documentID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.store.RemoveDocument(ctx, documentID); err != nil {
		return fmt.Errorf("vector remove: %w", err)
	}
	return nil
}

// Stats reports the vector count.
func (v *VectorIndexer) Stats() IndexStats {
	return IndexStats{Chunks: v.store.Count()}
}

// Close is a no-op: the embedder and store are owned by the caller.
func (v *VectorIndexer) Close() error {
	return nil
}

// HybridIndexer composes a keyword and a vector indexer. Either may be nil.
type HybridIndexer struct {
	keyword Indexer
	vector  Indexer
	mu      sync.Mutex
	closed  bool
}

// HybridOption configures a HybridIndexer.
type HybridOption func(*HybridIndexer)

// WithKeyword sets the keyword component.
func WithKeyword(idx Indexer) HybridOption {
	return func(h *HybridIndexer) {
		h.keyword = idx
	}
}

// WithVector sets the vector component.
func WithVector(idx Indexer) HybridOption {
	return func(h *HybridIndexer) {
		h.vector = idx
	}
}

// NewHybridIndexer creates a hybrid indexer. Returns ErrNoIndexers when
// both components are nil.
func NewHybridIndexer(opts ...HybridOption) (*HybridIndexer, error) {
	h := &HybridIndexer{}
	for _, opt := range opts {
		opt(h)
	}
	if h.keyword == nil && h.vector == nil {
		return nil, ErrNoIndexers
	}
	return h, nil
}

// Index sends chunks to the keyword index first, then the vector index,
// failing fast.
func (h *HybridIndexer) Index(ctx context.Context, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.keyword != nil {
		if err := h.keyword.Index(ctx, chunks); err != nil {
			return fmt.Errorf("hybrid: %w", err)
		}
	}
	if h.vector != nil {
		if err := h.vector.Index(ctx, chunks); err != nil {
			return fmt.Errorf("hybrid: %w", err)
		}
	}
	return nil
}

// Remove deletes a document from both components. Both are attempted even
// when one fails.
func (h *HybridIndexer) Remove(ctx context.Context, documentID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for _, idx := range []Indexer{h.keyword, h.vector} {
		if idx == nil {
			continue
		}
		if err := idx.Remove(ctx, documentID); err != nil {
			errs = append(errs, fmt.Errorf("hybrid: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Stats merges component statistics: term data from the keyword index and
// the larger chunk count of the two.
func (h *HybridIndexer) Stats() IndexStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	var stats IndexStats
	if h.keyword != nil {
		stats = h.keyword.Stats()
	}
	if h.vector != nil {
		stats.Chunks = max(stats.Chunks, h.vector.Stats().Chunks)
	}
	return stats
}

// HasVector reports whether chunks are also embedded.
func (h *HybridIndexer) HasVector() bool {
	return h.vector != nil
}

// Close closes both components. It is idempotent.
func (h *HybridIndexer) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	var errs []error
	for _, idx := range []Indexer{h.keyword, h.vector} {
		if idx == nil {
			continue
		}
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("hybrid close: %w", err))
		}
	}
	return errors.Join(errs...)
}

var (
	_ Indexer = (*KeywordIndexer)(nil)
	_ Indexer = (*VectorIndexer)(nil)
	_ Indexer = (*HybridIndexer)(nil)
)
