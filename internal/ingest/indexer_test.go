package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// mockIndexer records calls for HybridIndexer tests.
type mockIndexer struct {
	indexErr  error
	removeErr error
	closeErr  error
	stats     IndexStats

	indexed []string
	removed []string
	closes  atomic.Int32
}

func (m *mockIndexer) Index(_ context.Context, chunks []*store.Chunk) error {
	if m.indexErr != nil {
		return m.indexErr
	}
	for _, c := range chunks {
		m.indexed = append(m.indexed, c.ID)
	}
	return nil
}

func (m *mockIndexer) Remove(_ context.Context, documentID string) error {
	m.removed = append(m.removed, documentID)
	return m.removeErr
}

func (m *mockIndexer) Stats() IndexStats { return m.stats }

func (m *mockIndexer) Close() error {
	m.closes.Add(1)
	return m.closeErr
}

// countingEmbedder counts texts sent to the model.
type countingEmbedder struct {
	embed.Embedder
	texts atomic.Int32
	err   error
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.texts.Add(int32(len(texts)))
	return c.Embedder.EmbedBatch(ctx, texts)
}

func chunks(ids ...string) []*store.Chunk {
	out := make([]*store.Chunk, len(ids))
	for i, id := range ids {
		out[i] = &store.Chunk{ID: id, DocumentID: "doc", Content: "content of " + id}
	}
	return out
}

func TestNewHybridIndexer_RequiresComponent(t *testing.T) {
	_, err := NewHybridIndexer()
	assert.ErrorIs(t, err, ErrNoIndexers)

	h, err := NewHybridIndexer(WithKeyword(&mockIndexer{}))
	require.NoError(t, err)
	assert.False(t, h.HasVector())
}

func TestHybridIndexer_IndexFansOutInOrder(t *testing.T) {
	// Given: keyword and vector components
	kw, vec := &mockIndexer{}, &mockIndexer{}
	h, err := NewHybridIndexer(WithKeyword(kw), WithVector(vec))
	require.NoError(t, err)

	// When: indexing two chunks
	require.NoError(t, h.Index(context.Background(), chunks("a", "b")))

	// Then: both components receive them
	assert.Equal(t, []string{"a", "b"}, kw.indexed)
	assert.Equal(t, []string{"a", "b"}, vec.indexed)
	assert.True(t, h.HasVector())
}

func TestHybridIndexer_IndexFailsFast(t *testing.T) {
	kw := &mockIndexer{indexErr: errors.New("disk full")}
	vec := &mockIndexer{}
	h, err := NewHybridIndexer(WithKeyword(kw), WithVector(vec))
	require.NoError(t, err)

	err = h.Index(context.Background(), chunks("a"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, vec.indexed)
}

func TestHybridIndexer_EmptyIndexIsNoop(t *testing.T) {
	kw := &mockIndexer{indexErr: errors.New("should not be called")}
	h, err := NewHybridIndexer(WithKeyword(kw))
	require.NoError(t, err)

	assert.NoError(t, h.Index(context.Background(), nil))
}

func TestHybridIndexer_RemoveIsBestEffort(t *testing.T) {
	// Given: a keyword component that fails to remove
	kw := &mockIndexer{removeErr: errors.New("locked")}
	vec := &mockIndexer{}
	h, err := NewHybridIndexer(WithKeyword(kw), WithVector(vec))
	require.NoError(t, err)

	// When: removing a document
	err = h.Remove(context.Background(), "doc-1")

	// Then: the vector component was still asked and the error surfaces
	require.Error(t, err)
	assert.Equal(t, []string{"doc-1"}, vec.removed)
}

func TestHybridIndexer_StatsMerge(t *testing.T) {
	kw := &mockIndexer{stats: IndexStats{Chunks: 10, Terms: 50, AvgChunkLength: 12.5}}
	vec := &mockIndexer{stats: IndexStats{Chunks: 12}}
	h, err := NewHybridIndexer(WithKeyword(kw), WithVector(vec))
	require.NoError(t, err)

	assert.Equal(t, IndexStats{Chunks: 12, Terms: 50, AvgChunkLength: 12.5}, h.Stats())
}

func TestHybridIndexer_CloseIdempotent(t *testing.T) {
	kw := &mockIndexer{}
	vec := &mockIndexer{closeErr: errors.New("busy")}
	h, err := NewHybridIndexer(WithKeyword(kw), WithVector(vec))
	require.NoError(t, err)

	assert.Error(t, h.Close())
	assert.NoError(t, h.Close())
	assert.Equal(t, int32(1), kw.closes.Load())
	assert.Equal(t, int32(1), vec.closes.Load())
}

func TestNewVectorIndexer_RequiredOptions(t *testing.T) {
	_, err := NewVectorIndexer(WithEmbedder(embed.NewStaticEmbedder()))
	assert.ErrorIs(t, err, ErrNilVectorStore)

	vs, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embed.StaticDimensions))
	require.NoError(t, err)
	_, err = NewVectorIndexer(WithVectorStore(vs))
	assert.ErrorIs(t, err, ErrNilEmbedder)

	_, err = NewKeywordIndexer(nil)
	assert.ErrorIs(t, err, ErrNilKeywordIndex)
}

func TestVectorIndexer_ReusesPrecomputedEmbeddings(t *testing.T) {
	// Given: a vector indexer over a counting embedder
	em := &countingEmbedder{Embedder: embed.NewStaticEmbedder()}
	vs, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embed.StaticDimensions))
	require.NoError(t, err)
	defer vs.Close()
	v, err := NewVectorIndexer(WithEmbedder(em), WithVectorStore(vs), WithBatchSize(2))
	require.NoError(t, err)

	// When: indexing five chunks, one of which is already embedded
	in := chunks("a", "b", "c", "d", "e")
	pre, err := em.Embedder.Embed(context.Background(), "precomputed")
	require.NoError(t, err)
	in[2].Embedding = pre
	require.NoError(t, v.Index(context.Background(), in))

	// Then: only the other four reach the model and all five are stored
	assert.Equal(t, int32(4), em.texts.Load())
	assert.Equal(t, 5, v.Stats().Chunks)

	require.NoError(t, v.Remove(context.Background(), "doc"))
	assert.Zero(t, v.Stats().Chunks)
}

func TestVectorIndexer_EmbedError(t *testing.T) {
	em := &countingEmbedder{Embedder: embed.NewStaticEmbedder(), err: errors.New("model not loaded")}
	vs, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embed.StaticDimensions))
	require.NoError(t, err)
	defer vs.Close()
	v, err := NewVectorIndexer(WithEmbedder(em), WithVectorStore(vs))
	require.NoError(t, err)

	err = v.Index(context.Background(), chunks("a"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector embed")
	assert.Zero(t, vs.Count())
}

func TestKeywordIndexer_IndexAndRemove(t *testing.T) {
	idx := store.NewMemoryBM25Index(store.DefaultBM25Config())
	defer idx.Close()
	k, err := NewKeywordIndexer(idx)
	require.NoError(t, err)

	require.NoError(t, k.Index(context.Background(), []*store.Chunk{
		{ID: "c1", DocumentID: "d1", Content: "circuit breaker opens after repeated failures"},
		{ID: "c2", DocumentID: "d2", Content: "token budget for retrieval context"},
	}))
	assert.Equal(t, 2, k.Stats().Chunks)

	hits, err := idx.Search(context.Background(), "breaker", store.Filters{}, 5, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ChunkID)

	require.NoError(t, k.Remove(context.Background(), "d1"))
	assert.Equal(t, 1, k.Stats().Chunks)
}
