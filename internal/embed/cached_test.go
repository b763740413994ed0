package embed

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingEmbedder delegates to a StaticEmbedder and records what reached it.
type recordingEmbedder struct {
	*StaticEmbedder
	model string
	fail  error

	mu      sync.Mutex
	single  []string
	batches [][]string
	closed  bool
}

func newRecordingEmbedder(model string) *recordingEmbedder {
	return &recordingEmbedder{StaticEmbedder: NewStaticEmbedderWithDimensions(64), model: model}
}

func (r *recordingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	r.mu.Lock()
	r.single = append(r.single, text)
	r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	return r.StaticEmbedder.Embed(ctx, text)
}

func (r *recordingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	r.mu.Lock()
	r.batches = append(r.batches, append([]string(nil), texts...))
	r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	return r.StaticEmbedder.EmbedBatch(ctx, texts)
}

func (r *recordingEmbedder) ModelName() string { return r.model }

func (r *recordingEmbedder) Close() error {
	r.closed = true
	return nil
}

func (r *recordingEmbedder) singleCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.single)
}

var _ Embedder = (*CachedEmbedder)(nil)

func TestCachedEmbedder_RepeatedQueryServedFromCache(t *testing.T) {
	// Given: a cached embedder
	inner := newRecordingEmbedder("static-64")
	c := NewCachedEmbedder(inner, 16)
	ctx := context.Background()

	// When: the same query is embedded twice
	first, err := c.Embed(ctx, "circuit breaker half open")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "circuit breaker half open")
	require.NoError(t, err)

	// Then: the model ran once and both calls agree
	assert.Equal(t, 1, inner.singleCalls())
	assert.Equal(t, first, second)
	assert.Equal(t, CacheStats{Hits: 1, Misses: 1, Size: 1}, c.Stats())
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	// Given: an inner embedder that is down
	inner := newRecordingEmbedder("static-64")
	inner.fail = errors.New("connection refused")
	c := NewCachedEmbedder(inner, 16)
	ctx := context.Background()

	// When: embedding fails and the embedder then recovers
	_, err := c.Embed(ctx, "token budget")
	require.Error(t, err)
	inner.fail = nil
	vec, err := c.Embed(ctx, "token budget")

	// Then: the second call reaches the model
	require.NoError(t, err)
	assert.Len(t, vec, 64)
	assert.Equal(t, 2, inner.singleCalls())
	assert.Equal(t, 1, c.Stats().Size)
}

func TestCachedEmbedder_KeysIncludeModel(t *testing.T) {
	// Given: two caches over different models embedding the same text
	a := NewCachedEmbedder(newRecordingEmbedder("model-a"), 4)
	b := NewCachedEmbedder(newRecordingEmbedder("model-b"), 4)

	// Then: the keys differ
	assert.NotEqual(t, a.cacheKey("query"), b.cacheKey("query"))
	assert.Equal(t, a.cacheKey("query"), a.cacheKey("query"))
}

func TestCachedEmbedder_BatchSendsOnlyMisses(t *testing.T) {
	// Given: one text already cached
	inner := newRecordingEmbedder("static-64")
	c := NewCachedEmbedder(inner, 16)
	ctx := context.Background()
	cached, err := c.Embed(ctx, "alpha")
	require.NoError(t, err)

	// When: a batch mixes cached and new texts
	vecs, err := c.EmbedBatch(ctx, []string{"beta", "alpha", "gamma"})

	// Then: only the new texts went to the model, results keep input order
	require.NoError(t, err)
	require.Len(t, inner.batches, 1)
	assert.Equal(t, []string{"beta", "gamma"}, inner.batches[0])
	require.Len(t, vecs, 3)
	assert.Equal(t, cached, vecs[1])

	want, err := inner.StaticEmbedder.Embed(ctx, "gamma")
	require.NoError(t, err)
	assert.Equal(t, want, vecs[2])
}

func TestCachedEmbedder_BatchAllCachedSkipsModel(t *testing.T) {
	inner := newRecordingEmbedder("static-64")
	c := NewCachedEmbedder(inner, 16)
	ctx := context.Background()
	_, err := c.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)

	_, err = c.EmbedBatch(ctx, []string{"b", "a"})

	require.NoError(t, err)
	assert.Len(t, inner.batches, 1)
	assert.Equal(t, int64(2), c.Stats().Hits)
}

func TestCachedEmbedder_EmptyBatch(t *testing.T) {
	inner := newRecordingEmbedder("static-64")
	c := NewCachedEmbedder(inner, 16)

	vecs, err := c.EmbedBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Empty(t, inner.batches)
}

func TestCachedEmbedder_EvictsLeastRecentlyUsed(t *testing.T) {
	// Given: a cache of two entries where "a" was touched last
	inner := newRecordingEmbedder("static-64")
	c := NewCachedEmbedder(inner, 2)
	ctx := context.Background()
	for _, q := range []string{"a", "b", "a", "c"} {
		_, err := c.Embed(ctx, q)
		require.NoError(t, err)
	}
	calls := inner.singleCalls()

	// When: embedding "a" and then "b" again
	_, err := c.Embed(ctx, "a")
	require.NoError(t, err)
	_, err = c.Embed(ctx, "b")
	require.NoError(t, err)

	// Then: "a" survived and "b" had been evicted
	assert.Equal(t, calls+1, inner.singleCalls())
	assert.Equal(t, 2, c.Stats().Size)
}

func TestCachedEmbedder_DelegatesMetadataAndClose(t *testing.T) {
	inner := newRecordingEmbedder("static-64")
	c := NewCachedEmbedder(inner, 0)

	assert.Equal(t, 64, c.Dimensions())
	assert.Equal(t, "static-64", c.ModelName())
	assert.True(t, c.Available(context.Background()))
	assert.Same(t, inner, c.Inner())

	require.NoError(t, c.Close())
	assert.True(t, inner.closed)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestCachedEmbedder_ConcurrentQueries(t *testing.T) {
	// Given: many goroutines embedding a handful of queries
	inner := newRecordingEmbedder("static-64")
	c := NewCachedEmbedder(inner, 16)
	queries := []string{"breaker", "budget", "fusion", "rerank"}

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Embed(context.Background(), queries[i%len(queries)])
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Then: every call was counted and the cache holds each query once
	stats := c.Stats()
	assert.Equal(t, int64(32), stats.Hits+stats.Misses)
	assert.Equal(t, len(queries), stats.Size)
}
