package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/cache"
	"github.com/Aman-CERP/amanrag/internal/corpus"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeKeyword struct {
	hits   []*store.KeywordHit
	err    error
	calls  atomic.Int32
	closed bool
}

func (f *fakeKeyword) Search(ctx context.Context, _ string, _ store.Filters, _ int, _ float64) ([]*store.KeywordHit, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.hits, f.err
}

func (f *fakeKeyword) Close() error {
	f.closed = true
	return nil
}

type fakeVector struct {
	hits  []*store.VectorHit
	err   error
	calls atomic.Int32
}

func (f *fakeVector) Query(_ context.Context, _ []float32, _ store.Filters, _ int, _ float64) ([]*store.VectorHit, error) {
	f.calls.Add(1)
	return f.hits, f.err
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vec, f.err
}

type fakeWeb struct {
	results []*SearchResult
	err     error
}

func (f *fakeWeb) Search(context.Context, string, WebFilters) ([]*SearchResult, error) {
	return f.results, f.err
}

type fakeCorpus struct {
	chunks map[string]*corpus.Chunk
	docs   map[string]*corpus.Document
	err    error
}

func (f *fakeCorpus) Chunks(_ context.Context, ids []string) (map[string]*corpus.Chunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]*corpus.Chunk)
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (f *fakeCorpus) Documents(_ context.Context, ids []string) (map[string]*corpus.Document, error) {
	out := make(map[string]*corpus.Document)
	for _, id := range ids {
		if d, ok := f.docs[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

// =============================================================================
// Fixtures
// =============================================================================

var chunkText = map[string]string{
	"c1": "raft elects a leader using randomized election timeouts",
	"c2": "log replication copies entries from the leader to followers",
	"c3": "snapshots compact the replicated log once it grows large",
	"c4": "membership changes use joint consensus between configurations",
}

func testCorpus() *fakeCorpus {
	c := &fakeCorpus{chunks: map[string]*corpus.Chunk{}, docs: map[string]*corpus.Document{}}
	for id, text := range chunkText {
		docID := "doc-" + id
		c.chunks[id] = &corpus.Chunk{ID: id, DocumentID: docID, Content: text, TokenCount: HeuristicCounter{}.Count(text)}
		c.docs[docID] = &corpus.Document{ID: docID, Title: "Raft notes " + id, Author: "ops"}
	}
	return c
}

func keywordHits(ids ...string) []*store.KeywordHit {
	var hits []*store.KeywordHit
	for i, id := range ids {
		hits = append(hits, &store.KeywordHit{ChunkID: id, DocumentID: "doc-" + id, Score: float64(len(ids) - i), MatchedTerms: []string{"raft"}})
	}
	return hits
}

func vectorHits(ids ...string) []*store.VectorHit {
	var hits []*store.VectorHit
	for i, id := range ids {
		hits = append(hits, &store.VectorHit{ChunkID: id, DocumentID: "doc-" + id, Score: 0.9 - float32(i)*0.1})
	}
	return hits
}

func webResults() []*SearchResult {
	return []*SearchResult{
		{URL: "https://raft.github.io/", Title: "The Raft Consensus Algorithm", Snippet: "raft is a consensus algorithm designed to be easy to understand", RelevanceScore: 0.9},
		{URL: "https://www.raft.github.io", Title: "The Raft Consensus Algorithm", Snippet: "duplicate of the raft homepage", RelevanceScore: 0.5},
		{URL: "https://en.wikipedia.org/wiki/Raft_(algorithm)", Title: "Raft (algorithm)", Snippet: "raft is a consensus algorithm that is designed as an alternative to paxos", RelevanceScore: 0.8},
	}
}

func testConfig() RetrieverConfig {
	cfg := DefaultRetrieverConfig()
	cfg.KeywordTimeout = time.Second
	cfg.VectorTimeout = time.Second
	cfg.WebTimeout = time.Second
	return cfg
}

func documentOnlyOptions() RetrieveOptions {
	opts := DefaultRetrieveOptions()
	opts.EnableWeb = false
	opts.Complexity = ComplexityModerate
	return opts
}

func newTestCache(t *testing.T) *cache.SimilarityCache {
	t.Helper()
	backend, err := cache.NewMemoryBackend(100)
	require.NoError(t, err)
	c, err := cache.New(backend, cache.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func assertWithinBudget(t *testing.T, rc *RAGContext, budget TokenBudget) {
	t.Helper()
	assert.LessOrEqual(t, rc.TokenUsage.Document+rc.TokenUsage.Web, budget.RemainingForContext)
	assert.LessOrEqual(t, len(rc.DocumentResults), rc.Limits.DocumentChunks)
	assert.LessOrEqual(t, len(rc.WebResults), rc.Limits.WebResults)
}

// =============================================================================
// Construction
// =============================================================================

func TestNewRetriever_Validation(t *testing.T) {
	_, err := NewRetriever(nil, testConfig())
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewRetriever(&fakeKeyword{}, testConfig(), WithVectorStore(&fakeVector{}, nil))
	assert.ErrorIs(t, err, ErrNilDependency)

	cfg := testConfig()
	cfg.PriorityPreset = "loudest-first"
	_, err = NewRetriever(&fakeKeyword{}, cfg)
	assert.Error(t, err)
}

// =============================================================================
// RetrieveContext
// =============================================================================

func TestRetrieveContext_HybridAllBackends(t *testing.T) {
	// Given: healthy keyword, vector and web backends over a small corpus
	r, err := NewRetriever(&fakeKeyword{hits: keywordHits("c1", "c2")}, testConfig(),
		WithVectorStore(&fakeVector{hits: vectorHits("c2", "c3")}, &fakeEmbedder{vec: []float32{1, 0}}),
		WithWebSearcher(&fakeWeb{results: webResults()}),
		WithCorpus(testCorpus()))
	require.NoError(t, err)
	opts := DefaultRetrieveOptions()
	opts.EnableCache = false

	// When: retrieving context
	rc, err := r.RetrieveContext(context.Background(), "how does raft elect a leader", opts)

	// Then: a complete, non-degraded context within budget is returned
	require.NoError(t, err)
	require.NotNil(t, rc)
	assert.NotEmpty(t, rc.RequestID)
	assert.False(t, rc.Degraded)
	assert.Equal(t, DegradationNone, rc.DegradationLevel)
	assert.False(t, rc.Partial)
	assert.Equal(t, CacheDisabled, rc.CacheStatus)
	assertWithinBudget(t, rc, opts.TokenBudget)

	require.NotEmpty(t, rc.DocumentResults)
	assert.ElementsMatch(t, []string{"c1", "c2", "c3"}, chunkIDs(rc.DocumentResults))
	for _, res := range rc.DocumentResults {
		assert.Equal(t, chunkText[res.ChunkID], res.Snippet)
		assert.Equal(t, "Raft notes "+res.ChunkID, res.Title)
		assert.Contains(t, res.Stages, stagePriority)
		assert.GreaterOrEqual(t, res.Weight, DefaultMinWeight)
	}

	// The www duplicate of the homepage is removed.
	require.Len(t, rc.WebResults, 2)
	for _, res := range rc.WebResults {
		assert.Equal(t, SourceWeb, res.SourceType)
		assert.NotEmpty(t, res.ID)
	}
}

func TestRetrieveContext_VectorUnavailableIsSevereKeywordOnly(t *testing.T) {
	// Given: a vector store that refuses connections
	r, err := NewRetriever(&fakeKeyword{hits: keywordHits("c1", "c4")}, testConfig(),
		WithVectorStore(&fakeVector{err: errors.New("connection refused")}, &fakeEmbedder{vec: []float32{1, 0}}),
		WithCorpus(testCorpus()))
	require.NoError(t, err)

	// When: retrieving context
	rc, err := r.RetrieveContext(context.Background(), "raft leader election", documentOnlyOptions())

	// Then: the context is SEVERE, partial and built from keyword results only
	require.NoError(t, err)
	assert.True(t, rc.Degraded)
	assert.Equal(t, DegradationSevere, rc.DegradationLevel)
	assert.True(t, rc.Partial)
	assert.Contains(t, rc.Reason, "vector search unavailable")
	assert.ElementsMatch(t, []string{"c1", "c4"}, chunkIDs(rc.DocumentResults))
	for _, res := range rc.DocumentResults {
		assert.Zero(t, res.SemanticScore)
	}
	require.Len(t, rc.Failures, 1)
	assert.Equal(t, "vector", rc.Failures[0].Backend)
	assert.Equal(t, amanerrors.ErrCodeBackendUnavailable, rc.Failures[0].Code)
}

func TestRetrieveContext_EmbeddingFailureIsSevere(t *testing.T) {
	vector := &fakeVector{hits: vectorHits("c2")}
	r, err := NewRetriever(&fakeKeyword{hits: keywordHits("c1")}, testConfig(),
		WithVectorStore(vector, &fakeEmbedder{err: errors.New("model not loaded")}))
	require.NoError(t, err)

	rc, err := r.RetrieveContext(context.Background(), "raft", documentOnlyOptions())

	require.NoError(t, err)
	assert.Equal(t, DegradationSevere, rc.DegradationLevel)
	assert.True(t, rc.Partial)
	assert.Zero(t, vector.calls.Load())
	assert.Equal(t, []string{"c1"}, chunkIDs(rc.DocumentResults))
}

func TestRetrieveContext_WebRateLimitedIsPartial(t *testing.T) {
	// Given: a rate-limited web provider
	web := &fakeWeb{err: amanerrors.RateLimited("web", time.Minute, errors.New("429"))}
	r, err := NewRetriever(&fakeKeyword{hits: keywordHits("c1")}, testConfig(),
		WithWebSearcher(web), WithCorpus(testCorpus()))
	require.NoError(t, err)
	opts := DefaultRetrieveOptions()
	opts.EnableCache = false

	// When: retrieving context
	rc, err := r.RetrieveContext(context.Background(), "raft", opts)

	// Then: documents are kept and web results are empty
	require.NoError(t, err)
	assert.Equal(t, DegradationPartial, rc.DegradationLevel)
	assert.False(t, rc.Partial)
	assert.Empty(t, rc.WebResults)
	assert.Equal(t, []string{"c1"}, chunkIDs(rc.DocumentResults))
	assert.Contains(t, rc.Reason, "web search rate limited")
}

func TestRetrieveContext_AllBackendsFailedIsCritical(t *testing.T) {
	// Given: every backend fails
	r, err := NewRetriever(&fakeKeyword{err: errors.New("index corrupt")}, testConfig(),
		WithVectorStore(&fakeVector{err: context.DeadlineExceeded}, &fakeEmbedder{vec: []float32{1}}),
		WithWebSearcher(&fakeWeb{err: errors.New("dns failure")}))
	require.NoError(t, err)

	// When: retrieving context
	rc, err := r.RetrieveContext(context.Background(), "raft", DefaultRetrieveOptions())

	// Then: a CRITICAL empty context is returned with the structured error
	require.Error(t, err)
	assert.ErrorIs(t, err, amanerrors.ErrAllBackendsFailed)
	require.NotNil(t, rc)
	assert.Equal(t, DegradationCritical, rc.DegradationLevel)
	assert.Empty(t, rc.DocumentResults)
	assert.Empty(t, rc.WebResults)
	assert.Len(t, rc.Failures, 3)
	assert.Contains(t, rc.Reason, "vector search timed out")
}

func TestRetrieveContext_InvalidQuery(t *testing.T) {
	kw := &fakeKeyword{hits: keywordHits("c1")}
	r, err := NewRetriever(kw, testConfig())
	require.NoError(t, err)

	for name, query := range map[string]string{
		"empty":     "",
		"blank":     "  \t ",
		"oversized": strings.Repeat("q", DefaultMaxQueryLength+1),
	} {
		t.Run(name, func(t *testing.T) {
			rc, err := r.RetrieveContext(context.Background(), query, DefaultRetrieveOptions())

			assert.Nil(t, rc)
			assert.ErrorIs(t, err, amanerrors.ErrInvalidQuery)
		})
	}
	assert.Zero(t, kw.calls.Load())

	_, err = r.RetrieveContext(context.Background(), strings.Repeat("q", DefaultMaxQueryLength), documentOnlyOptions())
	assert.NoError(t, err)
}

func TestRetrieveContext_UnknownPresetRejected(t *testing.T) {
	r, err := NewRetriever(&fakeKeyword{}, testConfig())
	require.NoError(t, err)
	opts := documentOnlyOptions()
	opts.PriorityPreset = "loudest-first"

	_, err = r.RetrieveContext(context.Background(), "raft", opts)

	assert.Error(t, err)
}

func TestRetrieveContext_BudgetRespected(t *testing.T) {
	// Given: many long chunks
	longCorpus := &fakeCorpus{chunks: map[string]*corpus.Chunk{}, docs: map[string]*corpus.Document{}}
	var ids []string
	for i := range 30 {
		id := fmt.Sprintf("c%02d", i)
		ids = append(ids, id)
		longCorpus.chunks[id] = &corpus.Chunk{ID: id, DocumentID: "doc-" + id, Content: fmt.Sprintf("topic%d %s", i, words(150))}
	}
	r, err := NewRetriever(&fakeKeyword{hits: keywordHits(ids...)}, testConfig(), WithCorpus(longCorpus))
	require.NoError(t, err)

	for _, remaining := range []int{0, 120, 350, 1000, 6000} {
		t.Run(fmt.Sprint(remaining), func(t *testing.T) {
			opts := documentOnlyOptions()
			opts.TokenBudget = NewTokenBudget(remaining+500, 500)

			// When: retrieving with that budget
			rc, err := r.RetrieveContext(context.Background(), "topic", opts)

			// Then: usage never exceeds the budget
			require.NoError(t, err)
			assertWithinBudget(t, rc, opts.TokenBudget)
			assert.Equal(t, remaining, rc.TokenUsage.Budget)
		})
	}
}

func TestRetrieveContext_BudgetExhaustedNoted(t *testing.T) {
	r, err := NewRetriever(&fakeKeyword{hits: keywordHits("c1")}, testConfig(), WithCorpus(testCorpus()))
	require.NoError(t, err)
	opts := documentOnlyOptions()
	opts.TokenBudget = NewTokenBudget(1000, 1000)

	rc, err := r.RetrieveContext(context.Background(), "raft", opts)

	require.NoError(t, err)
	assert.True(t, rc.Limits.Exhausted)
	assert.Equal(t, DegradationNone, rc.DegradationLevel)
	assert.Contains(t, rc.Reason, "token budget exhausted")
	assert.Empty(t, rc.DocumentResults)
	assert.Zero(t, rc.TokenUsage.Total)
}

func TestRetrieveContext_CacheHitSkipsBackends(t *testing.T) {
	// Given: a retriever with a cache
	kw := &fakeKeyword{hits: keywordHits("c1", "c2")}
	r, err := NewRetriever(kw, testConfig(),
		WithVectorStore(&fakeVector{hits: vectorHits("c2")}, &fakeEmbedder{vec: []float32{1, 0, 0}}),
		WithCorpus(testCorpus()), WithCache(newTestCache(t)))
	require.NoError(t, err)
	opts := documentOnlyOptions()

	first, err := r.RetrieveContext(context.Background(), "raft log replication", opts)
	require.NoError(t, err)
	require.Equal(t, CacheMiss, first.CacheStatus)

	// When: the same query is repeated with different spacing and case
	second, err := r.RetrieveContext(context.Background(), "Raft  log replication", opts)

	// Then: the cached context is served without touching the backends
	require.NoError(t, err)
	assert.Equal(t, CacheHit, second.CacheStatus)
	assert.Equal(t, int32(1), kw.calls.Load())
	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.Equal(t, chunkIDs(first.DocumentResults), chunkIDs(second.DocumentResults))
	assert.Equal(t, int64(1), r.CacheStats().Hits)
}

func TestRetrieveContext_CacheKeyedByRemainingBudget(t *testing.T) {
	// Given: twelve 600-token chunks and a cache
	big := &fakeCorpus{chunks: map[string]*corpus.Chunk{}, docs: map[string]*corpus.Document{}}
	var ids []string
	for i := range 12 {
		id := fmt.Sprintf("c%02d", i)
		ids = append(ids, id)
		big.chunks[id] = &corpus.Chunk{ID: id, DocumentID: "doc-" + id, Content: words(480), TokenCount: 600}
	}
	kw := &fakeKeyword{hits: keywordHits(ids...)}
	r, err := NewRetriever(kw, testConfig(), WithCorpus(big), WithCache(newTestCache(t)))
	require.NoError(t, err)

	larger := documentOnlyOptions()
	larger.TokenBudget = NewTokenBudget(8000, 2000)
	smaller := documentOnlyOptions()
	smaller.TokenBudget = NewTokenBudget(7800, 2000)

	first, err := r.RetrieveContext(context.Background(), "word", larger)
	require.NoError(t, err)
	assertWithinBudget(t, first, larger.TokenBudget)

	// When: the same query arrives with a slightly smaller budget and the same limits
	second, err := r.RetrieveContext(context.Background(), "word", smaller)

	// Then: the context packed for the larger budget is not reused
	require.NoError(t, err)
	require.Equal(t, first.Limits.DocumentChunks, second.Limits.DocumentChunks)
	assert.Equal(t, CacheMiss, second.CacheStatus)
	assertWithinBudget(t, second, smaller.TokenBudget)
	assert.Equal(t, int32(2), kw.calls.Load())

	// And: repeating the smaller budget is a hit
	third, err := r.RetrieveContext(context.Background(), "word", smaller)
	require.NoError(t, err)
	assert.Equal(t, CacheHit, third.CacheStatus)
	assertWithinBudget(t, third, smaller.TokenBudget)
}

func TestRetrieveContext_CacheKeyedByWebFilters(t *testing.T) {
	// Given: a retriever with web search and a cache
	r, err := NewRetriever(&fakeKeyword{hits: keywordHits("c1")}, testConfig(),
		WithCorpus(testCorpus()),
		WithWebSearcher(&fakeWeb{results: webResults()}),
		WithCache(newTestCache(t)))
	require.NoError(t, err)

	wiki := DefaultRetrieveOptions()
	wiki.EnableSemantic = false
	wiki.Complexity = ComplexityModerate
	wiki.Web = WebFilters{Domains: []string{"wikipedia.org"}}
	first, err := r.RetrieveContext(context.Background(), "raft consensus", wiki)
	require.NoError(t, err)
	require.Equal(t, CacheMiss, first.CacheStatus)

	// When: the same query is restricted to another domain
	github := wiki
	github.Web = WebFilters{Domains: []string{"github.io"}}
	second, err := r.RetrieveContext(context.Background(), "raft consensus", github)

	// Then: the wikipedia context is not served
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, second.CacheStatus)

	// And: equivalent filters written differently share the entry
	again := wiki
	again.Web = WebFilters{Domains: []string{" Wikipedia.org", "wikipedia.org"}}
	third, err := r.RetrieveContext(context.Background(), "raft consensus", again)
	require.NoError(t, err)
	assert.Equal(t, CacheHit, third.CacheStatus)
}

func TestRetrieveOptions_WebKey(t *testing.T) {
	on := RetrieveOptions{EnableWeb: true, Web: WebFilters{Topic: "News", Domains: []string{"b.org", "A.org"}, MaxResults: 5}}
	same := RetrieveOptions{EnableWeb: true, Web: WebFilters{Topic: "news", Domains: []string{"a.org", "b.org", "b.org"}, MaxResults: 5}}
	other := RetrieveOptions{EnableWeb: true, Web: WebFilters{Topic: "news", Domains: []string{"a.org"}, MaxResults: 5}}
	off := RetrieveOptions{Web: on.Web}

	assert.Equal(t, on.webKey(), same.webKey())
	assert.NotEqual(t, on.webKey(), other.webKey())
	assert.Empty(t, off.webKey())
}

func TestRetrieveContext_SimilarQueryServedFromCache(t *testing.T) {
	// Given: an embedder that maps both phrasings to the same vector
	kw := &fakeKeyword{hits: keywordHits("c1")}
	r, err := NewRetriever(kw, testConfig(),
		WithVectorStore(&fakeVector{hits: vectorHits("c1")}, &fakeEmbedder{vec: []float32{0.6, 0.8}}),
		WithCorpus(testCorpus()), WithCache(newTestCache(t)))
	require.NoError(t, err)
	opts := documentOnlyOptions()

	_, err = r.RetrieveContext(context.Background(), "how are raft leaders elected", opts)
	require.NoError(t, err)

	// When: a paraphrase is asked
	rc, err := r.RetrieveContext(context.Background(), "raft leader election process", opts)

	// Then: the approximate lookup answers it
	require.NoError(t, err)
	assert.Equal(t, CacheSimilar, rc.CacheStatus)
	assert.InDelta(t, 1.0, rc.CacheSimilarity, 1e-6)
	assert.Equal(t, "raft leader election process", rc.Query)
	assert.Equal(t, int32(1), kw.calls.Load())
}

func TestRetrieveContext_DegradedContextNotCached(t *testing.T) {
	kw := &fakeKeyword{hits: keywordHits("c1")}
	r, err := NewRetriever(kw, testConfig(),
		WithVectorStore(&fakeVector{err: errors.New("down")}, &fakeEmbedder{vec: []float32{1}}),
		WithCorpus(testCorpus()), WithCache(newTestCache(t)))
	require.NoError(t, err)
	opts := documentOnlyOptions()

	for range 2 {
		rc, err := r.RetrieveContext(context.Background(), "raft", opts)
		require.NoError(t, err)
		assert.Equal(t, CacheMiss, rc.CacheStatus)
	}

	assert.Equal(t, int32(2), kw.calls.Load())
	assert.Zero(t, r.CacheStats().Sets)
}

func TestRetrieveContext_InvalidateDropsCachedContext(t *testing.T) {
	kw := &fakeKeyword{hits: keywordHits("c1")}
	r, err := NewRetriever(kw, testConfig(), WithCorpus(testCorpus()), WithCache(newTestCache(t)))
	require.NoError(t, err)
	opts := documentOnlyOptions()
	opts.EnableSemantic = false
	opts.OwnerID = "tenant-a"

	_, err = r.RetrieveContext(context.Background(), "raft", opts)
	require.NoError(t, err)

	n, err := r.Invalidate(context.Background(), cache.Scope{DocumentID: "doc-c1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rc, err := r.RetrieveContext(context.Background(), "raft", opts)
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, rc.CacheStatus)
	assert.Equal(t, int32(2), kw.calls.Load())
}

func TestRetrieveContext_OpenBreakerShortCircuitsVector(t *testing.T) {
	// Given: a vector breaker that opens after a single failure
	cfg := testConfig()
	cfg.Breakers = BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}
	vector := &fakeVector{err: errors.New("down")}
	r, err := NewRetriever(&fakeKeyword{hits: keywordHits("c1")}, cfg,
		WithVectorStore(vector, &fakeEmbedder{vec: []float32{1}}))
	require.NoError(t, err)
	_, err = r.RetrieveContext(context.Background(), "raft", documentOnlyOptions())
	require.NoError(t, err)
	require.Equal(t, int32(1), vector.calls.Load())

	// When: the next request arrives
	rc, err := r.RetrieveContext(context.Background(), "raft", documentOnlyOptions())

	// Then: the vector store is not called and the request is SEVERE
	require.NoError(t, err)
	assert.Equal(t, int32(1), vector.calls.Load())
	assert.Equal(t, DegradationSevere, rc.DegradationLevel)
	assert.Contains(t, rc.Reason, "circuit open")
	assert.Equal(t, "open", r.Degradation().BreakerStates()["vector"])
}

func TestRetrieveContext_CallerCancellation(t *testing.T) {
	r, err := NewRetriever(&fakeKeyword{hits: keywordHits("c1")}, testConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc, err := r.RetrieveContext(ctx, "raft", documentOnlyOptions())

	assert.Nil(t, rc)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrieveContext_RerankFailureFailsOpen(t *testing.T) {
	cfg := testConfig()
	cfg.Rerank.Strategy = RerankCrossEncoder
	r, err := NewRetriever(&fakeKeyword{hits: keywordHits("c1", "c2")}, cfg,
		WithCorpus(testCorpus()),
		WithCrossEncoder(&fakeCrossEncoder{err: errors.New("reranker offline")}))
	require.NoError(t, err)

	rc, err := r.RetrieveContext(context.Background(), "raft", documentOnlyOptions())

	require.NoError(t, err)
	assert.Equal(t, DegradationNone, rc.DegradationLevel)
	assert.Contains(t, rc.Reason, "rerank failed")
	assert.ElementsMatch(t, []string{"c1", "c2"}, chunkIDs(rc.DocumentResults))
}

func TestRetrieveContext_RecordsTelemetry(t *testing.T) {
	metrics := telemetry.New(nil, telemetry.DefaultConfig())
	r, err := NewRetriever(&fakeKeyword{hits: keywordHits("c1")}, testConfig(),
		WithCorpus(testCorpus()), WithTelemetry(metrics))
	require.NoError(t, err)

	_, err = r.RetrieveContext(context.Background(), "raft consensus", documentOnlyOptions())
	require.NoError(t, err)

	s := metrics.Snapshot()
	assert.Equal(t, int64(1), s.TotalQueries)
	assert.Equal(t, int64(1), s.LevelCounts["NONE"])
	assert.Equal(t, int64(1), s.CacheStatusCounts["disabled"])
	require.NoError(t, r.Close())
}

func TestRetriever_CloseClosesCollaborators(t *testing.T) {
	kw := &fakeKeyword{}
	r, err := NewRetriever(kw, testConfig(), WithCache(newTestCache(t)))
	require.NoError(t, err)

	require.NoError(t, r.Close())

	assert.True(t, kw.closed)
}

func TestRetriever_NoCacheStats(t *testing.T) {
	r, err := NewRetriever(&fakeKeyword{}, testConfig())
	require.NoError(t, err)

	assert.Equal(t, cache.Stats{}, r.CacheStats())
	n, err := r.Invalidate(context.Background(), cache.Scope{OwnerID: "x"})
	assert.NoError(t, err)
	assert.Zero(t, n)
}
