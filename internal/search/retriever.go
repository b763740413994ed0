package search

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrag/internal/cache"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// DefaultMaxQueryLength is the longest accepted query in characters.
const DefaultMaxQueryLength = 2000

// RetrieverConfig holds the engine-wide settings shared by every request.
type RetrieverConfig struct {
	Weights        Weights
	FusionMethod   FusionMethod
	RRFConstant    int
	Rerank         RerankOptions
	Lambda         float64
	Similarity     SimilarityMethod
	Dedup          DedupOptions
	Limits         LimitConfig
	PriorityPreset string
	Select         SelectOptions
	Breakers       BreakerConfig

	// TopK is the number of candidates requested from each backend.
	TopK            int
	MinKeywordScore float64
	MinVectorScore  float64

	KeywordTimeout time.Duration
	VectorTimeout  time.Duration
	EmbedTimeout   time.Duration
	WebTimeout     time.Duration

	MaxQueryLength int

	// CacheSimilarityThreshold is the least cosine similarity accepted
	// from an approximate cache lookup.
	CacheSimilarityThreshold float64
}

// DefaultRetrieverConfig returns the standard engine settings.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		Weights:                  DefaultWeights(),
		FusionMethod:             FusionWeighted,
		RRFConstant:              DefaultRRFConstant,
		Rerank:                   DefaultRerankOptions(),
		Lambda:                   DefaultLambda,
		Similarity:               SimilarityJaccard,
		Dedup:                    DefaultDedupOptions(),
		Limits:                   DefaultLimitConfig(),
		PriorityPreset:           PresetBalanced,
		Select:                   SelectOptions{MinTruncateTokens: DefaultMinTruncateTokens},
		Breakers:                 DefaultBreakerConfig(),
		TopK:                     50,
		KeywordTimeout:           2 * time.Second,
		VectorTimeout:            2 * time.Second,
		EmbedTimeout:             5 * time.Second,
		WebTimeout:               8 * time.Second,
		MaxQueryLength:           DefaultMaxQueryLength,
		CacheSimilarityThreshold: cache.DefaultConfig().SimilarityThreshold,
	}
}

// RetrieveOptions are the per-request settings.
type RetrieveOptions struct {
	OwnerID     string
	TopicID     string
	DocumentIDs []string

	EnableKeyword   bool
	EnableSemantic  bool
	EnableWeb       bool
	EnableCache     bool
	EnableDedup     bool
	EnableRerank    bool
	EnableDiversity bool

	TokenBudget TokenBudget

	// Complexity overrides the query classifier when set.
	Complexity Complexity

	// PriorityPreset overrides the configured preset when set.
	PriorityPreset string

	Web WebFilters

	// CacheTTL overrides the source-based TTL when positive.
	CacheTTL time.Duration
}

// DefaultRetrieveOptions enables every stage with an 8000-token window of
// which 2000 are reserved.
func DefaultRetrieveOptions() RetrieveOptions {
	return RetrieveOptions{
		EnableKeyword:   true,
		EnableSemantic:  true,
		EnableWeb:       true,
		EnableCache:     true,
		EnableDedup:     true,
		EnableRerank:    true,
		EnableDiversity: true,
		TokenBudget:     NewTokenBudget(8000, 2000),
	}
}

// flags names the enabled stages for the cache key.
func (o RetrieveOptions) flags() []string {
	var flags []string
	for name, on := range map[string]bool{
		"keyword":   o.EnableKeyword,
		"semantic":  o.EnableSemantic,
		"web":       o.EnableWeb,
		"dedup":     o.EnableDedup,
		"rerank":    o.EnableRerank,
		"diversity": o.EnableDiversity,
	} {
		if on {
			flags = append(flags, name)
		}
	}
	if o.PriorityPreset != "" {
		flags = append(flags, "preset="+o.PriorityPreset)
	}
	slices.Sort(flags)
	return flags
}

// webKey normalizes the web filters for the cache key. It is empty when
// web search is off, since the filters then have no effect.
func (o RetrieveOptions) webKey() string {
	if !o.EnableWeb {
		return ""
	}
	w := o.Web
	domains := make([]string, 0, len(w.Domains))
	for _, d := range w.Domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}
	slices.Sort(domains)
	domains = slices.Compact(domains)

	return strings.Join([]string{
		"topic=" + strings.ToLower(strings.TrimSpace(w.Topic)),
		"range=" + strings.ToLower(strings.TrimSpace(w.TimeRange)),
		"country=" + strings.ToLower(strings.TrimSpace(w.Country)),
		"domains=" + strings.Join(domains, ","),
		"max=" + strconv.Itoa(w.MaxResults),
	}, ";")
}

// Retriever assembles RAG contexts. It owns its collaborators and closes
// them in Close.
type Retriever struct {
	keyword      KeywordSearcher
	vector       VectorStore
	embedder     Embedder
	web          WebSearcher
	corpus       CorpusStore
	cache        ContextCache
	crossEncoder CrossEncoder
	counter      TokenCounter
	metrics      *telemetry.Metrics

	config      RetrieverConfig
	fuser       *Fuser
	reranker    *Reranker
	similarity  SimilarityFunc
	degradation *DegradationManager
	now         func() time.Time
}

// RetrieverOption configures optional collaborators.
type RetrieverOption func(*Retriever)

// WithVectorStore enables semantic retrieval.
func WithVectorStore(vector VectorStore, embedder Embedder) RetrieverOption {
	return func(r *Retriever) {
		r.vector = vector
		r.embedder = embedder
	}
}

// WithWebSearcher enables live web retrieval.
func WithWebSearcher(web WebSearcher) RetrieverOption {
	return func(r *Retriever) {
		r.web = web
	}
}

// WithCorpus supplies chunk text and document metadata for hydration.
func WithCorpus(c CorpusStore) RetrieverOption {
	return func(r *Retriever) {
		r.corpus = c
	}
}

// WithCache enables the similarity cache.
func WithCache(c ContextCache) RetrieverOption {
	return func(r *Retriever) {
		r.cache = c
	}
}

// WithCrossEncoder enables the cross_encoder and hybrid rerank strategies.
func WithCrossEncoder(ce CrossEncoder) RetrieverOption {
	return func(r *Retriever) {
		r.crossEncoder = ce
	}
}

// WithTokenCounter replaces the heuristic token counter.
func WithTokenCounter(c TokenCounter) RetrieverOption {
	return func(r *Retriever) {
		r.counter = c
	}
}

// WithTelemetry records one event per request.
func WithTelemetry(m *telemetry.Metrics) RetrieverOption {
	return func(r *Retriever) {
		r.metrics = m
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) RetrieverOption {
	return func(r *Retriever) {
		r.now = now
	}
}

// NewRetriever creates a retriever over a keyword index. Every other
// backend is optional.
func NewRetriever(keyword KeywordSearcher, cfg RetrieverConfig, opts ...RetrieverOption) (*Retriever, error) {
	if keyword == nil {
		return nil, fmt.Errorf("%w: keyword index is required", ErrNilDependency)
	}
	if _, err := PresetRules(cfg.PriorityPreset); err != nil {
		return nil, err
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultRetrieverConfig().TopK
	}
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = DefaultMaxQueryLength
	}
	if cfg.CacheSimilarityThreshold <= 0 {
		cfg.CacheSimilarityThreshold = DefaultRetrieverConfig().CacheSimilarityThreshold
	}

	r := &Retriever{
		keyword:     keyword,
		config:      cfg,
		counter:     HeuristicCounter{},
		similarity:  cfg.Similarity.Func(),
		degradation: NewDegradationManager(cfg.Breakers),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.vector != nil && r.embedder == nil {
		return nil, fmt.Errorf("%w: vector store needs an embedder", ErrNilDependency)
	}

	r.fuser = NewFuser(cfg.FusionMethod)
	if cfg.RRFConstant > 0 {
		r.fuser.K = cfg.RRFConstant
	}
	r.reranker = NewReranker(r.crossEncoder)
	return r, nil
}

// Degradation exposes the shared circuit breakers.
func (r *Retriever) Degradation() *DegradationManager {
	return r.degradation
}

// validateQuery rejects empty and oversized queries before any backend call.
func (r *Retriever) validateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return amanerrors.InvalidQuery("query is empty")
	}
	if n := utf8.RuneCountInString(query); n > r.config.MaxQueryLength {
		return amanerrors.InvalidQuery(fmt.Sprintf("query is %d characters, the limit is %d", n, r.config.MaxQueryLength))
	}
	return nil
}

// RetrieveContext answers query with a token-budgeted, ranked evidence set.
//
// Backend failures degrade the context instead of failing the call. When
// every attempted backend failed, the degraded (empty) context is returned
// together with an ERR_603 error. Invalid queries and caller cancellation
// return a nil context.
func (r *Retriever) RetrieveContext(ctx context.Context, query string, opts RetrieveOptions) (*RAGContext, error) {
	start := r.now()
	if err := r.validateQuery(query); err != nil {
		return nil, err
	}
	preset := cmp.Or(opts.PriorityPreset, r.config.PriorityPreset)
	rules, err := PresetRules(preset)
	if err != nil {
		return nil, amanerrors.ValidationError("unknown priority preset", err)
	}

	requestID := uuid.NewString()
	tracker := NewTracker()
	complexity := opts.Complexity
	if complexity == "" {
		complexity = ClassifyComplexity(query)
	}
	limits := CalculateLimits(opts.TokenBudget, complexity, r.config.Limits)
	if limits.Exhausted {
		tracker.Note(amanerrors.BudgetExhausted(opts.TokenBudget.RemainingForContext).Message)
	}

	useCache := opts.EnableCache && r.cache != nil
	keyParams := cache.KeyParams{
		OwnerID:       opts.OwnerID,
		TopicID:       opts.TopicID,
		DocumentIDs:   opts.DocumentIDs,
		Flags:         opts.flags(),
		DocumentLimit: limits.DocumentChunks,
		WebLimit:      limits.WebResults,
		Budget:        opts.TokenBudget.RemainingForContext,
		Web:           opts.webKey(),
		Query:         query,
	}
	cacheStatus := CacheDisabled
	if useCache {
		cacheStatus = CacheMiss
		if e, ok := r.cache.Get(ctx, keyParams.Key()); ok {
			if rc, ok := r.fromCache(e, requestID, query, CacheHit, 1, start); ok {
				return rc, nil
			}
		}
	}

	queryVec, err := r.embedQuery(ctx, tracker, query, opts, useCache)
	if err != nil {
		return nil, err
	}
	if useCache && len(queryVec) > 0 {
		e, sim, ok := r.cache.GetSimilar(ctx, queryVec, r.config.CacheSimilarityThreshold, keyParams.Fingerprint())
		if ok {
			if rc, ok := r.fromCache(e, requestID, query, CacheSimilar, sim, start); ok {
				return rc, nil
			}
		}
	}

	keywordResults, vectorResults, webResults := r.fanOut(ctx, tracker, query, queryVec, opts, limits)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	allFailed := tracker.Finalize()

	fused, partial := r.fuse(tracker, keywordResults, vectorResults, opts)
	r.hydrate(ctx, tracker, fused)

	ranked := fused
	if opts.EnableRerank && len(fused) > 0 {
		ranked, err = r.reranker.Rerank(ctx, query, fused, r.config.Rerank)
		if err != nil {
			tracker.Note("rerank failed, fused order kept")
		}
	}

	// Keep some slack so the selector can replace results it has to skip.
	docCap := 2 * limits.DocumentChunks
	var documents []*SearchResult
	if opts.EnableDiversity {
		documents = Diversify(ranked, r.config.Lambda, docCap, r.similarity)
	} else {
		documents = cloneResults(ranked[:min(len(ranked), docCap)])
	}

	if opts.EnableDedup && len(webResults) > 0 {
		var stats DedupStats
		webResults, stats = Deduplicate(ctx, webResults, r.config.Dedup)
		if stats.TimedOut {
			tracker.Note("web deduplication ran out of time")
		}
		slog.Debug("web_dedup",
			slog.String("request_id", requestID),
			slog.Int("input", stats.Input),
			slog.Int("output", stats.Output),
			slog.Duration("elapsed", stats.Elapsed))
	}

	rc := &RAGContext{
		RequestID:       requestID,
		Query:           query,
		DocumentResults: documents,
		WebResults:      webResults,
		Complexity:      complexity,
		CacheStatus:     cacheStatus,
	}
	rc = Prioritize(rc, rules, r.now())
	rc = SelectContext(rc, limits, opts.TokenBudget, r.counter, r.config.Select)
	rc.DiversityScore = DiversityScore(rc.DocumentResults, r.similarity)
	rc.Partial = partial
	rc.DegradationLevel = tracker.Level()
	rc.Degraded = rc.DegradationLevel > DegradationNone
	rc.Reason = tracker.Reason()
	rc.Failures = tracker.Failures()
	rc.Elapsed = r.now().Sub(start)

	if useCache && !rc.Degraded && len(rc.DocumentResults)+len(rc.WebResults) > 0 {
		r.store(ctx, rc, keyParams, queryVec, opts)
	}
	r.record(rc)

	slog.Info("retrieve_complete",
		slog.String("request_id", requestID),
		slog.String("complexity", string(complexity)),
		slog.String("level", rc.DegradationLevel.String()),
		slog.String("cache", string(rc.CacheStatus)),
		slog.Int("documents", len(rc.DocumentResults)),
		slog.Int("web", len(rc.WebResults)),
		slog.Int("tokens", rc.TokenUsage.Total),
		slog.Duration("elapsed", rc.Elapsed))

	if allFailed != nil {
		return rc, allFailed
	}
	return rc, nil
}

// embedQuery embeds the query for semantic search and for the approximate
// cache lookup. Only the semantic path counts as a vector backend call.
func (r *Retriever) embedQuery(ctx context.Context, tracker *Tracker, query string, opts RetrieveOptions, useCache bool) ([]float32, error) {
	if r.embedder == nil {
		return nil, nil
	}
	embed := func(ctx context.Context) ([]float32, error) {
		return r.embedder.Embed(ctx, query)
	}

	if opts.EnableSemantic && r.vector != nil {
		vec, err := CallBackend(ctx, r.degradation, tracker, BackendEmbedder, r.config.EmbedTimeout, embed)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return vec, nil
	}
	if !useCache {
		return nil, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, r.config.EmbedTimeout)
	defer cancel()
	vec, err := embed(embedCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Debug("query_embedding_failed", slog.String("error", err.Error()))
		return nil, nil
	}
	return vec, nil
}

// fanOut runs the enabled backends concurrently. Branches record their
// failure on the tracker and never fail the group, so one backend cannot
// cancel the others.
func (r *Retriever) fanOut(ctx context.Context, tracker *Tracker, query string, queryVec []float32, opts RetrieveOptions, limits Limits) (keyword, vector, web []*SearchResult) {
	filters := store.Filters{
		OwnerID:     opts.OwnerID,
		TopicID:     opts.TopicID,
		DocumentIDs: opts.DocumentIDs,
	}
	g, gctx := errgroup.WithContext(ctx)

	if opts.EnableKeyword {
		g.Go(func() error {
			res, err := CallBackend(gctx, r.degradation, tracker, BackendKeyword, r.config.KeywordTimeout,
				func(ctx context.Context) ([]*SearchResult, error) {
					hits, err := r.keyword.Search(ctx, query, filters, r.config.TopK, r.config.MinKeywordScore)
					if err != nil {
						return nil, err
					}
					return keywordResults(hits), nil
				})
			if err == nil {
				keyword = res
			}
			return nil
		})
	}

	// Failed also covers an embedding failure recorded before the fan-out.
	if opts.EnableSemantic && r.vector != nil && !tracker.Failed(BackendVector) && len(queryVec) > 0 {
		g.Go(func() error {
			res, err := CallBackend(gctx, r.degradation, tracker, BackendVector, r.config.VectorTimeout,
				func(ctx context.Context) ([]*SearchResult, error) {
					hits, err := r.vector.Query(ctx, queryVec, filters, r.config.TopK, r.config.MinVectorScore)
					if err != nil {
						return nil, err
					}
					return vectorResults(hits), nil
				})
			if err == nil {
				vector = res
			}
			return nil
		})
	}

	if opts.EnableWeb && r.web != nil {
		webFilters := opts.Web
		if webFilters.MaxResults <= 0 {
			webFilters.MaxResults = max(2*limits.WebResults, 10)
		}
		g.Go(func() error {
			res, err := CallBackend(gctx, r.degradation, tracker, BackendWeb, r.config.WebTimeout,
				func(ctx context.Context) ([]*SearchResult, error) {
					return r.web.Search(ctx, query, webFilters)
				})
			if err == nil {
				web = webSearchResults(res)
			}
			return nil
		})
	}

	_ = g.Wait()
	return keyword, vector, web
}

// fuse combines the document-side lists. When one side failed the other is
// passed through and the context is partial.
func (r *Retriever) fuse(tracker *Tracker, keyword, vector []*SearchResult, opts RetrieveOptions) ([]*SearchResult, bool) {
	semanticOn := opts.EnableSemantic && r.vector != nil
	keywordOK := opts.EnableKeyword && !tracker.Failed(BackendKeyword)
	vectorOK := semanticOn && !tracker.Failed(BackendVector)

	switch {
	case keywordOK && vectorOK:
		return r.fuser.Fuse(vector, keyword, r.config.Weights), false
	case keywordOK:
		return PassThrough(keyword), semanticOn
	case vectorOK:
		return PassThrough(vector), opts.EnableKeyword
	default:
		return []*SearchResult{}, false
	}
}

// hydrate fills snippets, embeddings and document metadata from the corpus.
// Failure leaves the results as they are.
func (r *Retriever) hydrate(ctx context.Context, tracker *Tracker, results []*SearchResult) {
	if r.corpus == nil || len(results) == 0 {
		return
	}
	chunkIDs := make([]string, 0, len(results))
	var docIDs []string
	for _, res := range results {
		chunkIDs = append(chunkIDs, res.ChunkID)
		if !slices.Contains(docIDs, res.DocumentID) {
			docIDs = append(docIDs, res.DocumentID)
		}
	}

	chunks, err := r.corpus.Chunks(ctx, chunkIDs)
	if err != nil {
		slog.Warn("chunk_hydration_failed", slog.String("error", err.Error()))
		tracker.Note("chunk text unavailable")
		return
	}
	for _, res := range results {
		if c, ok := chunks[res.ChunkID]; ok {
			res.Snippet = c.Content
			res.TokenCount = c.TokenCount
			res.Embedding = c.Embedding
		}
	}

	docs, err := r.corpus.Documents(ctx, docIDs)
	if err != nil {
		slog.Warn("document_metadata_failed", slog.String("error", err.Error()))
		tracker.Note("document metadata unavailable")
		return
	}
	ApplyDocumentMetadata(results, docs)
}

func (r *Retriever) fromCache(e *cache.Entry, requestID, query string, status CacheStatus, similarity float64, start time.Time) (*RAGContext, bool) {
	var rc RAGContext
	if err := json.Unmarshal(e.Value, &rc); err != nil {
		slog.Warn("cache_entry_undecodable",
			slog.String("key", e.Key),
			slog.String("error", err.Error()))
		return nil, false
	}
	rc.RequestID = requestID
	rc.Query = query
	rc.CacheStatus = status
	rc.CacheSimilarity = similarity
	rc.Elapsed = r.now().Sub(start)
	r.record(&rc)

	slog.Info("retrieve_complete",
		slog.String("request_id", requestID),
		slog.String("cache", string(status)),
		slog.Float64("similarity", similarity),
		slog.Duration("elapsed", rc.Elapsed))
	return &rc, true
}

func (r *Retriever) store(ctx context.Context, rc *RAGContext, params cache.KeyParams, queryVec []float32, opts RetrieveOptions) {
	value, err := json.Marshal(rc)
	if err != nil {
		slog.Warn("cache_encode_failed", slog.String("error", err.Error()))
		return
	}
	docIDs := slices.Clone(opts.DocumentIDs)
	for _, id := range rc.DocumentIDs() {
		if !slices.Contains(docIDs, id) {
			docIDs = append(docIDs, id)
		}
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = cache.TTLFor(len(rc.DocumentResults) > 0, len(rc.WebResults) > 0)
	}

	// The cache counts and logs its own errors; a failed set is a miss next time.
	_ = r.cache.Set(ctx, &cache.Entry{
		Key:         params.Key(),
		Fingerprint: params.Fingerprint(),
		Value:       value,
		Embedding:   queryVec,
		OwnerID:     opts.OwnerID,
		TopicID:     opts.TopicID,
		DocumentIDs: docIDs,
		CreatedAt:   r.now(),
		TTL:         ttl,
	})
}

func (r *Retriever) record(rc *RAGContext) {
	if r.metrics == nil {
		return
	}
	r.metrics.Record(telemetry.RetrievalEvent{
		RequestID:        rc.RequestID,
		Query:            rc.Query,
		Complexity:       string(rc.Complexity),
		DegradationLevel: rc.DegradationLevel.String(),
		CacheStatus:      string(rc.CacheStatus),
		DocumentResults:  len(rc.DocumentResults),
		WebResults:       len(rc.WebResults),
		TokensUsed:       rc.TokenUsage.Total,
		Latency:          rc.Elapsed,
		Timestamp:        r.now(),
	})
}

// Invalidate drops cached contexts matching scope.
func (r *Retriever) Invalidate(ctx context.Context, scope cache.Scope) (int, error) {
	if r.cache == nil {
		return 0, nil
	}
	return r.cache.Invalidate(ctx, scope)
}

// CacheStats reports cache counters, zero when caching is off.
func (r *Retriever) CacheStats() cache.Stats {
	if r.cache == nil {
		return cache.Stats{}
	}
	return r.cache.Stats()
}

// Close releases every collaborator that holds resources.
func (r *Retriever) Close() error {
	collaborators := []any{r.keyword, r.vector, r.embedder, r.web, r.corpus, r.cache, r.crossEncoder}
	if r.metrics != nil {
		collaborators = append(collaborators, r.metrics)
	}

	var errs []error
	var closed []io.Closer
	for _, c := range collaborators {
		closer, ok := c.(io.Closer)
		if !ok || slices.Contains(closed, closer) {
			continue
		}
		closed = append(closed, closer)
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func keywordResults(hits []*store.KeywordHit) []*SearchResult {
	out := make([]*SearchResult, 0, len(hits))
	for i, h := range hits {
		r := &SearchResult{
			SourceType:     SourceDocument,
			ID:             h.ChunkID,
			DocumentID:     h.DocumentID,
			ChunkID:        h.ChunkID,
			RelevanceScore: h.Score,
			KeywordScore:   h.Score,
			OriginalRank:   i,
		}
		if len(h.MatchedTerms) > 0 {
			r.Metadata = map[string]string{"matched_terms": strings.Join(h.MatchedTerms, ",")}
		}
		out = append(out, r)
	}
	return out
}

func vectorResults(hits []*store.VectorHit) []*SearchResult {
	out := make([]*SearchResult, 0, len(hits))
	for i, h := range hits {
		out = append(out, &SearchResult{
			SourceType:     SourceDocument,
			ID:             h.ChunkID,
			DocumentID:     h.DocumentID,
			ChunkID:        h.ChunkID,
			RelevanceScore: float64(h.Score),
			SemanticScore:  float64(h.Score),
			OriginalRank:   i,
		})
	}
	return out
}

// webSearchResults normalizes provider results: web source type, an ID,
// scores clamped to [0,1] and the original rank.
func webSearchResults(in []*SearchResult) []*SearchResult {
	out := make([]*SearchResult, 0, len(in))
	for i, r := range in {
		if r == nil {
			continue
		}
		c := r.clone()
		c.SourceType = SourceWeb
		if c.ID == "" {
			c.ID = c.URL
		}
		c.RelevanceScore = clamp01(c.RelevanceScore)
		c.OriginalRank = i
		out = append(out, c)
	}
	return out
}
