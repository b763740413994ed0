// Package search assembles retrieval contexts: it fans a query out to the
// keyword index, the vector store and web search, then fuses, reranks,
// diversifies, prioritizes and packs the results into a token budget.
package search

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/Aman-CERP/amanrag/internal/cache"
	"github.com/Aman-CERP/amanrag/internal/corpus"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// SourceType tells document results from web results.
type SourceType string

const (
	SourceDocument SourceType = "document"
	SourceWeb      SourceType = "web"
)

// SearchResult is one piece of evidence. Retrieval creates it; later
// stages only touch score fields and never share a result concurrently.
type SearchResult struct {
	SourceType SourceType `json:"source_type"`
	ID         string     `json:"id"`
	DocumentID string     `json:"document_id,omitempty"`
	ChunkID    string     `json:"chunk_id,omitempty"`
	URL        string     `json:"url,omitempty"`
	Title      string     `json:"title,omitempty"`
	Snippet    string     `json:"snippet"`

	// RelevanceScore is the current ranking score in [0,1].
	RelevanceScore float64 `json:"relevance_score"`

	// SemanticScore and KeywordScore are the normalized per-side fusion inputs.
	SemanticScore float64 `json:"semantic_score,omitempty"`
	KeywordScore  float64 `json:"keyword_score,omitempty"`

	AuthorityScore float64 `json:"authority_score"`
	FreshnessScore float64 `json:"freshness_score"`
	PriorityScore  float64 `json:"priority_score"`

	// Weight is the formatting weight in [MinWeight,1].
	Weight float64 `json:"weight"`

	TokenCount  int       `json:"token_count"`
	PublishedAt time.Time `json:"published_at,omitzero"`

	// OriginalRank is the 0-based position from retrieval; RankDelta is
	// the movement caused by the last reranking (positive moved up).
	OriginalRank int `json:"original_rank"`
	RankDelta    int `json:"rank_delta"`

	// Stages lists the pipeline stages that changed this result.
	Stages []string `json:"stages,omitempty"`

	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"-"`
}

// key identifies a result for deduplication during fusion.
func (r *SearchResult) key() string {
	if r.SourceType == SourceWeb {
		return "web\x00" + r.URL
	}
	return r.DocumentID + "\x00" + r.ChunkID
}

func (r *SearchResult) clone() *SearchResult {
	c := *r
	c.Stages = slices.Clone(r.Stages)
	c.Metadata = maps.Clone(r.Metadata)
	return &c
}

func (r *SearchResult) touch(stage string) {
	if !slices.Contains(r.Stages, stage) {
		r.Stages = append(r.Stages, stage)
	}
}

func cloneResults(in []*SearchResult) []*SearchResult {
	out := make([]*SearchResult, len(in))
	for i, r := range in {
		out[i] = r.clone()
	}
	return out
}

// TokenBudget splits the model context window. It is computed once per
// query and never changed.
type TokenBudget struct {
	TotalAvailable              int `json:"total_available"`
	ReservedForSystemAndHistory int `json:"reserved_for_system_and_history"`
	RemainingForContext         int `json:"remaining_for_context"`
}

// NewTokenBudget derives the context allowance. A reservation at or above
// the total leaves zero for context.
func NewTokenBudget(total, reserved int) TokenBudget {
	return TokenBudget{
		TotalAvailable:              total,
		ReservedForSystemAndHistory: reserved,
		RemainingForContext:         max(total-reserved, 0),
	}
}

// TokenUsage is the token accounting of a packed context.
type TokenUsage struct {
	Document int `json:"document"`
	Web      int `json:"web"`
	Total    int `json:"total"`
	Budget   int `json:"budget"`
}

// CacheStatus records how the similarity cache answered a request.
type CacheStatus string

const (
	CacheDisabled CacheStatus = "disabled"
	CacheMiss     CacheStatus = "miss"
	CacheHit      CacheStatus = "hit"
	CacheSimilar  CacheStatus = "similar"
)

// BackendFailure describes one backend error recorded during a request.
type BackendFailure struct {
	Backend string           `json:"backend"`
	Code    string           `json:"code"`
	Level   DegradationLevel `json:"level"`
	Message string           `json:"message"`
}

// RAGContext is the assembled evidence returned to the caller. It is built
// fresh per query and must not be mutated after it is returned.
type RAGContext struct {
	RequestID        string           `json:"request_id"`
	Query            string           `json:"query"`
	DocumentResults  []*SearchResult  `json:"document_results"`
	WebResults       []*SearchResult  `json:"web_results"`
	Degraded         bool             `json:"degraded"`
	DegradationLevel DegradationLevel `json:"degradation_level"`
	Partial          bool             `json:"partial"`
	Reason           string           `json:"reason,omitempty"`
	Failures         []BackendFailure `json:"failures,omitempty"`
	TokenUsage       TokenUsage       `json:"token_usage"`
	Limits           Limits           `json:"limits"`
	Complexity       Complexity       `json:"complexity"`
	DiversityScore   float64          `json:"diversity_score,omitempty"`
	CacheStatus      CacheStatus      `json:"cache_status"`
	CacheSimilarity  float64          `json:"cache_similarity,omitempty"`
	Elapsed          time.Duration    `json:"elapsed"`
}

// DocumentIDs returns the distinct documents the context draws on.
func (c *RAGContext) DocumentIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, r := range c.DocumentResults {
		if _, ok := seen[r.DocumentID]; ok || r.DocumentID == "" {
			continue
		}
		seen[r.DocumentID] = struct{}{}
		ids = append(ids, r.DocumentID)
	}
	return ids
}

// Weights sets the relative importance of the two document-side signals.
type Weights struct {
	Semantic float64 `yaml:"semantic" json:"semantic"`
	Keyword  float64 `yaml:"keyword" json:"keyword"`
}

// DefaultWeights favours semantic matches for natural-language queries.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.65, Keyword: 0.35}
}

// WebFilters narrow a web search.
type WebFilters struct {
	Topic      string   `json:"topic,omitempty"`
	TimeRange  string   `json:"time_range,omitempty"` // day, week, month, year
	Country    string   `json:"country,omitempty"`
	Domains    []string `json:"domains,omitempty"`
	MaxResults int      `json:"max_results,omitempty"`
}

// KeywordSearcher is the read side of a keyword index.
type KeywordSearcher interface {
	Search(ctx context.Context, query string, filters store.Filters, topK int, minScore float64) ([]*store.KeywordHit, error)
}

// VectorStore answers nearest-neighbour queries over chunk embeddings.
type VectorStore interface {
	Query(ctx context.Context, vec []float32, filters store.Filters, topK int, minScore float64) ([]*store.VectorHit, error)
}

// Embedder turns the query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// WebSearcher runs a live web search.
type WebSearcher interface {
	Search(ctx context.Context, query string, filters WebFilters) ([]*SearchResult, error)
}

// CorpusStore supplies chunk text and document metadata. It is read-only here.
type CorpusStore interface {
	Documents(ctx context.Context, ids []string) (map[string]*corpus.Document, error)
	Chunks(ctx context.Context, ids []string) (map[string]*corpus.Chunk, error)
}

// ContextCache stores assembled contexts.
type ContextCache interface {
	Get(ctx context.Context, key string) (*cache.Entry, bool)
	GetSimilar(ctx context.Context, embedding []float32, threshold float64, fingerprint string) (*cache.Entry, float64, bool)
	Set(ctx context.Context, e *cache.Entry) error
	Invalidate(ctx context.Context, scope cache.Scope) (int, error)
	Stats() cache.Stats
}

// TokenCounter measures text in model tokens.
type TokenCounter interface {
	Count(text string) int
}

// Pipeline stage names recorded on results.
const (
	stageFusion    = "fusion"
	stageRerank    = "rerank"
	stageDiversity = "diversity"
	stageDedup     = "dedup"
	stagePriority  = "priority"
	stageTruncate  = "truncate"
)
