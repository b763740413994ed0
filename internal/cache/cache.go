package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Aman-CERP/amanrag/internal/embed"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Config tunes the approximate lookup.
type Config struct {
	// MaxScanKeys caps how many entries one GetSimilar call examines.
	MaxScanKeys int

	// BatchSize is the number of entries compared per pool task.
	BatchSize int

	// EarlyExitThreshold stops the scan once a match this close is found.
	EarlyExitThreshold float64

	// SimilarityThreshold is the default acceptance threshold.
	SimilarityThreshold float64

	// Workers sizes the comparison pool.
	Workers int
}

// DefaultConfig returns the standard lookup settings.
func DefaultConfig() Config {
	return Config{
		MaxScanKeys:         1000,
		BatchSize:           100,
		EarlyExitThreshold:  0.95,
		SimilarityThreshold: 0.85,
		Workers:             4,
	}
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	SimilarityHits int64 `json:"similarity_hits"`
	Sets           int64 `json:"sets"`
	Errors         int64 `json:"errors"`
	Evictions      int64 `json:"evictions"`
	Entries        int   `json:"entries"`
}

// HitRate is the share of lookups answered from cache, exact or similar.
func (s Stats) HitRate() float64 {
	lookups := s.Hits + s.Misses
	if lookups == 0 {
		return 0
	}
	return float64(s.Hits+s.SimilarityHits) / float64(lookups)
}

// SimilarityCache layers exact and embedding-similarity lookup over a Backend.
// Every failure is counted and reported as a miss; callers never need to
// treat cache errors as fatal.
type SimilarityCache struct {
	backend Backend
	config  Config
	pool    *ants.Pool
	now     func() time.Time

	hits           atomic.Int64
	misses         atomic.Int64
	similarityHits atomic.Int64
	sets           atomic.Int64
	failures       atomic.Int64
	evictions      atomic.Int64
}

// Option configures a SimilarityCache.
type Option func(*SimilarityCache)

// WithClock overrides the time source used for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(c *SimilarityCache) {
		c.now = now
	}
}

// New creates a cache over backend.
func New(backend Backend, cfg Config, opts ...Option) (*SimilarityCache, error) {
	if backend == nil {
		return nil, errors.New("cache backend is required")
	}
	def := DefaultConfig()
	if cfg.MaxScanKeys <= 0 {
		cfg.MaxScanKeys = def.MaxScanKeys
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.EarlyExitThreshold <= 0 {
		cfg.EarlyExitThreshold = def.EarlyExitThreshold
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("create scan pool: %w", err)
	}

	c := &SimilarityCache{
		backend: backend,
		config:  cfg,
		pool:    pool,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the live entry stored under key.
func (c *SimilarityCache) Get(ctx context.Context, key string) (*Entry, bool) {
	e, err := c.backend.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		c.misses.Add(1)
		return nil, false
	case err != nil:
		c.fail("get", err)
		c.misses.Add(1)
		return nil, false
	}

	if e.Expired(c.now()) {
		if err := c.backend.Delete(ctx, key); err != nil {
			c.fail("expire", err)
		} else {
			c.evictions.Add(1)
		}
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return e, true
}

// GetSimilar finds the entry with the same fingerprint whose embedding is
// closest to embedding. It returns the match and its cosine similarity when
// that similarity is at least threshold. threshold <= 0 uses the configured
// default.
func (c *SimilarityCache) GetSimilar(ctx context.Context, embedding []float32, threshold float64, fingerprint string) (*Entry, float64, bool) {
	if len(embedding) == 0 {
		return nil, 0, false
	}
	if threshold <= 0 {
		threshold = c.config.SimilarityThreshold
	}

	now := c.now()
	var candidates []*Entry
	err := c.backend.Scan(ctx, c.config.MaxScanKeys, func(e *Entry) bool {
		if e.Fingerprint == fingerprint && len(e.Embedding) == len(embedding) && !e.Expired(now) {
			candidates = append(candidates, e)
		}
		return true
	})
	if err != nil {
		c.fail("scan", err)
		return nil, 0, false
	}
	if len(candidates) == 0 {
		return nil, 0, false
	}

	best, score := c.bestMatch(candidates, embedding)
	if best == nil || score < threshold {
		return nil, score, false
	}

	c.similarityHits.Add(1)
	slog.Debug("cache_similarity_hit",
		slog.Float64("similarity", score),
		slog.Int("candidates", len(candidates)))
	return best, score, true
}

// bestMatch compares candidates in batches on the worker pool. Once any
// batch finds a match at or above EarlyExitThreshold the remaining work is
// skipped.
func (c *SimilarityCache) bestMatch(candidates []*Entry, embedding []float32) (*Entry, float64) {
	var (
		mu        sync.Mutex
		best      *Entry
		bestScore = -1.0
		done      atomic.Bool
		wg        sync.WaitGroup
	)

	scanBatch := func(batch []*Entry) {
		localBest, localScore := (*Entry)(nil), -1.0
		for _, e := range batch {
			if done.Load() {
				break
			}
			s := embed.CosineSimilarity(embedding, e.Embedding)
			if s > localScore {
				localBest, localScore = e, s
			}
			if s >= c.config.EarlyExitThreshold {
				done.Store(true)
				break
			}
		}
		mu.Lock()
		if localScore > bestScore {
			best, bestScore = localBest, localScore
		}
		mu.Unlock()
	}

	for start := 0; start < len(candidates); start += c.config.BatchSize {
		if done.Load() {
			break
		}
		batch := candidates[start:min(start+c.config.BatchSize, len(candidates))]
		wg.Add(1)
		if err := c.pool.Submit(func() {
			defer wg.Done()
			scanBatch(batch)
		}); err != nil {
			// Pool closed or overloaded; compare inline.
			scanBatch(batch)
			wg.Done()
		}
	}
	wg.Wait()

	return best, bestScore
}

// Set stores e. CreatedAt defaults to now. Failures are counted and
// returned as a CacheError.
func (c *SimilarityCache) Set(ctx context.Context, e *Entry) error {
	if e == nil || e.Key == "" {
		return amanerrors.CacheError("set", errors.New("entry key is required"))
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = c.now()
	}

	evicted, err := c.backend.Set(ctx, e)
	if err != nil {
		c.fail("set", err)
		return amanerrors.CacheError("set", err)
	}
	c.sets.Add(1)
	c.evictions.Add(int64(evicted))
	return nil
}

// Invalidate removes every entry matching scope and returns how many were
// removed. An empty scope clears the cache.
func (c *SimilarityCache) Invalidate(ctx context.Context, scope Scope) (int, error) {
	if scope.IsEmpty() {
		n := c.backend.Len()
		if err := c.backend.Clear(ctx); err != nil {
			c.fail("clear", err)
			return 0, amanerrors.CacheError("clear", err)
		}
		return n, nil
	}

	var keys []string
	err := c.backend.Scan(ctx, 0, func(e *Entry) bool {
		if scope.matches(e) {
			keys = append(keys, e.Key)
		}
		return true
	})
	if err != nil {
		c.fail("invalidate", err)
		return 0, amanerrors.CacheError("invalidate", err)
	}
	if err := c.backend.Delete(ctx, keys...); err != nil {
		c.fail("invalidate", err)
		return 0, amanerrors.CacheError("invalidate", err)
	}

	slog.Debug("cache_invalidated",
		slog.String("owner_id", scope.OwnerID),
		slog.String("topic_id", scope.TopicID),
		slog.String("document_id", scope.DocumentID),
		slog.Int("removed", len(keys)))
	return len(keys), nil
}

// Stats returns a snapshot of the counters.
func (c *SimilarityCache) Stats() Stats {
	return Stats{
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		SimilarityHits: c.similarityHits.Load(),
		Sets:           c.sets.Load(),
		Errors:         c.failures.Load(),
		Evictions:      c.evictions.Load(),
		Entries:        c.backend.Len(),
	}
}

// Close stops the worker pool and closes the backend.
func (c *SimilarityCache) Close() error {
	c.pool.Release()
	return c.backend.Close()
}

func (c *SimilarityCache) fail(op string, err error) {
	c.failures.Add(1)
	slog.Warn("cache_error", slog.String("op", op), slog.String("error", err.Error()))
}
