// Package telemetry records retrieval request telemetry for tuning the
// engine. All data stays local.
package telemetry

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP50   LatencyBucket = "p50"   // <50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP250  LatencyBucket = "p250"  // 100-250ms
	BucketP500  LatencyBucket = "p500"  // 250-500ms
	BucketP1000 LatencyBucket = "p1000" // 500ms-1s
	BucketSlow  LatencyBucket = "slow"  // >=1s
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 250:
		return BucketP250
	case ms < 500:
		return BucketP500
	case ms < 1000:
		return BucketP1000
	default:
		return BucketSlow
	}
}

// =============================================================================
// Retrieval Event
// =============================================================================

// RetrievalEvent describes one completed RetrieveContext call.
type RetrievalEvent struct {
	RequestID        string        `json:"request_id"`
	Query            string        `json:"query"`
	Complexity       string        `json:"complexity"`
	DegradationLevel string        `json:"degradation_level"`
	CacheStatus      string        `json:"cache_status"`
	DocumentResults  int           `json:"document_results"`
	WebResults       int           `json:"web_results"`
	TokensUsed       int           `json:"tokens_used"`
	Latency          time.Duration `json:"latency"`
	Timestamp        time.Time     `json:"timestamp"`
}

// IsEmpty returns true if the request produced no evidence at all.
func (e RetrievalEvent) IsEmpty() bool {
	return e.DocumentResults+e.WebResults == 0
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // Next write position
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a new circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity

	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items in the buffer in FIFO order (oldest first).
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		// Buffer full - oldest item is at head
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear removes all items from the buffer.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// =============================================================================
// Term Extraction
// =============================================================================

// ExtractTerms extracts query terms of at least three bytes, lowercased.
func ExtractTerms(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	var terms []string
	for _, w := range words {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is an immutable view of the collected metrics.
type Snapshot struct {
	TotalQueries        int64                   `json:"total_queries"`
	EmptyResultCount    int64                   `json:"empty_result_count"`
	LevelCounts         map[string]int64        `json:"level_counts"`
	CacheStatusCounts   map[string]int64        `json:"cache_status_counts"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TopTerms            []TermCount             `json:"top_terms"`
	EmptyResultQueries  []string                `json:"empty_result_queries"`
	Recent              []RetrievalEvent        `json:"recent"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	UniqueQueryCount    int64                   `json:"unique_query_count"`
	Since               time.Time               `json:"since"`
}

func (s *Snapshot) rate(n int64) float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(n) / float64(s.TotalQueries)
}

// ExactRepeatRate is the share of queries seen before.
func (s *Snapshot) ExactRepeatRate() float64 {
	return s.rate(s.ExactRepeatCount)
}

// CacheHitRate counts exact and similarity hits.
func (s *Snapshot) CacheHitRate() float64 {
	return s.rate(s.CacheStatusCounts["hit"] + s.CacheStatusCounts["similar"])
}

// DegradedRate is the share of requests above level NONE.
func (s *Snapshot) DegradedRate() float64 {
	var degraded int64
	for level, n := range s.LevelCounts {
		if level != "NONE" {
			degraded += n
		}
	}
	return s.rate(degraded)
}

// =============================================================================
// Metrics Store (Interface)
// =============================================================================

// Counter kinds persisted per day.
const (
	KindLevel       = "level"
	KindCacheStatus = "cache_status"
	KindLatency     = "latency"
)

// MetricsStore persists aggregated metrics.
type MetricsStore interface {
	// SaveDailyCounts adds counts for one kind on date (YYYY-MM-DD).
	SaveDailyCounts(date, kind string, counts map[string]int64) error

	// GetDailyCounts sums counts for one kind over a date range.
	GetDailyCounts(kind, from, to string) (map[string]int64, error)

	// UpsertTermCounts adds to term frequency counts.
	UpsertTermCounts(terms map[string]int64) error

	// GetTopTerms retrieves the top N terms by frequency.
	GetTopTerms(limit int) ([]TermCount, error)

	// AddEmptyResultQuery appends a query to the bounded empty-result log.
	AddEmptyResultQuery(query string, timestamp time.Time) error

	// GetEmptyResultQueries retrieves recent empty-result queries, newest first.
	GetEmptyResultQueries(limit int) ([]string, error)

	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures the metrics collector.
type Config struct {
	TopTermsCapacity      int           // Max terms to track (default: 100)
	EmptyResultsCapacity  int           // Max empty-result queries kept (default: 100)
	RecentEventsCapacity  int           // Events kept for inspection (default: 50)
	RecentQueriesCapacity int           // Query hashes kept for repeat detection (default: 500)
	FlushInterval         time.Duration // Store flush period (default: 60s, 0 = manual)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:      100,
		EmptyResultsCapacity:  100,
		RecentEventsCapacity:  50,
		RecentQueriesCapacity: 500,
		FlushInterval:         60 * time.Second,
	}
}

// =============================================================================
// Metrics
// =============================================================================

// pending holds counters accumulated since the last flush.
type pending struct {
	levels       map[string]int64
	cacheStatus  map[string]int64
	latencies    map[string]int64
	terms        map[string]int64
	emptyQueries []RetrievalEvent
}

func newPending() pending {
	return pending{
		levels:      make(map[string]int64),
		cacheStatus: make(map[string]int64),
		latencies:   make(map[string]int64),
		terms:       make(map[string]int64),
	}
}

// Metrics collects retrieval telemetry. Safe for concurrent use.
type Metrics struct {
	mu sync.RWMutex

	levels           map[string]int64
	cacheStatus      map[string]int64
	latencies        map[LatencyBucket]int64
	topTerms         *lru.Cache[string, int64]
	emptyResults     *CircularBuffer[string]
	recent           *CircularBuffer[RetrievalEvent]
	recentQueries    *lru.Cache[string, struct{}]
	totalQueries     int64
	emptyResultCount int64
	exactRepeatCount int64
	startTime        time.Time

	unflushed pending

	store       MetricsStore
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// New creates a collector. If store is nil, metrics are only kept in memory.
func New(store MetricsStore, cfg Config) *Metrics {
	def := DefaultConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.EmptyResultsCapacity <= 0 {
		cfg.EmptyResultsCapacity = def.EmptyResultsCapacity
	}
	if cfg.RecentEventsCapacity <= 0 {
		cfg.RecentEventsCapacity = def.RecentEventsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	m := &Metrics{
		levels:        make(map[string]int64),
		cacheStatus:   make(map[string]int64),
		latencies:     make(map[LatencyBucket]int64),
		topTerms:      topTerms,
		emptyResults:  NewCircularBuffer[string](cfg.EmptyResultsCapacity),
		recent:        NewCircularBuffer[RetrievalEvent](cfg.RecentEventsCapacity),
		recentQueries: recentQueries,
		startTime:     time.Now(),
		unflushed:     newPending(),
		store:         store,
		stopCh:        make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.flushTicker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}
	return m
}

func (m *Metrics) flushLoop() {
	for {
		select {
		case <-m.flushTicker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one retrieval request. It never blocks on the store.
func (m *Metrics) Record(event RetrievalEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.totalQueries++
	m.levels[event.DegradationLevel]++
	m.unflushed.levels[event.DegradationLevel]++
	m.cacheStatus[event.CacheStatus]++
	m.unflushed.cacheStatus[event.CacheStatus]++

	bucket := LatencyToBucket(event.Latency)
	m.latencies[bucket]++
	m.unflushed.latencies[string(bucket)]++

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.unflushed.terms[term]++
	}

	if event.IsEmpty() {
		m.emptyResults.Add(event.Query)
		m.emptyResultCount++
		m.unflushed.emptyQueries = append(m.unflushed.emptyQueries, event)
	}

	queryHash := hashQuery(event.Query)
	if _, seen := m.recentQueries.Get(queryHash); seen {
		m.exactRepeatCount++
	}
	m.recentQueries.Add(queryHash, struct{}{})

	m.recent.Add(event)
}

// hashQuery creates a normalized hash of the query for repetition detection.
func hashQuery(query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

// Snapshot returns current metrics for reporting.
func (m *Metrics) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var topTerms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	slices.SortStableFunc(topTerms, func(a, b TermCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Term, b.Term)
	})

	return &Snapshot{
		TotalQueries:        m.totalQueries,
		EmptyResultCount:    m.emptyResultCount,
		LevelCounts:         maps.Clone(m.levels),
		CacheStatusCounts:   maps.Clone(m.cacheStatus),
		LatencyDistribution: maps.Clone(m.latencies),
		TopTerms:            topTerms,
		EmptyResultQueries:  m.emptyResults.Items(),
		Recent:              m.recent.Items(),
		ExactRepeatCount:    m.exactRepeatCount,
		UniqueQueryCount:    int64(m.recentQueries.Len()),
		Since:               m.startTime,
	}
}

// Flush persists counters accumulated since the previous flush.
// Safe to call even if no store is configured. On failure the
// unflushed counters are dropped and the error is returned.
func (m *Metrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	batch := m.unflushed
	m.unflushed = newPending()
	m.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	for kind, counts := range map[string]map[string]int64{
		KindLevel:       batch.levels,
		KindCacheStatus: batch.cacheStatus,
		KindLatency:     batch.latencies,
	} {
		if len(counts) == 0 {
			continue
		}
		if err := m.store.SaveDailyCounts(today, kind, counts); err != nil {
			return err
		}
	}
	if err := m.store.UpsertTermCounts(batch.terms); err != nil {
		return err
	}
	for _, e := range batch.emptyQueries {
		if err := m.store.AddEmptyResultQuery(e.Query, e.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the flush loop and flushes once more.
func (m *Metrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.flushTicker != nil {
		m.flushTicker.Stop()
		close(m.stopCh)
	}
	return m.Flush()
}
