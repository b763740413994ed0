package search

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrag/internal/store"
)

// DedupOptions configures web result deduplication.
type DedupOptions struct {
	// ContentThreshold marks two snippets as near-duplicates (default: 0.85).
	ContentThreshold float64

	// TitleThreshold marks two titles as near-duplicates (default: 0.90).
	TitleThreshold float64

	// PreserveHighestScore keeps the best-scoring member of each duplicate
	// group instead of the first one seen.
	PreserveHighestScore bool

	// MaxProcessingTime bounds the whole call (default: 150ms).
	MaxProcessingTime time.Duration

	// Method selects the content similarity (default: jaccard). Cosine is
	// computed over term-frequency vectors of the snippets.
	Method SimilarityMethod

	// Window is how many recently kept results each candidate is compared
	// against in the near-duplicate pass (default: 20).
	Window int

	// Now is the time source (default: time.Now).
	Now func() time.Time
}

// DefaultDedupOptions returns the standard deduplication settings.
func DefaultDedupOptions() DedupOptions {
	return DedupOptions{
		ContentThreshold:     0.85,
		TitleThreshold:       0.90,
		PreserveHighestScore: true,
		MaxProcessingTime:    150 * time.Millisecond,
		Method:               SimilarityJaccard,
		Window:               20,
	}
}

func (o DedupOptions) withDefaults() DedupOptions {
	d := DefaultDedupOptions()
	if o.ContentThreshold <= 0 {
		o.ContentThreshold = d.ContentThreshold
	}
	if o.TitleThreshold <= 0 {
		o.TitleThreshold = d.TitleThreshold
	}
	if o.MaxProcessingTime <= 0 {
		o.MaxProcessingTime = d.MaxProcessingTime
	}
	if o.Method == "" {
		o.Method = d.Method
	}
	if o.Window <= 0 {
		o.Window = d.Window
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// DedupStats reports what one Deduplicate call removed.
type DedupStats struct {
	Input          int           `json:"input"`
	Output         int           `json:"output"`
	URLDuplicates  int           `json:"url_duplicates"`
	HashDuplicates int           `json:"hash_duplicates"`
	NearDuplicates int           `json:"near_duplicates"`
	TimedOut       bool          `json:"timed_out"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Deduplicate removes duplicate web results in three passes: normalized URL,
// content hash, then near-duplicate title or content similarity. When the
// time budget runs out the work done so far is kept and the untouched
// remainder is returned as is. Output preserves input order, and running
// Deduplicate on its own output removes nothing more.
func Deduplicate(ctx context.Context, results []*SearchResult, opts DedupOptions) ([]*SearchResult, DedupStats) {
	opts = opts.withDefaults()
	d := &deduper{ctx: ctx, opts: opts, start: opts.Now()}
	stats := DedupStats{Input: len(results)}
	if len(results) == 0 {
		return []*SearchResult{}, stats
	}

	items := cloneResults(results)
	position := make(map[*SearchResult]int, len(items))
	for i, r := range items {
		position[r] = i
	}
	if opts.PreserveHighestScore {
		// Visiting best first makes the kept member the best of its group.
		slices.SortStableFunc(items, func(a, b *SearchResult) int {
			return cmp.Compare(b.RelevanceScore, a.RelevanceScore)
		})
	}

	passes := []struct {
		removed *int
		isDup   func(r *SearchResult, kept []*SearchResult) bool
	}{
		{&stats.URLDuplicates, d.urlDuplicate()},
		{&stats.HashDuplicates, d.hashDuplicate()},
		{&stats.NearDuplicates, d.nearDuplicate},
	}
	for _, pass := range passes {
		if d.exhausted() {
			stats.TimedOut = true
			break
		}
		var timedOut bool
		items, *pass.removed, timedOut = d.filter(items, pass.isDup)
		if timedOut {
			stats.TimedOut = true
			break
		}
	}

	slices.SortFunc(items, func(a, b *SearchResult) int {
		return cmp.Compare(position[a], position[b])
	})

	stats.Output = len(items)
	stats.Elapsed = opts.Now().Sub(d.start)
	if stats.TimedOut {
		slog.Warn("dedup_budget_exhausted",
			slog.Int("input", stats.Input),
			slog.Int("output", stats.Output),
			slog.Duration("budget", opts.MaxProcessingTime))
	}
	return items, stats
}

// dedupTokenizer produces the term frequencies for cosine similarity.
var dedupTokenizer = store.NewTokenizer(store.DefaultBM25Config())

type deduper struct {
	ctx    context.Context
	opts   DedupOptions
	start  time.Time
	tokens map[*SearchResult]map[string]struct{}
	freqs  map[*SearchResult]map[string]int
}

func (d *deduper) exhausted() bool {
	return d.ctx.Err() != nil || d.opts.Now().Sub(d.start) >= d.opts.MaxProcessingTime
}

// filter runs one pass. On budget exhaustion the unvisited items are kept.
func (d *deduper) filter(items []*SearchResult, isDup func(*SearchResult, []*SearchResult) bool) ([]*SearchResult, int, bool) {
	kept := make([]*SearchResult, 0, len(items))
	removed := 0
	for i, r := range items {
		if d.exhausted() {
			return append(kept, items[i:]...), removed, true
		}
		if isDup(r, kept) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	return kept, removed, false
}

func (d *deduper) urlDuplicate() func(*SearchResult, []*SearchResult) bool {
	seen := make(map[string]*SearchResult)
	return func(r *SearchResult, _ []*SearchResult) bool {
		key := normalizeURL(r.URL)
		if key == "" {
			return false
		}
		if rep, ok := seen[key]; ok {
			rep.touch(stageDedup)
			return true
		}
		seen[key] = r
		return false
	}
}

func (d *deduper) hashDuplicate() func(*SearchResult, []*SearchResult) bool {
	seen := make(map[string]*SearchResult)
	return func(r *SearchResult, _ []*SearchResult) bool {
		content := normalizeContent(r.Snippet)
		if content == "" {
			return false
		}
		sum := sha256.Sum256([]byte(content))
		key := hex.EncodeToString(sum[:])
		if rep, ok := seen[key]; ok {
			rep.touch(stageDedup)
			return true
		}
		seen[key] = r
		return false
	}
}

// nearDuplicate compares r with the last Window kept results.
func (d *deduper) nearDuplicate(r *SearchResult, kept []*SearchResult) bool {
	window := kept[max(0, len(kept)-d.opts.Window):]
	titleTokens := tokenSet(r.Title)
	for i := len(window) - 1; i >= 0; i-- {
		if d.exhausted() {
			return false
		}
		k := window[i]
		if len(titleTokens) > 0 && jaccard(titleTokens, tokenSet(k.Title)) >= d.opts.TitleThreshold {
			k.touch(stageDedup)
			return true
		}
		if d.contentSimilarity(r, k) >= d.opts.ContentThreshold {
			k.touch(stageDedup)
			return true
		}
	}
	return false
}

func (d *deduper) contentSimilarity(a, b *SearchResult) float64 {
	if d.opts.Method == SimilarityCosine {
		return termCosine(d.termFrequencies(a), d.termFrequencies(b))
	}
	return jaccard(d.snippetTokens(a), d.snippetTokens(b))
}

func (d *deduper) termFrequencies(r *SearchResult) map[string]int {
	if d.freqs == nil {
		d.freqs = make(map[*SearchResult]map[string]int)
	}
	if tf, ok := d.freqs[r]; ok {
		return tf
	}
	tf := dedupTokenizer.TermFrequencies(r.Snippet)
	d.freqs[r] = tf
	return tf
}

// termCosine is the cosine of two term-frequency vectors. Empty vectors
// score 0.
func termCosine(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot, normA, normB float64
	for term, fa := range a {
		normA += float64(fa * fa)
		if fb, ok := b[term]; ok {
			dot += float64(fa * fb)
		}
	}
	for _, fb := range b {
		normB += float64(fb * fb)
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (d *deduper) snippetTokens(r *SearchResult) map[string]struct{} {
	if d.tokens == nil {
		d.tokens = make(map[*SearchResult]map[string]struct{})
	}
	if set, ok := d.tokens[r]; ok {
		return set
	}
	set := tokenSet(r.Snippet)
	d.tokens[r] = set
	return set
}

// normalizeURL strips the scheme, a leading "www.", the fragment and
// trailing slashes.
func normalizeURL(raw string) string {
	u := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	u = strings.TrimPrefix(u, "www.")
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u = u[:i]
	}
	return strings.TrimRight(u, "/")
}

func normalizeContent(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
