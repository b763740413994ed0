package search

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// words returns n space-separated four-letter words: 5n-1 runes.
func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "word"
	}
	return strings.Join(w, " ")
}

func prioritized(r *SearchResult, priority float64) *SearchResult {
	r.PriorityScore = priority
	return r
}

func TestSelectContext_RespectsBudget(t *testing.T) {
	// Given: many candidates larger in total than the budget
	var docs, web []*SearchResult
	for i := range 10 {
		docs = append(docs, prioritized(snippetResult(fmt.Sprintf("d%d", i), words(40), 0.5), 1-float64(i)*0.05))
		web = append(web, prioritized(webResult(fmt.Sprintf("w%d", i), "https://x.example", "t", words(60), 0.5), 0.9-float64(i)*0.05))
	}
	rc := &RAGContext{DocumentResults: docs, WebResults: web}

	for _, remaining := range []int{0, 10, 49, 120, 333, 1000, 100000} {
		t.Run(fmt.Sprint(remaining), func(t *testing.T) {
			budget := NewTokenBudget(remaining, 0)

			// When: selecting
			out := SelectContext(rc, Limits{DocumentChunks: 5, WebResults: 3}, budget, HeuristicCounter{}, SelectOptions{})

			// Then: token usage never exceeds the budget and limits hold
			assert.LessOrEqual(t, out.TokenUsage.Document+out.TokenUsage.Web, budget.RemainingForContext)
			assert.Equal(t, out.TokenUsage.Document+out.TokenUsage.Web, out.TokenUsage.Total)
			assert.LessOrEqual(t, len(out.DocumentResults), 5)
			assert.LessOrEqual(t, len(out.WebResults), 3)

			var sum int
			for _, r := range append(out.DocumentResults, out.WebResults...) {
				sum += HeuristicCounter{}.Count(r.Snippet)
			}
			assert.Equal(t, out.TokenUsage.Total, sum)
		})
	}
}

func TestSelectContext_GreedyByPriorityAcrossSources(t *testing.T) {
	// Given: interleaved priorities across sources
	rc := &RAGContext{
		DocumentResults: []*SearchResult{
			prioritized(snippetResult("d1", "alpha", 0.5), 0.9),
			prioritized(snippetResult("d2", "beta", 0.5), 0.5),
		},
		WebResults: []*SearchResult{
			prioritized(webResult("w1", "https://a.example", "a", "gamma", 0.5), 0.7),
		},
	}

	// When: selecting with a generous budget and a document limit of 1
	out := SelectContext(rc, Limits{DocumentChunks: 1, WebResults: 5}, NewTokenBudget(1000, 0), HeuristicCounter{}, SelectOptions{})

	// Then: the best document and the web result are kept
	assert.Equal(t, []string{"d1"}, chunkIDs(out.DocumentResults))
	assert.Equal(t, []string{"w1"}, resultIDs(out.WebResults))
	assert.Equal(t, 2, out.TokenUsage.Document)
	assert.Equal(t, 2, out.TokenUsage.Web)
	assert.Equal(t, 1000, out.TokenUsage.Budget)
}

func TestSelectContext_TruncatesWhenEnoughRoomRemains(t *testing.T) {
	// Given: a 500-word snippet and a 100-token budget
	rc := &RAGContext{DocumentResults: []*SearchResult{prioritized(snippetResult("big", words(500), 1), 1)}}

	// When: selecting
	out := SelectContext(rc, Limits{DocumentChunks: 3, WebResults: 1}, NewTokenBudget(100, 0), HeuristicCounter{}, SelectOptions{})

	// Then: the snippet is truncated to fit and marked
	require.Len(t, out.DocumentResults, 1)
	r := out.DocumentResults[0]
	assert.LessOrEqual(t, r.TokenCount, 100)
	assert.Positive(t, r.TokenCount)
	assert.True(t, strings.HasSuffix(r.Snippet, "…"))
	assert.Contains(t, r.Stages, stageTruncate)
}

func TestSelectContext_SkipsWhenTooLittleRoom(t *testing.T) {
	// Given: a snippet larger than the 40-token budget, below the truncation minimum
	rc := &RAGContext{DocumentResults: []*SearchResult{
		prioritized(snippetResult("big", words(100), 1), 1),
		prioritized(snippetResult("small", "tiny snippet", 1), 0.5),
	}}

	// When: selecting
	out := SelectContext(rc, Limits{DocumentChunks: 3, WebResults: 1}, NewTokenBudget(40, 0), HeuristicCounter{}, SelectOptions{})

	// Then: the oversized result is skipped and the smaller one still fits
	assert.Equal(t, []string{"small"}, chunkIDs(out.DocumentResults))
}

func TestSelectContext_DoesNotModifyInput(t *testing.T) {
	in := prioritized(snippetResult("big", words(500), 1), 1)
	rc := &RAGContext{DocumentResults: []*SearchResult{in}}

	_ = SelectContext(rc, Limits{DocumentChunks: 1, WebResults: 1}, NewTokenBudget(100, 0), HeuristicCounter{}, SelectOptions{})

	assert.Equal(t, words(500), in.Snippet)
	assert.Len(t, rc.DocumentResults, 1)
}

func TestHeuristicCounter(t *testing.T) {
	c := HeuristicCounter{}

	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("a"))
	assert.Equal(t, 1, c.Count("abcd"))
	assert.Equal(t, 2, c.Count("abcde"))
	assert.Equal(t, 2, c.Count("日本語の検索"))
}

func TestTruncateToTokens(t *testing.T) {
	c := HeuristicCounter{}

	assert.Equal(t, "short", truncateToTokens("short", 10, c))
	assert.Empty(t, truncateToTokens("anything", 0, c))

	cut := truncateToTokens(words(100), 20, c)
	assert.LessOrEqual(t, c.Count(cut), 20)
	assert.True(t, strings.HasSuffix(cut, " …"))
}

func TestNewTokenCounter_Heuristic(t *testing.T) {
	assert.IsType(t, HeuristicCounter{}, NewTokenCounter("heuristic"))
}
