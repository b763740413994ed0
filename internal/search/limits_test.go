package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateLimits_SmallBudgetSimpleQueryUsesMinimums(t *testing.T) {
	// Given: a 350-token context budget and a simple query
	budget := NewTokenBudget(1350, 1000)
	require.Equal(t, 350, budget.RemainingForContext)

	// When: calculating limits with the default configuration
	limits := CalculateLimits(budget, ComplexitySimple, DefaultLimitConfig())

	// Then: the configured minimums are returned
	assert.Equal(t, Limits{DocumentChunks: 2, WebResults: 1}, limits)
}

func TestCalculateLimits_ScalesWithBudgetAndComplexity(t *testing.T) {
	tests := []struct {
		name       string
		remaining  int
		complexity Complexity
		want       Limits
	}{
		// avg = 340, 3400/340 = 10 items: 6 docs, 4 web
		{"moderate", 3400, ComplexityModerate, Limits{DocumentChunks: 6, WebResults: 4}},
		{"simple", 3400, ComplexitySimple, Limits{DocumentChunks: 4, WebResults: 2}},
		{"complex", 3400, ComplexityComplex, Limits{DocumentChunks: 7, WebResults: 5}},
		{"clamped to max", 100000, ComplexityComplex, Limits{DocumentChunks: 20, WebResults: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := CalculateLimits(NewTokenBudget(tt.remaining, 0), tt.complexity, DefaultLimitConfig())

			assert.Equal(t, tt.want, limits)
		})
	}
}

func TestCalculateLimits_ExhaustedBudget(t *testing.T) {
	// Given: the reservation exceeds the total
	budget := NewTokenBudget(500, 800)

	// When: calculating limits
	limits := CalculateLimits(budget, ComplexityComplex, DefaultLimitConfig())

	// Then: minimums are used and exhaustion is reported
	assert.Equal(t, 0, budget.RemainingForContext)
	assert.Equal(t, 2, limits.DocumentChunks)
	assert.Equal(t, 1, limits.WebResults)
	assert.True(t, limits.Exhausted)
}

func TestCalculateLimits_NeverZero(t *testing.T) {
	cfg := LimitConfig{DocumentRatio: 1}

	for _, remaining := range []int{1, 10, 299, 5000} {
		limits := CalculateLimits(NewTokenBudget(remaining, 0), ComplexitySimple, cfg)

		assert.Positive(t, limits.DocumentChunks, remaining)
		assert.Positive(t, limits.WebResults, remaining)
	}
}

func TestClassifyComplexity(t *testing.T) {
	tests := []struct {
		query string
		want  Complexity
	}{
		{"", ComplexitySimple},
		{"BM25 parameters", ComplexitySimple},
		{"what is reciprocal rank fusion", ComplexitySimple},
		{"how does the cache decide when an entry expires", ComplexityModerate},
		{"compare badger and bolt for write-heavy workloads", ComplexityComplex},
		{"postgres vs mysql", ComplexityComplex},
		{"what changed in Q3? why did revenue drop?", ComplexityComplex},
		{"summarize the report; list the open risks", ComplexityComplex},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyComplexity(tt.query))
		})
	}
}

func TestParseComplexity(t *testing.T) {
	c, err := ParseComplexity("Complex")
	require.NoError(t, err)
	assert.Equal(t, ComplexityComplex, c)

	c, err = ParseComplexity("")
	require.NoError(t, err)
	assert.Empty(t, c)

	_, err = ParseComplexity("extreme")
	assert.Error(t, err)
}

func TestNewTokenBudget(t *testing.T) {
	b := NewTokenBudget(8000, 2000)

	assert.Equal(t, 8000, b.TotalAvailable)
	assert.Equal(t, 2000, b.ReservedForSystemAndHistory)
	assert.Equal(t, 6000, b.RemainingForContext)
}
