package search

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Complexity is a coarse estimate of how much evidence a query needs.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Multiplier scales the item limits for the complexity.
func (c Complexity) Multiplier() float64 {
	switch c {
	case ComplexitySimple:
		return 0.7
	case ComplexityComplex:
		return 1.3
	default:
		return 1.0
	}
}

// ParseComplexity maps a string onto a complexity. Empty means auto-detect
// and returns "".
func ParseComplexity(s string) (Complexity, error) {
	switch c := Complexity(strings.ToLower(strings.TrimSpace(s))); c {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex, "":
		return c, nil
	default:
		return "", fmt.Errorf("unknown complexity %q (valid: simple, moderate, complex)", s)
	}
}

// Compiled regex patterns for complexity classification.
var (
	// Comparisons, causal analysis and multi-aspect requests
	complexPattern = regexp.MustCompile(`(?i)\b(compare|comparison|versus|vs\.?|difference between|differences|pros and cons|trade-?offs?|analy[sz]e|evaluate|implications?|impact of|explain why|relationship between|step[- ]by[- ]step)\b`)

	// Short factual lookups
	factoidPattern = regexp.MustCompile(`(?i)^(what|who|when|where)\s+(is|are|was|were|did)\b|^(define|definition of)\b`)

	// Conjunctions that join separate sub-questions
	clausePattern = regexp.MustCompile(`(?i)\b(and also|as well as|in addition|furthermore)\b|;`)
)

// ClassifyComplexity estimates query complexity from its wording and length.
func ClassifyComplexity(query string) Complexity {
	query = strings.TrimSpace(query)
	words := len(strings.Fields(query))

	switch {
	case words == 0:
		return ComplexitySimple
	case complexPattern.MatchString(query),
		strings.Count(query, "?") > 1,
		clausePattern.MatchString(query),
		words > 20:
		return ComplexityComplex
	case words <= 4, factoidPattern.MatchString(query) && words <= 8:
		return ComplexitySimple
	default:
		return ComplexityModerate
	}
}

// LimitConfig configures the dynamic limit calculation.
type LimitConfig struct {
	TokensPerDocument int     // average tokens of a document chunk (default: 300)
	TokensPerWeb      int     // average tokens of a web snippet (default: 400)
	DocumentRatio     float64 // share of items given to documents (default: 0.6)
	MinDocuments      int
	MaxDocuments      int
	MinWeb            int
	MaxWeb            int
}

// DefaultLimitConfig returns the default limit configuration.
func DefaultLimitConfig() LimitConfig {
	return LimitConfig{
		TokensPerDocument: 300,
		TokensPerWeb:      400,
		DocumentRatio:     0.6,
		MinDocuments:      2,
		MaxDocuments:      20,
		MinWeb:            1,
		MaxWeb:            10,
	}
}

func (c LimitConfig) withDefaults() LimitConfig {
	d := DefaultLimitConfig()
	if c.TokensPerDocument <= 0 {
		c.TokensPerDocument = d.TokensPerDocument
	}
	if c.TokensPerWeb <= 0 {
		c.TokensPerWeb = d.TokensPerWeb
	}
	if c.DocumentRatio < 0 || c.DocumentRatio > 1 {
		c.DocumentRatio = d.DocumentRatio
	}
	c.MinDocuments = max(c.MinDocuments, 1)
	c.MinWeb = max(c.MinWeb, 1)
	if c.MaxDocuments < c.MinDocuments {
		c.MaxDocuments = max(d.MaxDocuments, c.MinDocuments)
	}
	if c.MaxWeb < c.MinWeb {
		c.MaxWeb = max(d.MaxWeb, c.MinWeb)
	}
	return c
}

// Limits caps how many items each source may contribute.
type Limits struct {
	DocumentChunks int `json:"document_chunks"`
	WebResults     int `json:"web_results"`

	// Exhausted is set when the budget left nothing for context and the
	// minimums were used.
	Exhausted bool `json:"exhausted,omitempty"`
}

// CalculateLimits derives per-source item limits from the token budget:
// avg = tokensPerDoc*ratio + tokensPerWeb*(1-ratio), maxItems = remaining/avg,
// split by ratio, scaled by the complexity multiplier and clamped to the
// configured range. Limits are never zero.
func CalculateLimits(budget TokenBudget, complexity Complexity, cfg LimitConfig) Limits {
	cfg = cfg.withDefaults()
	if budget.RemainingForContext <= 0 {
		return Limits{DocumentChunks: cfg.MinDocuments, WebResults: cfg.MinWeb, Exhausted: true}
	}

	ratio := cfg.DocumentRatio
	avg := float64(cfg.TokensPerDocument)*ratio + float64(cfg.TokensPerWeb)*(1-ratio)
	maxItems := int(math.Floor(float64(budget.RemainingForContext) / avg))

	docs := int(math.Floor(float64(maxItems) * ratio))
	web := maxItems - docs

	mult := complexity.Multiplier()
	docs = int(math.Floor(float64(docs) * mult))
	web = int(math.Floor(float64(web) * mult))

	return Limits{
		DocumentChunks: min(max(docs, cfg.MinDocuments), cfg.MaxDocuments),
		WebResults:     min(max(web, cfg.MinWeb), cfg.MaxWeb),
	}
}
