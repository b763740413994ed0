package search

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// FusionMethod selects how semantic and keyword lists are combined.
type FusionMethod string

const (
	// FusionWeighted combines max-normalized scores with the configured weights.
	FusionWeighted FusionMethod = "weighted"

	// FusionRRF uses Reciprocal Rank Fusion and ignores raw scores.
	FusionRRF FusionMethod = "rrf"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
// k=60 is empirically validated across domains (used by Azure AI Search, OpenSearch, etc.).
const DefaultRRFConstant = 60

// ParseFusionMethod maps a config string onto a fusion method.
func ParseFusionMethod(s string) (FusionMethod, error) {
	switch FusionMethod(strings.ToLower(strings.TrimSpace(s))) {
	case FusionWeighted, "":
		return FusionWeighted, nil
	case FusionRRF:
		return FusionRRF, nil
	default:
		return "", fmt.Errorf("unknown fusion method %q (valid: weighted, rrf)", s)
	}
}

// Fuser merges the semantic and keyword result lists into one ranking.
type Fuser struct {
	Method FusionMethod
	K      int // RRF smoothing constant (default: 60)
}

// NewFuser creates a fuser. An empty method means weighted fusion.
func NewFuser(method FusionMethod) *Fuser {
	if method == "" {
		method = FusionWeighted
	}
	return &Fuser{Method: method, K: DefaultRRFConstant}
}

// fusedEntry tracks one result across both input lists.
type fusedEntry struct {
	result  *SearchResult
	semRank int // 0-based, -1 if absent
	kwRank  int
	sem     float64 // normalized side scores
	kw      float64
	score   float64
}

func (e *fusedEntry) inBoth() bool {
	return e.semRank >= 0 && e.kwRank >= 0
}

// bestRank is the lower of the two original ranks.
func (e *fusedEntry) bestRank() int {
	switch {
	case e.semRank < 0:
		return e.kwRank
	case e.kwRank < 0:
		return e.semRank
	default:
		return min(e.semRank, e.kwRank)
	}
}

// Fuse combines both lists, deduplicated by (DocumentID, ChunkID). Inputs are
// ordered best first and carry their raw side score in RelevanceScore. The
// inputs are not modified.
//
// Weighted: combined = sem*wSem + kw*wKw, where each side is normalized by
// its own maximum and a missing side contributes zero. Ties go to the lower
// original rank.
func (f *Fuser) Fuse(semantic, keyword []*SearchResult, weights Weights) []*SearchResult {
	if len(semantic) == 0 && len(keyword) == 0 {
		return []*SearchResult{}
	}
	if weights.Semantic+weights.Keyword <= 0 {
		weights = DefaultWeights()
	}

	entries := make(map[string]*fusedEntry, len(semantic)+len(keyword))
	order := make([]*fusedEntry, 0, len(semantic)+len(keyword))
	get := func(r *SearchResult) *fusedEntry {
		if e, ok := entries[r.key()]; ok {
			return e
		}
		e := &fusedEntry{result: r.clone(), semRank: -1, kwRank: -1}
		entries[r.key()] = e
		order = append(order, e)
		return e
	}

	semMax := maxRelevance(semantic)
	for rank, r := range semantic {
		e := get(r)
		if e.semRank >= 0 {
			continue
		}
		e.semRank = rank
		e.sem = normalizeScore(r.RelevanceScore, semMax)
	}

	kwMax := maxRelevance(keyword)
	for rank, r := range keyword {
		e := get(r)
		if e.kwRank >= 0 {
			continue
		}
		e.kwRank = rank
		e.kw = normalizeScore(r.RelevanceScore, kwMax)
		if e.result.Snippet == "" {
			e.result.Snippet = r.Snippet
		}
		if e.result.Title == "" {
			e.result.Title = r.Title
		}
	}

	if f.Method == FusionRRF {
		f.scoreRRF(order, len(semantic), len(keyword), weights)
	} else {
		for _, e := range order {
			e.score = e.sem*weights.Semantic + e.kw*weights.Keyword
		}
	}

	slices.SortStableFunc(order, func(a, b *fusedEntry) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if f.Method == FusionRRF && a.inBoth() != b.inBoth() {
			if a.inBoth() {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(a.bestRank(), b.bestRank()); c != 0 {
			return c
		}
		return cmp.Compare(a.result.key(), b.result.key())
	})

	out := make([]*SearchResult, len(order))
	for i, e := range order {
		r := e.result
		r.SemanticScore = e.sem
		r.KeywordScore = e.kw
		r.RelevanceScore = clamp01(e.score)
		r.OriginalRank = e.bestRank()
		r.touch(stageFusion)
		out[i] = r
	}
	return out
}

// scoreRRF assigns RRF_score(d) = sum of weight_i / (k + rank_i), with
// 1-indexed ranks. A document missing from a list is scored at
// max(len(sem), len(kw)) + 1 for that list. Scores are normalized to [0,1].
func (f *Fuser) scoreRRF(entries []*fusedEntry, semLen, kwLen int, weights Weights) {
	k := f.K
	if k <= 0 {
		k = DefaultRRFConstant
	}
	missingRank := max(semLen, kwLen) + 1

	var best float64
	for _, e := range entries {
		semRank, kwRank := missingRank, missingRank
		if e.semRank >= 0 {
			semRank = e.semRank + 1
		}
		if e.kwRank >= 0 {
			kwRank = e.kwRank + 1
		}
		e.score = weights.Semantic/float64(k+semRank) + weights.Keyword/float64(k+kwRank)
		best = max(best, e.score)
	}
	if best == 0 {
		return
	}
	for _, e := range entries {
		e.score /= best
	}
}

// PassThrough is used when the other side failed entirely: it normalizes a
// single list by its maximum without weight scaling. The inputs are not
// modified.
func PassThrough(results []*SearchResult) []*SearchResult {
	out := cloneResults(results)
	best := maxRelevance(out)
	for rank, r := range out {
		factor := 0.0
		if best > 0 {
			factor = 1 / best
		}
		r.RelevanceScore = clamp01(r.RelevanceScore * factor)
		r.SemanticScore = clamp01(r.SemanticScore * factor)
		r.KeywordScore = clamp01(r.KeywordScore * factor)
		r.OriginalRank = rank
		r.touch(stageFusion)
	}
	return out
}

func maxRelevance(results []*SearchResult) float64 {
	var best float64
	for _, r := range results {
		best = max(best, r.RelevanceScore)
	}
	return best
}

func normalizeScore(score, maxScore float64) float64 {
	if maxScore <= 0 || score <= 0 {
		return 0
	}
	return clamp01(score / maxScore)
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
