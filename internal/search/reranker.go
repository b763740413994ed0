package search

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"unicode/utf8"
)

// RerankStrategy selects how the reranker rescores results.
type RerankStrategy string

const (
	RerankScoreBased   RerankStrategy = "score"
	RerankCrossEncoder RerankStrategy = "cross_encoder"
	RerankHybrid       RerankStrategy = "hybrid" // mean of score-based and cross-encoder
	RerankNone         RerankStrategy = "none"
)

// ParseRerankStrategy maps a config string onto a strategy.
func ParseRerankStrategy(s string) (RerankStrategy, error) {
	switch v := RerankStrategy(strings.ToLower(strings.TrimSpace(s))); v {
	case RerankScoreBased, RerankCrossEncoder, RerankHybrid, RerankNone:
		return v, nil
	case "":
		return RerankScoreBased, nil
	default:
		return "", fmt.Errorf("unknown rerank strategy %q (valid: score, cross_encoder, hybrid, none)", s)
	}
}

// Score-based rerank weights.
const (
	rerankSemanticWeight = 0.4
	rerankKeywordWeight  = 0.3
	rerankLengthWeight   = 0.2
	rerankPositionWeight = 0.1

	// idealSnippetLength is the length in characters at or below which the
	// length score is 1.
	idealSnippetLength = 100
)

// RerankOptions controls one rerank call.
type RerankOptions struct {
	Strategy RerankStrategy

	// TopK is how many leading inputs are rescored (default: 50).
	TopK int

	// MaxResults truncates the output (default: 20, <0 keeps all).
	MaxResults int

	// MinScore drops results scoring below it.
	MinScore float64
}

// DefaultRerankOptions returns score-based reranking of the top 50 into 20.
func DefaultRerankOptions() RerankOptions {
	return RerankOptions{
		Strategy:   RerankScoreBased,
		TopK:       50,
		MaxResults: 20,
	}
}

// Reranker reorders fused results.
type Reranker struct {
	crossEncoder CrossEncoder
}

// NewReranker creates a reranker. crossEncoder may be nil when only the
// score-based strategy is used.
func NewReranker(crossEncoder CrossEncoder) *Reranker {
	return &Reranker{crossEncoder: crossEncoder}
}

// Rerank rescores the first TopK results and leaves the rest in their
// original order behind them. Every output reports
// RankDelta = originalIndex - newIndex.
//
// Rerank fails open: on error the input is returned unchanged together with
// the error.
func (r *Reranker) Rerank(ctx context.Context, query string, results []*SearchResult, opts RerankOptions) ([]*SearchResult, error) {
	if len(results) == 0 {
		return []*SearchResult{}, nil
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultRerankOptions().TopK
	}
	if opts.MaxResults == 0 {
		opts.MaxResults = DefaultRerankOptions().MaxResults
	}
	if opts.Strategy == "" {
		opts.Strategy = RerankScoreBased
	}

	out := cloneResults(results)
	origIndex := make(map[*SearchResult]int, len(out))
	for i, res := range out {
		origIndex[res] = i
	}

	head := out[:min(opts.TopK, len(out))]
	scores, err := r.scoreHead(ctx, query, head, len(out), opts.Strategy)
	if err != nil {
		slog.Warn("rerank_failed_using_input_order",
			slog.String("strategy", string(opts.Strategy)),
			slog.String("error", err.Error()))
		return results, err
	}

	if scores != nil {
		for i, res := range head {
			res.RelevanceScore = clamp01(scores[i])
			res.touch(stageRerank)
		}
		slices.SortStableFunc(head, func(a, b *SearchResult) int {
			return cmp.Compare(b.RelevanceScore, a.RelevanceScore)
		})
	}

	if opts.MinScore > 0 {
		out = slices.DeleteFunc(out, func(res *SearchResult) bool {
			return res.RelevanceScore < opts.MinScore
		})
	}
	if opts.MaxResults > 0 && len(out) > opts.MaxResults {
		out = out[:opts.MaxResults]
	}

	for i, res := range out {
		res.RankDelta = origIndex[res] - i
	}
	return out, nil
}

// scoreHead returns new scores for head, or nil to keep the current order.
func (r *Reranker) scoreHead(ctx context.Context, query string, head []*SearchResult, total int, strategy RerankStrategy) ([]float64, error) {
	switch strategy {
	case RerankNone:
		return nil, nil
	case RerankScoreBased:
		return scoreBased(head, total), nil
	case RerankCrossEncoder, RerankHybrid:
		if r.crossEncoder == nil {
			return nil, fmt.Errorf("%s rerank: cross-encoder: %w", strategy, ErrNilDependency)
		}
		docs := make([]string, len(head))
		for i, res := range head {
			docs[i] = res.Snippet
		}
		ce, err := r.crossEncoder.Score(ctx, query, docs)
		if err != nil {
			return nil, fmt.Errorf("cross-encoder scoring: %w", err)
		}
		if len(ce) != len(head) {
			return nil, fmt.Errorf("cross-encoder returned %d scores for %d documents", len(ce), len(head))
		}
		if strategy == RerankCrossEncoder {
			return ce, nil
		}
		sb := scoreBased(head, total)
		for i := range ce {
			ce[i] = (clamp01(ce[i]) + sb[i]) / 2
		}
		return ce, nil
	default:
		return nil, fmt.Errorf("unknown rerank strategy %q", strategy)
	}
}

// scoreBased computes 0.4*semantic + 0.3*keyword + 0.2*length + 0.1*position.
func scoreBased(head []*SearchResult, total int) []float64 {
	scores := make([]float64, len(head))
	for i, res := range head {
		scores[i] = rerankSemanticWeight*res.SemanticScore +
			rerankKeywordWeight*res.KeywordScore +
			rerankLengthWeight*lengthScore(utf8.RuneCountInString(res.Snippet)) +
			rerankPositionWeight*positionScore(i, total)
	}
	return scores
}

// lengthScore is 1/(1+log10(length/100)), or 1 for snippets of at most 100
// characters.
func lengthScore(length int) float64 {
	if length <= idealSnippetLength {
		return 1
	}
	return clamp01(1 / (1 + math.Log10(float64(length)/idealSnippetLength)))
}

func positionScore(index, total int) float64 {
	if total <= 0 {
		return 0
	}
	return 1 - float64(index)/float64(total)
}
