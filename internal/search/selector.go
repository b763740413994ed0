package search

import (
	"cmp"
	"slices"
)

// DefaultMinTruncateTokens is the smallest space worth filling with a
// truncated snippet.
const DefaultMinTruncateTokens = 50

// SelectOptions configures the adaptive context selector.
type SelectOptions struct {
	// MinTruncateTokens is the least remaining budget for which an oversized
	// result is truncated instead of skipped (default: 50, <0 never truncates).
	MinTruncateTokens int
}

// SelectContext packs the prioritized results of rc into the token budget.
// Candidates from both sources are taken greedily by priority while each
// source stays within its limit. A result that does not fit is truncated
// when enough budget remains, otherwise skipped. The returned context
// satisfies TokenUsage.Document + TokenUsage.Web <= budget.RemainingForContext.
func SelectContext(rc *RAGContext, limits Limits, budget TokenBudget, counter TokenCounter, opts SelectOptions) *RAGContext {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	if opts.MinTruncateTokens == 0 {
		opts.MinTruncateTokens = DefaultMinTruncateTokens
	}

	out := *rc
	out.DocumentResults = []*SearchResult{}
	out.WebResults = []*SearchResult{}
	usage := TokenUsage{Budget: budget.RemainingForContext}

	candidates := make([]*SearchResult, 0, len(rc.DocumentResults)+len(rc.WebResults))
	candidates = append(candidates, rc.DocumentResults...)
	candidates = append(candidates, rc.WebResults...)
	// Stable, so documents win priority ties and each list keeps its order.
	slices.SortStableFunc(candidates, func(a, b *SearchResult) int {
		return cmp.Compare(b.PriorityScore, a.PriorityScore)
	})

	for _, c := range candidates {
		remaining := budget.RemainingForContext - usage.Total
		if remaining <= 0 {
			break
		}
		isWeb := c.SourceType == SourceWeb
		if isWeb && len(out.WebResults) >= limits.WebResults {
			continue
		}
		if !isWeb && len(out.DocumentResults) >= limits.DocumentChunks {
			continue
		}

		r := c.clone()
		tokens := counter.Count(r.Snippet)
		if tokens > remaining {
			if opts.MinTruncateTokens < 0 || remaining < opts.MinTruncateTokens {
				continue
			}
			r.Snippet = truncateToTokens(r.Snippet, remaining, counter)
			tokens = counter.Count(r.Snippet)
			if r.Snippet == "" || tokens > remaining {
				continue
			}
			r.touch(stageTruncate)
		}
		r.TokenCount = tokens

		if isWeb {
			out.WebResults = append(out.WebResults, r)
			usage.Web += tokens
		} else {
			out.DocumentResults = append(out.DocumentResults, r)
			usage.Document += tokens
		}
		usage.Total = usage.Document + usage.Web
	}

	out.TokenUsage = usage
	out.Limits = limits
	return &out
}
