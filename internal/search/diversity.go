package search

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// DefaultLambda balances relevance (1) against novelty (0) in MMR.
const DefaultLambda = 0.7

// SimilarityMethod selects the pairwise similarity used for diversity and
// near-duplicate detection.
type SimilarityMethod string

const (
	SimilarityJaccard SimilarityMethod = "jaccard"
	SimilarityCosine  SimilarityMethod = "cosine"
)

// ParseSimilarityMethod maps a config string onto a similarity method.
func ParseSimilarityMethod(s string) (SimilarityMethod, error) {
	switch SimilarityMethod(strings.ToLower(strings.TrimSpace(s))) {
	case SimilarityJaccard, "":
		return SimilarityJaccard, nil
	case SimilarityCosine:
		return SimilarityCosine, nil
	default:
		return "", fmt.Errorf("unknown similarity method %q (valid: jaccard, cosine)", s)
	}
}

// SimilarityFunc returns the similarity of two results in [0,1].
type SimilarityFunc func(a, b *SearchResult) float64

// Func returns the similarity function for the method.
func (m SimilarityMethod) Func() SimilarityFunc {
	if m == SimilarityCosine {
		return CosineEmbeddingSimilarity
	}
	return JaccardSimilarity
}

// JaccardSimilarity compares the token sets of title and snippet.
func JaccardSimilarity(a, b *SearchResult) float64 {
	return jaccard(tokenSet(a.Title+" "+a.Snippet), tokenSet(b.Title+" "+b.Snippet))
}

// CosineEmbeddingSimilarity compares result embeddings and falls back to
// Jaccard when either result has none.
func CosineEmbeddingSimilarity(a, b *SearchResult) float64 {
	if len(a.Embedding) == 0 || len(a.Embedding) != len(b.Embedding) {
		return JaccardSimilarity(a, b)
	}
	return clamp01(embed.CosineSimilarity(a.Embedding, b.Embedding))
}

func tokenSet(text string) map[string]struct{} {
	tokens := store.Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Diversify selects up to maxResults results by greedy Maximal Marginal
// Relevance: lambda*relevance(c) - (1-lambda)*max sim(c, selected). The first
// pick is always the most relevant result; equal MMR scores go to the earlier
// input. A nil sim uses JaccardSimilarity. The inputs are not modified.
func Diversify(results []*SearchResult, lambda float64, maxResults int, sim SimilarityFunc) []*SearchResult {
	if len(results) == 0 {
		return []*SearchResult{}
	}
	if sim == nil {
		sim = JaccardSimilarity
	}
	lambda = clamp01(lambda)
	if maxResults <= 0 || maxResults > len(results) {
		maxResults = len(results)
	}

	candidates := cloneResults(results)
	// maxSim[i] is candidate i's highest similarity to anything selected.
	maxSim := make([]float64, len(candidates))
	picked := make([]bool, len(candidates))
	selected := make([]*SearchResult, 0, maxResults)

	for len(selected) < maxResults {
		best := -1
		bestScore := 0.0
		for i, c := range candidates {
			if picked[i] {
				continue
			}
			score := lambda*c.RelevanceScore - (1-lambda)*maxSim[i]
			if len(selected) == 0 {
				score = c.RelevanceScore
			}
			if best < 0 || score > bestScore {
				best, bestScore = i, score
			}
		}

		chosen := candidates[best]
		picked[best] = true
		if len(selected) > 0 && lambda < 1 {
			chosen.touch(stageDiversity)
		}
		selected = append(selected, chosen)

		if lambda == 1 {
			continue
		}
		for i, c := range candidates {
			if !picked[i] {
				maxSim[i] = max(maxSim[i], sim(c, chosen))
			}
		}
	}
	return selected
}

// DiversityScore is 1 - mean pairwise similarity. Fewer than two results
// score 1.
func DiversityScore(results []*SearchResult, sim SimilarityFunc) float64 {
	if len(results) < 2 {
		return 1
	}
	if sim == nil {
		sim = JaccardSimilarity
	}
	var sum float64
	pairs := 0
	for i := range results {
		for j := i + 1; j < len(results); j++ {
			sum += sim(results[i], results[j])
			pairs++
		}
	}
	return 1 - sum/float64(pairs)
}
