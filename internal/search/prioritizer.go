package search

import (
	"cmp"
	"fmt"
	"math"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrag/internal/corpus"
)

// Priority presets.
const (
	PresetDocumentsFirst = "documents-first"
	PresetWebFirst       = "web-first"
	PresetBalanced       = "balanced"
	PresetAuthorityFirst = "authority-first"
	PresetRecentFirst    = "recent-first"
)

// Default authority values.
const (
	DefaultDocumentAuthority = 0.9
	DefaultWebAuthority      = 0.5
	UnknownFreshness         = 0.5
	DefaultMinWeight         = 0.3
)

// PriorityRules weight the signals that order evidence across sources.
type PriorityRules struct {
	Name string

	RelevanceWeight float64
	AuthorityWeight float64
	FreshnessWeight float64

	// DocumentWeight and WebWeight scale the final priority per source.
	DocumentWeight float64
	WebWeight      float64

	// FreshnessHalfLife is the age at which freshness halves.
	FreshnessHalfLife time.Duration

	// FreshnessBoost is added when freshness >= 0.8; AuthorityBoost when
	// authority >= AuthorityThreshold.
	FreshnessBoost     float64
	AuthorityBoost     float64
	AuthorityThreshold float64

	// MinWeight floors the formatting weight.
	MinWeight float64
}

// PresetRules returns the named preset. An empty name means balanced.
func PresetRules(name string) (PriorityRules, error) {
	r := PriorityRules{
		Name:               PresetBalanced,
		RelevanceWeight:    0.6,
		AuthorityWeight:    0.2,
		FreshnessWeight:    0.2,
		DocumentWeight:     1.0,
		WebWeight:          1.0,
		FreshnessHalfLife:  30 * 24 * time.Hour,
		FreshnessBoost:     0.05,
		AuthorityBoost:     0.05,
		AuthorityThreshold: 0.8,
		MinWeight:          DefaultMinWeight,
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case PresetBalanced, "":
	case PresetDocumentsFirst:
		r.Name = PresetDocumentsFirst
		r.WebWeight = 0.6
	case PresetWebFirst:
		r.Name = PresetWebFirst
		r.DocumentWeight = 0.6
		r.RelevanceWeight, r.FreshnessWeight = 0.5, 0.3
	case PresetAuthorityFirst:
		r.Name = PresetAuthorityFirst
		r.RelevanceWeight, r.AuthorityWeight, r.FreshnessWeight = 0.4, 0.5, 0.1
		r.AuthorityBoost = 0.1
		r.AuthorityThreshold = 0.7
	case PresetRecentFirst:
		r.Name = PresetRecentFirst
		r.RelevanceWeight, r.AuthorityWeight, r.FreshnessWeight = 0.4, 0.1, 0.5
		r.FreshnessHalfLife = 7 * 24 * time.Hour
		r.FreshnessBoost = 0.1
	default:
		return PriorityRules{}, fmt.Errorf("unknown priority preset %q (valid: %s)", name,
			strings.Join([]string{PresetDocumentsFirst, PresetWebFirst, PresetBalanced, PresetAuthorityFirst, PresetRecentFirst}, ", "))
	}
	return r, nil
}

// domainAuthority maps registrable domains to an authority score.
var domainAuthority = map[string]float64{
	"nature.com":        0.95,
	"science.org":       0.95,
	"arxiv.org":         0.9,
	"acm.org":           0.9,
	"ieee.org":          0.9,
	"who.int":           0.9,
	"wikipedia.org":     0.85,
	"reuters.com":       0.85,
	"apnews.com":        0.85,
	"bbc.co.uk":         0.8,
	"nytimes.com":       0.8,
	"go.dev":            0.85,
	"github.com":        0.75,
	"stackoverflow.com": 0.75,
	"medium.com":        0.5,
	"reddit.com":        0.4,
	"quora.com":         0.35,
}

// suffixAuthority applies when no domain entry matches.
var suffixAuthority = []struct {
	suffix string
	score  float64
}{
	{".gov", 0.95},
	{".edu", 0.9},
	{".int", 0.9},
	{".mil", 0.9},
}

// DomainAuthority scores a web URL by its host. Subdomains inherit the
// score of the closest listed parent domain.
func DomainAuthority(rawURL string) float64 {
	host := hostOf(rawURL)
	if host == "" {
		return DefaultWebAuthority
	}
	for h := host; h != ""; {
		if score, ok := domainAuthority[h]; ok {
			return score
		}
		i := strings.IndexByte(h, '.')
		if i < 0 {
			break
		}
		h = h[i+1:]
	}
	dotted := "." + host
	for _, s := range suffixAuthority {
		if strings.HasSuffix(dotted, s.suffix) || strings.Contains(dotted, s.suffix+".") {
			return s.score
		}
	}
	return DefaultWebAuthority
}

func hostOf(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Freshness decays exponentially with age: 0.5^(age/halfLife). Unknown
// dates score UnknownFreshness and future dates score 1.
func Freshness(published, now time.Time, halfLife time.Duration) float64 {
	if published.IsZero() || halfLife <= 0 {
		return UnknownFreshness
	}
	age := now.Sub(published)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// ApplyDocumentMetadata refines document results from corpus metadata:
// titles and publication dates are filled in, and authority starts at
// DefaultDocumentAuthority with a small bonus for attributed documents.
func ApplyDocumentMetadata(results []*SearchResult, docs map[string]*corpus.Document) {
	for _, r := range results {
		doc, ok := docs[r.DocumentID]
		if !ok {
			continue
		}
		if r.Title == "" {
			r.Title = doc.Title
		}
		if r.URL == "" {
			r.URL = doc.URL
		}
		r.PublishedAt = doc.PublishedAt
		if r.PublishedAt.IsZero() {
			r.PublishedAt = doc.UpdatedAt
		}
		authority := DefaultDocumentAuthority
		if doc.Author != "" {
			authority += 0.05
		}
		r.AuthorityScore = clamp01(authority)
		if doc.FileType != "" {
			if r.Metadata == nil {
				r.Metadata = make(map[string]string)
			}
			r.Metadata["file_type"] = doc.FileType
		}
	}
}

// Prioritize scores every result of rc and returns a new context whose
// result lists are ordered by priority. Weight = priority / max priority
// across both lists, floored at rules.MinWeight.
func Prioritize(rc *RAGContext, rules PriorityRules, now time.Time) *RAGContext {
	out := *rc
	out.DocumentResults = cloneResults(rc.DocumentResults)
	out.WebResults = cloneResults(rc.WebResults)

	var maxPriority float64
	score := func(results []*SearchResult, balance float64) {
		for _, r := range results {
			if r.AuthorityScore == 0 {
				if r.SourceType == SourceWeb {
					r.AuthorityScore = DomainAuthority(r.URL)
				} else {
					r.AuthorityScore = DefaultDocumentAuthority
				}
			}
			r.FreshnessScore = Freshness(r.PublishedAt, now, rules.FreshnessHalfLife)

			p := rules.RelevanceWeight*r.RelevanceScore +
				rules.AuthorityWeight*r.AuthorityScore +
				rules.FreshnessWeight*r.FreshnessScore
			if r.FreshnessScore >= 0.8 {
				p += rules.FreshnessBoost
			}
			if r.AuthorityScore >= rules.AuthorityThreshold {
				p += rules.AuthorityBoost
			}
			r.PriorityScore = p * balance
			r.touch(stagePriority)
			maxPriority = max(maxPriority, r.PriorityScore)
		}
	}
	score(out.DocumentResults, rules.DocumentWeight)
	score(out.WebResults, rules.WebWeight)

	minWeight := rules.MinWeight
	if minWeight <= 0 {
		minWeight = DefaultMinWeight
	}
	for _, results := range [][]*SearchResult{out.DocumentResults, out.WebResults} {
		for _, r := range results {
			r.Weight = 1
			if maxPriority > 0 {
				r.Weight = max(r.PriorityScore/maxPriority, minWeight)
			}
		}
		slices.SortStableFunc(results, byPriority)
	}
	return &out
}

func byPriority(a, b *SearchResult) int {
	return cmp.Compare(b.PriorityScore, a.PriorityScore)
}
