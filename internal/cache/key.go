package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"
)

// QueryPrefixLength is how many runes of the normalized query enter the key.
const QueryPrefixLength = 200

// Workload TTLs. Web results go stale fastest.
const (
	WebOnlyTTL      = 15 * time.Minute
	DocumentOnlyTTL = 60 * time.Minute
	MixedTTL        = 30 * time.Minute
)

// KeyParams holds everything that makes two requests interchangeable.
type KeyParams struct {
	OwnerID       string
	TopicID       string
	DocumentIDs   []string
	Flags         []string
	DocumentLimit int
	WebLimit      int
	// Budget is the token budget left for context. Different budgets can
	// share limits, so it is keyed separately.
	Budget int
	// Web is the normalized web filter set, empty when web search is off.
	Web   string
	Query string
}

// Fingerprint hashes every parameter except the query. Similarity lookups
// only consider entries with an equal fingerprint.
func (p KeyParams) Fingerprint() string {
	docs := slices.Clone(p.DocumentIDs)
	slices.Sort(docs)
	docs = slices.Compact(docs)

	flags := slices.Clone(p.Flags)
	slices.Sort(flags)

	var b strings.Builder
	fmt.Fprintf(&b, "owner=%s\x00topic=%s\x00docs=%s\x00flags=%s\x00limits=%d/%d\x00budget=%d\x00web=%s",
		p.OwnerID, p.TopicID, strings.Join(docs, ","), strings.Join(flags, ","),
		p.DocumentLimit, p.WebLimit, p.Budget, p.Web)
	return hashHex(b.String())
}

// Key returns the exact-match cache key.
func (p KeyParams) Key() string {
	return hashHex(p.Fingerprint() + "\x00" + NormalizeQuery(p.Query))
}

// NormalizeQuery lowercases, collapses whitespace and keeps the first
// QueryPrefixLength runes.
func NormalizeQuery(q string) string {
	q = strings.ToLower(strings.Join(strings.Fields(q), " "))
	if r := []rune(q); len(r) > QueryPrefixLength {
		q = string(r[:QueryPrefixLength])
	}
	return q
}

// TTLFor picks the TTL for a context by which sources it holds.
func TTLFor(hasDocuments, hasWeb bool) time.Duration {
	switch {
	case hasWeb && !hasDocuments:
		return WebOnlyTTL
	case hasDocuments && !hasWeb:
		return DocumentOnlyTTL
	default:
		return MixedTTL
	}
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
