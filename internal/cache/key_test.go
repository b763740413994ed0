package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyParams_Key_IgnoresDocumentOrderAndQueryFormatting(t *testing.T) {
	// Given: the same request expressed two ways
	a := KeyParams{OwnerID: "u1", DocumentIDs: []string{"d2", "d1"}, Flags: []string{"web", "keyword"}, DocumentLimit: 5, WebLimit: 3, Query: "Machine   Learning"}
	b := KeyParams{OwnerID: "u1", DocumentIDs: []string{"d1", "d2", "d1"}, Flags: []string{"keyword", "web"}, DocumentLimit: 5, WebLimit: 3, Query: " machine learning "}

	// Then: keys and fingerprints match
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestKeyParams_Key_DiffersByScope(t *testing.T) {
	base := KeyParams{OwnerID: "u1", TopicID: "t1", Query: "q", DocumentLimit: 5, WebLimit: 3}

	variants := []KeyParams{
		{OwnerID: "u2", TopicID: "t1", Query: "q", DocumentLimit: 5, WebLimit: 3},
		{OwnerID: "u1", TopicID: "t2", Query: "q", DocumentLimit: 5, WebLimit: 3},
		{OwnerID: "u1", TopicID: "t1", Query: "q", DocumentLimit: 6, WebLimit: 3},
		{OwnerID: "u1", TopicID: "t1", Query: "q", DocumentLimit: 5, WebLimit: 3, Flags: []string{"web"}},
		{OwnerID: "u1", TopicID: "t1", Query: "q", DocumentLimit: 5, WebLimit: 3, Budget: 5800},
		{OwnerID: "u1", TopicID: "t1", Query: "q", DocumentLimit: 5, WebLimit: 3, Web: "domains=github.io"},
		{OwnerID: "u1", TopicID: "t1", Query: "other", DocumentLimit: 5, WebLimit: 3},
	}
	for _, v := range variants {
		assert.NotEqual(t, base.Key(), v.Key())
	}

	// The query alone does not change the fingerprint.
	assert.Equal(t, base.Fingerprint(), variants[6].Fingerprint())
	// Budget and web filters also split approximate lookups.
	assert.NotEqual(t, base.Fingerprint(), variants[4].Fingerprint())
	assert.NotEqual(t, base.Fingerprint(), variants[5].Fingerprint())
}

func TestNormalizeQuery_TruncatesToPrefix(t *testing.T) {
	long := strings.Repeat("ab ", 150)

	got := NormalizeQuery(long)

	assert.Len(t, []rune(got), QueryPrefixLength)
	assert.Equal(t, "hello world", NormalizeQuery("  Hello\n\tWORLD "))
}

func TestTTLFor(t *testing.T) {
	assert.Equal(t, 15*time.Minute, TTLFor(false, true))
	assert.Equal(t, 60*time.Minute, TTLFor(true, false))
	assert.Equal(t, 30*time.Minute, TTLFor(true, true))
}
