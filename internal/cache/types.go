package cache

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned by backends for a missing key.
var ErrNotFound = errors.New("cache entry not found")

// Entry is one cached context plus the data needed to find and expire it.
type Entry struct {
	Key         string          `json:"key"`
	Fingerprint string          `json:"fingerprint"`
	Value       json.RawMessage `json:"value"`
	Embedding   []float32       `json:"embedding,omitempty"`
	OwnerID     string          `json:"owner_id,omitempty"`
	TopicID     string          `json:"topic_id,omitempty"`
	DocumentIDs []string        `json:"document_ids,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	TTL         time.Duration   `json:"ttl"`
}

// ExpiresAt returns the expiry instant, or the zero time for entries without a TTL.
func (e *Entry) ExpiresAt() time.Time {
	if e.TTL <= 0 {
		return time.Time{}
	}
	return e.CreatedAt.Add(e.TTL)
}

// Expired reports whether the entry is past its TTL at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.CreatedAt.Add(e.TTL))
}

// Scope selects entries for invalidation. Every non-empty field must match.
type Scope struct {
	OwnerID    string
	TopicID    string
	DocumentID string
}

// IsEmpty reports whether the scope selects everything.
func (s Scope) IsEmpty() bool {
	return s.OwnerID == "" && s.TopicID == "" && s.DocumentID == ""
}

func (s Scope) matches(e *Entry) bool {
	if s.OwnerID != "" && e.OwnerID != s.OwnerID {
		return false
	}
	if s.TopicID != "" && e.TopicID != s.TopicID {
		return false
	}
	if s.DocumentID != "" && !slices.Contains(e.DocumentIDs, s.DocumentID) {
		return false
	}
	return true
}

// Backend is the storage behind a SimilarityCache.
type Backend interface {
	// Get returns the entry for key or ErrNotFound.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores e, replacing any entry with the same key, and reports how
	// many entries were evicted to make room.
	Set(ctx context.Context, e *Entry) (evicted int, err error)

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Scan visits up to limit entries, newest first where the backend
	// tracks order. limit <= 0 visits everything. fn returns false to stop.
	Scan(ctx context.Context, limit int, fn func(*Entry) bool) error

	// Len returns the number of stored entries.
	Len() int

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Close releases resources.
	Close() error
}
