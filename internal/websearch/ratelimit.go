package websearch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// RateLimitConfig holds the client-side request rate.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate limit.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// BurstSize is the maximum burst size.
	BurstSize int `yaml:"burst_size"`
}

// DefaultRateLimit stays well below common provider quotas.
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 5, BurstSize: 10}
}

// defaultBackoff applies when a 429 carries no Retry-After.
const defaultBackoff = 30 * time.Second

// RateLimiter combines a token bucket with the provider's backoff window.
// Unlike a connector sync, retrieval cannot sleep through a backoff, so
// requests inside the window fail fast as rate limited.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
	now     func() time.Time
}

// NewRateLimiter creates a limiter. A non-positive rate disables the bucket.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

// Wait blocks until the bucket has a token. It returns a RateLimited error
// while a provider backoff is active, or when the wait would outlast ctx.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if remaining := retryAt.Sub(r.now()); remaining > 0 {
		return amanerrors.RateLimited(backendName, remaining, errBackoff)
	}
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return amanerrors.RateLimited(backendName, 0, err)
	}
	return nil
}

// Backoff records a provider 429. Zero uses the default window.
func (r *RateLimiter) Backoff(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = defaultBackoff
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if until := r.now().Add(retryAfter); until.After(r.retryAt) {
		r.retryAt = until
	}
}
