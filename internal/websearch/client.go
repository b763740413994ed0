// Package websearch is an HTTP JSON client for a live web-search provider.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/search"
)

const backendName = "web"

const (
	// DefaultEndpoint is the provider search API.
	DefaultEndpoint = "https://api.tavily.com/search"

	// DefaultMaxResults is requested when filters leave it unset.
	DefaultMaxResults = 10

	// DefaultTimeout bounds one HTTP request.
	DefaultTimeout = 8 * time.Second

	poolSize = 4
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("web search client is closed")

	// ErrNoAPIKey is returned when the client is built without a key.
	ErrNoAPIKey = errors.New("web search API key is required")

	errBackoff = errors.New("provider backoff in effect")
)

// Config configures the web search client.
type Config struct {
	Endpoint   string
	APIKey     string
	MaxResults int
	Timeout    time.Duration
	RateLimit  RateLimitConfig
	Retry      amanerrors.RetryConfig

	// HTTPClient overrides the pooled client (tests).
	HTTPClient *http.Client
}

type searchRequest struct {
	Query          string   `json:"query"`
	MaxResults     int      `json:"max_results"`
	Topic          string   `json:"topic,omitempty"`
	TimeRange      string   `json:"time_range,omitempty"`
	Country        string   `json:"country,omitempty"`
	IncludeDomains []string `json:"include_domains,omitempty"`
}

type searchResponse struct {
	Results []struct {
		URL           string  `json:"url"`
		Title         string  `json:"title"`
		Content       string  `json:"content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"published_date"`
	} `json:"results"`
}

// Client queries the provider. It is safe for concurrent use.
type Client struct {
	http    *http.Client
	limiter *RateLimiter
	config  Config

	mu     sync.RWMutex
	closed bool
}

var _ search.WebSearcher = (*Client)(nil)

// New creates a client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, amanerrors.ConfigError("web search is enabled but no API key is set", ErrNoAPIKey).
			WithSuggestion("Set AMANRAG_WEB_API_KEY or disable web search")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = amanerrors.DefaultRetryConfig()
	}
	// A 429 opens a backoff window; retrying inside it only burns quota.
	cfg.Retry.RetryIf = func(err error) bool {
		return amanerrors.IsRetryable(err) && !errors.Is(err, amanerrors.ErrRateLimited)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: &http.Transport{
			MaxIdleConns:        poolSize,
			MaxIdleConnsPerHost: poolSize,
			IdleConnTimeout:     30 * time.Second,
		}}
	}

	return &Client{
		http:    client,
		limiter: NewRateLimiter(cfg.RateLimit),
		config:  cfg,
	}, nil
}

// Search runs one web search and returns results in provider order.
func (c *Client) Search(ctx context.Context, query string, filters search.WebFilters) ([]*search.SearchResult, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	req := searchRequest{
		Query:          query,
		MaxResults:     c.config.MaxResults,
		Topic:          filters.Topic,
		TimeRange:      filters.TimeRange,
		Country:        filters.Country,
		IncludeDomains: filters.Domains,
	}
	if filters.MaxResults > 0 {
		req.MaxResults = filters.MaxResults
	}

	start := time.Now()
	resp, err := amanerrors.RetryWithResult(ctx, c.config.Retry, func() (*searchResponse, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
		return c.post(reqCtx, req)
	})
	if err != nil {
		return nil, err
	}

	results := make([]*search.SearchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.URL == "" {
			continue
		}
		res := &search.SearchResult{
			SourceType:     search.SourceWeb,
			ID:             r.URL,
			URL:            r.URL,
			Title:          r.Title,
			Snippet:        r.Content,
			RelevanceScore: r.Score,
		}
		if t, ok := parsePublished(r.PublishedDate); ok {
			res.PublishedAt = t
		}
		results = append(results, res)
	}

	slog.Debug("web_search",
		slog.Int("results", len(results)),
		slog.Duration("latency", time.Since(start)))
	return results, nil
}

func (c *Client) post(ctx context.Context, body searchRequest) (*searchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, amanerrors.Classify(backendName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
	if ae := amanerrors.FromHTTPStatus(backendName, resp.StatusCode, retryAfter); ae != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			c.limiter.Backoff(retryAfter)
		}
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, ae.WithDetail("body", strings.TrimSpace(string(msg)))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, amanerrors.BackendUnavailable(backendName, fmt.Errorf("failed to decode response: %w", err))
	}
	return &out, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.http.CloseIdleConnections()
	return nil
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}

func parsePublished(v string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, time.RFC1123, time.RFC1123Z, "2006-01-02"} {
		if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
