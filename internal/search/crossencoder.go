package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Cross-encoder client defaults
const (
	DefaultCrossEncoderEndpoint = "http://localhost:9659"
	DefaultCrossEncoderModel    = "reranker-small"
	DefaultCrossEncoderTimeout  = 10 * time.Second
)

// CrossEncoder scores query-document pairs jointly. Scores are returned in
// input order and are expected in [0,1].
type CrossEncoder interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
}

// HTTPCrossEncoderConfig configures the HTTP cross-encoder client.
type HTTPCrossEncoderConfig struct {
	// Endpoint is the rerank server URL (default: http://localhost:9659)
	Endpoint string

	// Model is the reranker model alias (default: reranker-small)
	Model string

	// Timeout is the request timeout (default: 10s)
	Timeout time.Duration

	// Instruction is an optional task instruction forwarded to the model.
	Instruction string

	// SkipHealthCheck skips the startup health check (for testing)
	SkipHealthCheck bool
}

// HTTPCrossEncoder calls a /rerank endpoint that returns one score per document.
type HTTPCrossEncoder struct {
	client *http.Client
	config HTTPCrossEncoderConfig

	mu     sync.RWMutex
	closed bool
}

var _ CrossEncoder = (*HTTPCrossEncoder)(nil)

// NewHTTPCrossEncoder creates the client and, unless skipped, checks /health.
func NewHTTPCrossEncoder(ctx context.Context, cfg HTTPCrossEncoderConfig) (*HTTPCrossEncoder, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultCrossEncoderEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultCrossEncoderModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCrossEncoderTimeout
	}

	c := &HTTPCrossEncoder{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config: cfg,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.healthCheck(checkCtx); err != nil {
			return nil, fmt.Errorf("cross-encoder health check failed: %w", err)
		}
	}

	slog.Debug("cross_encoder_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout))

	return c, nil
}

func (c *HTTPCrossEncoder) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return amanerrors.Classify("cross_encoder", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ae := amanerrors.FromHTTPStatus("cross_encoder", resp.StatusCode, 0); ae != nil {
		return ae
	}
	return nil
}

type rerankRequest struct {
	Query       string   `json:"query"`
	Documents   []string `json:"documents"`
	Model       string   `json:"model,omitempty"`
	Instruction string   `json:"instruction,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// Score sends one /rerank request. Documents the server omits score zero.
func (c *HTTPCrossEncoder) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("cross-encoder is closed")
	}
	if len(documents) == 0 {
		return []float64{}, nil
	}

	start := time.Now()
	body, err := json.Marshal(rerankRequest{
		Query:       query,
		Documents:   documents,
		Model:       c.config.Model,
		Instruction: c.config.Instruction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.config.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, amanerrors.Classify("cross_encoder", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if ae := amanerrors.FromHTTPStatus("cross_encoder", resp.StatusCode, 0); ae != nil {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, ae.WithDetail("body", strings.TrimSpace(string(msg)))
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	scores := make([]float64, len(documents))
	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(scores) {
			return nil, fmt.Errorf("rerank response index %d out of range", r.Index)
		}
		scores[r.Index] = r.Score
	}

	slog.Debug("cross_encoder_scored",
		slog.Int("doc_count", len(documents)),
		slog.Int("payload_bytes", len(body)),
		slog.Duration("total", time.Since(start)),
		slog.Float64("server_time_ms", out.ProcessingTimeMs))

	return scores, nil
}

// Close releases idle connections.
func (c *HTTPCrossEncoder) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if transport, ok := c.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
