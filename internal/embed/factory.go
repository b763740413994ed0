package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ProviderType names an embedding provider.
type ProviderType string

const (
	// ProviderOllama uses the Ollama HTTP API.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings.
	ProviderStatic ProviderType = "static"
)

// Options selects and configures an embedder.
type Options struct {
	Provider  ProviderType
	Ollama    OllamaConfig
	CacheSize int // <0 disables the query cache

	// Fallback allows switching to the static embedder when Ollama is
	// unreachable at startup.
	Fallback bool
}

// ParseProvider maps a config string onto a provider.
func ParseProvider(s string) (ProviderType, error) {
	switch ProviderType(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderOllama:
		return ProviderOllama, nil
	case ProviderStatic, "":
		return ProviderStatic, nil
	default:
		return "", fmt.Errorf("unknown embedding provider %q (valid: ollama, static)", s)
	}
}

// NewEmbedder builds the configured embedder wrapped in a query cache.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	var embedder Embedder

	switch opts.Provider {
	case ProviderOllama:
		ollama, err := NewOllamaEmbedder(ctx, opts.Ollama)
		switch {
		case err == nil:
			embedder = ollama
		case opts.Fallback:
			slog.Warn("ollama_unavailable_using_static",
				slog.String("host", opts.Ollama.Host),
				slog.String("error", err.Error()))
			embedder = NewStaticEmbedderWithDimensions(opts.Ollama.Dimensions)
		default:
			return nil, err
		}
	case ProviderStatic, "":
		embedder = NewStaticEmbedder()
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", opts.Provider)
	}

	if opts.CacheSize < 0 {
		return embedder, nil
	}
	return NewCachedEmbedder(embedder, opts.CacheSize), nil
}
