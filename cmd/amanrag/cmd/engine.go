package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/amanrag/internal/cache"
	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/corpus"
	"github.com/Aman-CERP/amanrag/internal/embed"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/ingest"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
	"github.com/Aman-CERP/amanrag/internal/websearch"
)

// dataPaths locates the files under the data directory.
type dataPaths struct {
	dir string
}

func (p dataPaths) corpus() string    { return filepath.Join(p.dir, "corpus.db") }
func (p dataPaths) vectors() string   { return filepath.Join(p.dir, "vectors.hnsw") }
func (p dataPaths) cache() string     { return filepath.Join(p.dir, "cache") }
func (p dataPaths) telemetry() string { return filepath.Join(p.dir, "telemetry.db") }

// engine is a retriever wired from configuration plus the resources the
// retriever does not own.
type engine struct {
	retriever *search.Retriever
	unowned   []io.Closer
}

// Close closes the retriever, which flushes telemetry, then the rest.
func (e *engine) Close() error {
	err := e.retriever.Close()
	for _, c := range e.unowned {
		err = errors.Join(err, c.Close())
	}
	return err
}

// openEngine wires every configured backend around the local corpus.
func openEngine(ctx context.Context, cfg *config.Config) (eng *engine, err error) {
	paths := dataPaths{dir: cfg.Paths.DataDir}
	if _, statErr := os.Stat(paths.corpus()); statErr != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeCorpusUnavailable,
			"no corpus found in "+paths.dir, statErr).
			WithSuggestion("Run 'amanrag import <file.jsonl>' first")
	}

	rc, err := cfg.ToRetrieverConfig()
	if err != nil {
		return nil, err
	}

	// Released in reverse order when wiring fails part way.
	var closers []io.Closer
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i].Close()
			}
		}
	}()

	docs, err := corpus.Open(paths.corpus())
	if err != nil {
		return nil, err
	}
	closers = append(closers, docs)

	keyword, err := openKeywordIndex(ctx, cfg, docs)
	if err != nil {
		return nil, err
	}
	closers = append(closers, keyword)

	opts := []search.RetrieverOption{
		search.WithCorpus(docs),
		search.WithTokenCounter(search.NewTokenCounter(cfg.Search.TokenEncoding)),
	}
	var unowned []io.Closer

	embedOpts, err := cfg.EmbedOptions()
	if err != nil {
		return nil, amanerrors.ConfigError("invalid embeddings provider", err)
	}
	embedder, err := embed.NewEmbedder(ctx, embedOpts)
	if err != nil {
		return nil, err
	}
	closers = append(closers, embedder)

	vectors, err := openVectors(ctx, paths.vectors(), docs, embedder)
	if err != nil {
		return nil, err
	}
	if vectors != nil && vectors.Count() > 0 {
		closers = append(closers, vectors)
		opts = append(opts, search.WithVectorStore(vectors, embedder))
	} else {
		if vectors != nil {
			_ = vectors.Close()
		}
		slog.Info("semantic_search_disabled", slog.String("reason", "no usable vector index"))
		unowned = append(unowned, embedder)
	}

	if cfg.Backends.Web.Enabled {
		web, err := websearch.New(cfg.WebSearchConfig())
		if err != nil {
			return nil, err
		}
		closers = append(closers, web)
		opts = append(opts, search.WithWebSearcher(web))
	}

	if cfg.Cache.Enabled {
		c, err := openCache(cfg, paths)
		if err != nil {
			return nil, err
		}
		closers = append(closers, c)
		opts = append(opts, search.WithCache(c))
	}

	switch search.RerankStrategy(cfg.Search.Rerank.Strategy) {
	case search.RerankCrossEncoder, search.RerankHybrid:
		ce, ceErr := search.NewHTTPCrossEncoder(ctx, search.HTTPCrossEncoderConfig{
			Endpoint: cfg.Backends.CrossEncoder.Endpoint,
			Model:    cfg.Backends.CrossEncoder.Model,
		})
		if ceErr != nil {
			slog.Warn("cross_encoder_unavailable",
				slog.String("endpoint", cfg.Backends.CrossEncoder.Endpoint),
				slog.String("error", ceErr.Error()))
			break
		}
		closers = append(closers, ce)
		opts = append(opts, search.WithCrossEncoder(ce))
	}

	metricsStore, err := telemetry.OpenSQLiteMetricsStore(paths.telemetry())
	if err != nil {
		return nil, err
	}
	closers = append(closers, metricsStore)
	unowned = append(unowned, metricsStore)
	metrics := telemetry.New(metricsStore, telemetry.DefaultConfig())
	closers = append(closers, metrics)
	opts = append(opts, search.WithTelemetry(metrics))

	r, err := search.NewRetriever(keyword, rc, opts...)
	if err != nil {
		return nil, err
	}
	return &engine{retriever: r, unowned: unowned}, nil
}

// openKeywordIndex opens the configured keyword backend. The in-memory
// index is rebuilt from the corpus on every start.
func openKeywordIndex(ctx context.Context, cfg *config.Config, docs ingest.Corpus) (store.KeywordIndex, error) {
	idx, err := store.NewKeywordIndex(cfg.Paths.DataDir, cfg.BM25Config(), cfg.Search.KeywordBackend)
	if err != nil {
		return nil, amanerrors.ConfigError("failed to open keyword index", err)
	}
	if store.Persistent(idx) {
		return idx, nil
	}

	kw, err := ingest.NewKeywordIndexer(idx)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	n, err := ingest.Rebuild(ctx, docs, kw)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	slog.Debug("keyword_index_rebuilt", slog.Int("chunks", n))
	return idx, nil
}

// openVectors loads the persisted HNSW graph, rebuilding it from stored
// embeddings when the file is missing. It returns nil when the corpus was
// embedded by a different model than embedder.
func openVectors(ctx context.Context, path string, docs ingest.Corpus, embedder embed.Embedder) (*store.HNSWStore, error) {
	model, err := docs.GetState(ctx, corpus.StateKeyEmbeddingModel)
	if err != nil && !errors.Is(err, corpus.ErrNotFound) {
		return nil, err
	}
	if model != "" && model != embedder.ModelName() {
		slog.Warn("embedding_model_mismatch",
			slog.String("corpus_model", model),
			slog.String("embedder_model", embedder.ModelName()))
		return nil, nil
	}

	vs, err := store.LoadHNSWStore(path)
	switch {
	case err == nil && vs.Dimensions() == embedder.Dimensions():
		return vs, nil
	case err == nil:
		slog.Warn("vector_dimension_mismatch",
			slog.Int("index", vs.Dimensions()),
			slog.Int("embedder", embedder.Dimensions()))
		_ = vs.Close()
		return nil, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, amanerrors.New(amanerrors.ErrCodeCorruptIndex, "failed to load vector index", err).
			WithSuggestion("Delete " + path + " to rebuild it from the corpus")
	}

	vs, err = store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		return nil, err
	}
	if model == "" {
		return vs, nil
	}

	vi, err := ingest.NewVectorIndexer(ingest.WithEmbedder(embedder), ingest.WithVectorStore(vs))
	if err != nil {
		_ = vs.Close()
		return nil, err
	}
	n, err := ingest.Rebuild(ctx, docs, vi)
	if err != nil {
		_ = vs.Close()
		return nil, err
	}
	slog.Info("vector_index_rebuilt", slog.Int("chunks", n))
	if err := vs.Save(path); err != nil {
		slog.Warn("vector_index_save_failed", slog.String("error", err.Error()))
	}
	return vs, nil
}

// openCache opens the configured similarity cache backend.
func openCache(cfg *config.Config, paths dataPaths) (*cache.SimilarityCache, error) {
	var (
		backend cache.Backend
		err     error
	)
	switch cfg.Cache.Backend {
	case "badger":
		backend, err = cache.OpenBadger(paths.cache(), cfg.Cache.MaxEntries)
	default:
		backend, err = cache.NewMemoryBackend(cfg.Cache.MaxEntries)
	}
	if err != nil {
		return nil, amanerrors.CacheError("open", err)
	}

	c, err := cache.New(backend, cfg.CacheSettings())
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return c, nil
}

// describeCorpus summarizes the corpus for status lines.
func describeCorpus(s corpus.Stats) string {
	if s.EmbeddingModel == "" {
		return fmt.Sprintf("%d documents, %d chunks (keyword only)", s.Documents, s.Chunks)
	}
	return fmt.Sprintf("%d documents, %d chunks, %d embedded with %s",
		s.Documents, s.Chunks, s.EmbeddedChunks, s.EmbeddingModel)
}
