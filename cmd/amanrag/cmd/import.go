package cmd

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/cache"
	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/corpus"
	"github.com/Aman-CERP/amanrag/internal/embed"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/ingest"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/watcher"
)

// importOptions holds CLI flags for import.
type importOptions struct {
	noEmbed   bool
	batchSize int
	watch     bool
}

func newImportCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import <file.jsonl|->",
		Short: "Import pre-chunked documents into the corpus",
		Long: `Import documents into the local corpus and build the search indexes.

Each input line is one JSON document with its chunks:

  {"id":"doc-1","owner_id":"acme","topic_id":"finance","title":"Q3 report",
   "author":"CFO","url":"https://...","file_type":"pdf",
   "published_at":"2026-09-30T00:00:00Z",
   "chunks":[{"content":"..."},{"id":"doc-1#intro","content":"..."}]}

Re-importing a document replaces its chunks. Chunks are embedded with the
configured embedder unless --no-embed is set. The similarity cache is
cleared afterwards because cached contexts no longer reflect the corpus.

With --watch the file is imported again every time it changes, until
interrupted.`,
		Example: `  amanrag import corpus.jsonl
  cat export.jsonl | amanrag import -
  amanrag import corpus.jsonl --no-embed
  amanrag import exports/nightly.jsonl --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !opts.watch {
				return runImport(ctx, cmd, args[0], opts)
			}
			if args[0] == "-" {
				return fmt.Errorf("--watch needs a file, not stdin")
			}
			if err := runImport(ctx, cmd, args[0], opts); err != nil {
				return err
			}
			return watchImport(ctx, cmd, args[0], opts, watcher.DefaultOptions())
		},
	}

	cmd.Flags().BoolVar(&opts.noEmbed, "no-embed", false, "Skip embeddings (keyword search only)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", embed.DefaultBatchSize, "Chunks per embedding request")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Re-import whenever the file changes")

	return cmd
}

func runImport(ctx context.Context, cmd *cobra.Command, source string, opts importOptions) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	paths := dataPaths{dir: cfg.Paths.DataDir}
	if err := os.MkdirAll(paths.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	lock := corpus.NewWriteLock(paths.dir)
	locked, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		return amanerrors.New(amanerrors.ErrCodeIndexLocked, "another import is running", nil).
			WithDetail("lock", lock.Path()).
			WithSuggestion("Wait for it to finish and retry")
	}
	defer func() { _ = lock.Unlock() }()

	in, total, err := openImportSource(cmd, source)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	docs, err := corpus.Open(paths.corpus())
	if err != nil {
		return err
	}
	defer func() { _ = docs.Close() }()

	keywordIdx, err := store.NewKeywordIndex(paths.dir, cfg.BM25Config(), cfg.Search.KeywordBackend)
	if err != nil {
		return amanerrors.ConfigError("failed to open keyword index", err)
	}
	defer func() { _ = keywordIdx.Close() }()
	kw, err := ingest.NewKeywordIndexer(keywordIdx)
	if err != nil {
		return err
	}

	hybridOpts := []ingest.HybridOption{ingest.WithKeyword(kw)}
	importerOpts := []ingest.ImporterOption{
		ingest.WithTokenCounter(search.NewTokenCounter(cfg.Search.TokenEncoding).Count),
		ingest.WithProgress(func(p ingest.Progress) {
			if total > 0 {
				out.Progress(p.Documents, total, p.Current)
			}
		}),
	}

	var vectors *store.HNSWStore
	if !opts.noEmbed {
		embedOpts, err := cfg.EmbedOptions()
		if err != nil {
			return amanerrors.ConfigError("invalid embeddings provider", err)
		}
		embedder, err := embed.NewEmbedder(ctx, embedOpts)
		if err != nil {
			return err
		}
		defer func() { _ = embedder.Close() }()

		vectors, err = openVectors(ctx, paths.vectors(), docs, embedder)
		if err != nil {
			return err
		}
		if vectors == nil {
			stats, _ := docs.Stats(ctx)
			return amanerrors.New(amanerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("corpus was embedded with %s, current embedder is %s", stats.EmbeddingModel, embedder.ModelName()), nil).
				WithSuggestion("Import into a fresh data directory, switch back to the original model, or use --no-embed")
		}
		defer func() { _ = vectors.Close() }()

		vi, err := ingest.NewVectorIndexer(
			ingest.WithEmbedder(embedder),
			ingest.WithVectorStore(vectors),
			ingest.WithBatchSize(opts.batchSize))
		if err != nil {
			return err
		}
		hybridOpts = append(hybridOpts, ingest.WithVector(vi))
		importerOpts = append(importerOpts, ingest.WithEmbedding(vi, embedder.ModelName(), embedder.Dimensions()))
		out.Statusf("", "Embedding with %s (%d dims)", embedder.ModelName(), embedder.Dimensions())
	}

	indexes, err := ingest.NewHybridIndexer(hybridOpts...)
	if err != nil {
		return err
	}
	importer, err := ingest.NewImporter(docs, indexes, importerOpts...)
	if err != nil {
		return err
	}

	res, importErr := importer.Import(ctx, in)
	if total > 0 && res.Documents > 0 && res.Documents < total {
		// The bar only ends its own line when it reaches total.
		out.Newline()
	}

	// Persist whatever was imported, even when a later line failed.
	if vectors != nil && res.Documents > 0 {
		if err := vectors.Save(paths.vectors()); err != nil {
			return fmt.Errorf("failed to save vector index: %w", err)
		}
	}
	if res.Documents > 0 {
		clearCacheAfterImport(ctx, cfg, paths)
	}
	if importErr != nil {
		return importErr
	}

	stats, err := docs.Stats(ctx)
	if err != nil {
		return err
	}
	out.Successf("Imported %d documents (%d chunks, %d embedded) in %s",
		res.Documents, res.Chunks, res.Embedded, res.Elapsed.Round(time.Millisecond))
	out.Status("", "Corpus: "+describeCorpus(stats))
	return nil
}

// watchImport re-imports source after each debounced change until ctx is
// cancelled. A failed re-import is reported and watching continues.
func watchImport(ctx context.Context, cmd *cobra.Command, source string, opts importOptions, wopts watcher.Options) error {
	out := output.New(cmd.OutOrStdout())

	w, err := watcher.New([]string{source}, wopts)
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	out.Statusf("", "Watching %s for changes (Ctrl+C to stop)", source)

	for {
		select {
		case <-ctx.Done():
			<-done
			return nil
		case err := <-w.Errors():
			slog.Warn("watch_error", slog.String("error", err.Error()))
		case batch, ok := <-w.Events():
			if !ok {
				return <-done
			}
			ev := batch[len(batch)-1]
			slog.Info("import_source_changed",
				slog.String("path", ev.Path),
				slog.String("operation", ev.Operation.String()))
			if ev.Operation == watcher.OpDelete {
				out.Warningf("%s was removed; waiting for it to return", source)
				continue
			}
			if err := runImport(ctx, cmd, source, opts); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				out.Error(amanerrors.FormatForCLI(err))
			}
		}
	}
}

// openImportSource opens a file or stdin ("-"). For files it also counts
// the non-blank lines so progress can be shown.
func openImportSource(cmd *cobra.Command, source string) (io.ReadCloser, int, error) {
	if source == "-" {
		return io.NopCloser(cmd.InOrStdin()), 0, nil
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", source, err)
	}
	total, err := countRecords(f)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("failed to read %s: %w", source, err)
	}
	return f, total, nil
}

func countRecords(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) > 0 {
			n++
		}
	}
	return n, scanner.Err()
}

// clearCacheAfterImport drops persisted contexts. In-memory caches die with
// the process, so only the badger backend needs clearing.
func clearCacheAfterImport(ctx context.Context, cfg *config.Config, paths dataPaths) {
	if !cfg.Cache.Enabled || cfg.Cache.Backend != "badger" {
		return
	}
	c, err := openCache(cfg, paths)
	if err != nil {
		slog.Warn("cache_clear_failed", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = c.Close() }()

	n, err := c.Invalidate(ctx, cache.Scope{})
	if err != nil {
		slog.Warn("cache_clear_failed", slog.String("error", err.Error()))
		return
	}
	slog.Info("cache_cleared_after_import", slog.Int("entries", n))
}
