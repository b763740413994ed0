package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/Aman-CERP/amanrag/internal/corpus"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// Corpus is the subset of the corpus store written during ingest.
type Corpus interface {
	SaveDocument(ctx context.Context, doc *corpus.Document, chunks []*corpus.Chunk) error
	EachChunk(ctx context.Context, fn func(*corpus.Chunk) error) error
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
}

// Progress is reported after every imported document.
type Progress struct {
	Documents int
	Chunks    int
	Current   string
}

// Result summarizes an import.
type Result struct {
	Documents int
	Chunks    int
	Embedded  int
	Elapsed   time.Duration
}

// Importer loads JSONL records into the corpus and the indexes.
type Importer struct {
	corpus   Corpus
	indexes  *HybridIndexer
	vector   *VectorIndexer
	model    string
	dims     int
	count    func(string) int
	progress func(Progress)
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithEmbedding enables vectors. model and dims are recorded in the corpus
// state and checked against earlier imports.
func WithEmbedding(v *VectorIndexer, model string, dims int) ImporterOption {
	return func(im *Importer) {
		im.vector = v
		im.model = model
		im.dims = dims
	}
}

// WithTokenCounter fills in missing chunk token counts.
func WithTokenCounter(count func(string) int) ImporterOption {
	return func(im *Importer) {
		im.count = count
	}
}

// WithProgress registers a callback invoked after each document.
func WithProgress(fn func(Progress)) ImporterOption {
	return func(im *Importer) {
		im.progress = fn
	}
}

// NewImporter creates an importer writing to c and indexing through indexes.
func NewImporter(c Corpus, indexes *HybridIndexer, opts ...ImporterOption) (*Importer, error) {
	if c == nil {
		return nil, fmt.Errorf("ingest: corpus store is required")
	}
	if indexes == nil {
		return nil, ErrNoIndexers
	}
	im := &Importer{corpus: c, indexes: indexes}
	for _, opt := range opts {
		opt(im)
	}
	return im, nil
}

// Import reads records from r. Re-importing a document replaces its chunks
// in the corpus and in both indexes.
func (im *Importer) Import(ctx context.Context, r io.Reader) (Result, error) {
	start := time.Now()
	var res Result

	if err := im.checkEmbeddingState(ctx); err != nil {
		return res, err
	}

	err := corpus.ReadJSONL(r, func(rec *corpus.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunks, embedded, err := im.importRecord(ctx, rec)
		if err != nil {
			return err
		}
		res.Documents++
		res.Chunks += chunks
		res.Embedded += embedded
		if im.progress != nil {
			im.progress(Progress{Documents: res.Documents, Chunks: res.Chunks, Current: rec.ID})
		}
		return nil
	})
	res.Elapsed = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("import: %w", err)
	}

	slog.Info("import_complete",
		slog.Int("documents", res.Documents),
		slog.Int("chunks", res.Chunks),
		slog.Int("embedded", res.Embedded),
		slog.Duration("elapsed", res.Elapsed))
	return res, nil
}

func (im *Importer) importRecord(ctx context.Context, rec *corpus.Record) (int, int, error) {
	chunks := rec.StoredChunks(im.count)
	indexed := make([]*store.Chunk, len(chunks))
	for i, c := range chunks {
		indexed[i] = indexChunk(c)
	}

	embedded := 0
	if im.vector != nil && len(indexed) > 0 {
		vectors, err := im.vector.Embed(ctx, indexed)
		if err != nil {
			return 0, 0, amanerrors.New(amanerrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("failed to embed %s", rec.ID), err)
		}
		for i := range chunks {
			chunks[i].Embedding = vectors[i]
			indexed[i].Embedding = vectors[i]
		}
		embedded = len(vectors)
	}

	doc := rec.Document
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}
	if err := im.corpus.SaveDocument(ctx, &doc, chunks); err != nil {
		return 0, 0, err
	}
	if err := im.indexes.Remove(ctx, doc.ID); err != nil {
		return 0, 0, err
	}
	if err := im.indexes.Index(ctx, indexed); err != nil {
		return 0, 0, err
	}

	slog.Debug("document_imported",
		slog.String("document", doc.ID),
		slog.Int("chunks", len(chunks)))
	return len(chunks), embedded, nil
}

// checkEmbeddingState refuses to mix vectors from different models and
// records the model on first use.
func (im *Importer) checkEmbeddingState(ctx context.Context) error {
	if im.vector == nil {
		return nil
	}
	model, err := im.state(ctx, corpus.StateKeyEmbeddingModel)
	if err != nil {
		return err
	}
	dims, err := im.state(ctx, corpus.StateKeyEmbeddingDimensions)
	if err != nil {
		return err
	}

	if model != "" && (model != im.model || dims != strconv.Itoa(im.dims)) {
		e := amanerrors.New(amanerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("corpus was embedded with %s (%s dims), current embedder is %s (%d dims)",
				model, dims, im.model, im.dims), nil)
		e.Suggestion = "Import into a fresh data directory or switch back to the original embedding model"
		return e
	}
	if err := im.corpus.SetState(ctx, corpus.StateKeyEmbeddingModel, im.model); err != nil {
		return err
	}
	return im.corpus.SetState(ctx, corpus.StateKeyEmbeddingDimensions, strconv.Itoa(im.dims))
}

func (im *Importer) state(ctx context.Context, key string) (string, error) {
	v, err := im.corpus.GetState(ctx, key)
	if errors.Is(err, corpus.ErrNotFound) {
		return "", nil
	}
	return v, err
}

// Rebuild indexes every stored chunk. Stored embeddings are reused, so a
// keyword-only rebuild never calls the embedder.
func Rebuild(ctx context.Context, c Corpus, idx Indexer) (int, error) {
	const batch = 256

	n := 0
	pending := make([]*store.Chunk, 0, batch)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := idx.Index(ctx, pending); err != nil {
			return err
		}
		n += len(pending)
		pending = make([]*store.Chunk, 0, batch)
		return nil
	}

	err := c.EachChunk(ctx, func(ch *corpus.Chunk) error {
		pending = append(pending, indexChunk(ch))
		if len(pending) == batch {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return n, fmt.Errorf("rebuild: %w", err)
	}
	return n, nil
}

func indexChunk(c *corpus.Chunk) *store.Chunk {
	return &store.Chunk{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		OwnerID:    c.OwnerID,
		TopicID:    c.TopicID,
		Content:    c.Content,
		TokenCount: c.TokenCount,
		Embedding:  c.Embedding,
	}
}
