package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	// wordTokenizerType is the registered constructor for Tokenizer-backed tokenizers.
	wordTokenizerType = "amanrag_words"

	contentTokenizerName = "amanrag_content_tokenizer"
	contentAnalyzerName  = "amanrag_content"

	fieldContent    = "content"
	fieldDocumentID = "document_id"
	fieldOwnerID    = "owner_id"
	fieldTopicID    = "topic_id"

	// bleveScanPage bounds each page when deleting by document.
	bleveScanPage = 1000
)

func init() {
	_ = registry.RegisterTokenizer(wordTokenizerType, wordTokenizerConstructor)
}

// BleveKeywordIndex is a disk-backed KeywordIndex on Bleve v2.
// Scoring is Bleve's own; use MemoryBM25Index when exact BM25 scores matter.
type BleveKeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// bleveChunk is the stored document shape.
type bleveChunk struct {
	Content    string `json:"content"`
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
	TopicID    string `json:"topic_id"`
}

// validateIndexIntegrity checks a Bleve directory before opening it.
// Returns nil when the directory is valid or absent.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	if len(data) == 0 {
		return errors.New("index_meta.json is empty")
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// NewBleveKeywordIndex opens or creates a Bleve index at path.
// An empty path creates an in-memory index. A corrupt index directory is
// removed and recreated; callers must re-import afterwards.
func NewBleveKeywordIndex(path string, config BM25Config) (*BleveKeywordIndex, error) {
	indexMapping, err := buildBleveMapping(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("keyword_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("keyword index corrupted at %s and cannot remove: %w", path, removeErr)
			}
		}

		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveKeywordIndex{index: idx, path: path}, nil
}

// buildBleveMapping analyzes content with the same Tokenizer the memory
// index uses and indexes ownership fields verbatim.
func buildBleveMapping(config BM25Config) (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	stopWords := make([]any, 0, len(config.StopWords))
	for _, w := range config.StopWords {
		stopWords = append(stopWords, w)
	}
	err := indexMapping.AddCustomTokenizer(contentTokenizerName, map[string]any{
		"type":       wordTokenizerType,
		"stem":       config.Stem,
		"min_length": float64(config.MinTokenLength),
		"stop_words": stopWords,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add tokenizer: %w", err)
	}
	err = indexMapping.AddCustomAnalyzer(contentAnalyzerName, map[string]any{
		"type":      custom.Name,
		"tokenizer": contentTokenizerName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add analyzer: %w", err)
	}

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = contentAnalyzerName
	contentField.Store = false

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name
	keywordField.IncludeTermVectors = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldContent, contentField)
	doc.AddFieldMappingsAt(fieldDocumentID, keywordField)
	doc.AddFieldMappingsAt(fieldOwnerID, keywordField)
	doc.AddFieldMappingsAt(fieldTopicID, keywordField)

	indexMapping.DefaultMapping = doc
	indexMapping.DefaultAnalyzer = contentAnalyzerName
	return indexMapping, nil
}

// Index adds chunks in one batch.
func (b *BleveKeywordIndex) Index(ctx context.Context, chunks ...*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	batch := b.index.NewBatch()
	for _, c := range chunks {
		if c == nil || c.ID == "" {
			continue
		}
		doc := bleveChunk{
			Content:    c.Content,
			DocumentID: c.DocumentID,
			OwnerID:    c.OwnerID,
			TopicID:    c.TopicID,
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Remove deletes every chunk of documentID.
func (b *BleveKeywordIndex) Remove(ctx context.Context, documentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	q := bleve.NewTermQuery(documentID)
	q.SetField(fieldDocumentID)
	return b.deleteMatchingLocked(ctx, q)
}

// Clear drops every chunk.
func (b *BleveKeywordIndex) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	return b.deleteMatchingLocked(ctx, bleve.NewMatchAllQuery())
}

func (b *BleveKeywordIndex) deleteMatchingLocked(ctx context.Context, q query.Query) error {
	for {
		req := bleve.NewSearchRequest(q)
		req.Size = bleveScanPage
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to find chunks: %w", err)
		}
		if len(res.Hits) == 0 {
			return nil
		}

		batch := b.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
	}
}

// Search runs a match query on content, restricted by zero-boost filter clauses.
func (b *BleveKeywordIndex) Search(ctx context.Context, queryStr string, filters Filters, topK int, minScore float64) ([]*KeywordHit, error) {
	if strings.TrimSpace(queryStr) == "" {
		return []*KeywordHit{}, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}

	match := bleve.NewMatchQuery(queryStr)
	match.SetField(fieldContent)
	clauses := []query.Query{match}
	clauses = append(clauses, filterClauses(filters)...)

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(clauses...))
	if topK <= 0 {
		topK = 10
	}
	req.Size = topK
	req.Fields = []string{fieldDocumentID}
	req.IncludeLocations = true

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]*KeywordHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		if h.Score < minScore {
			continue
		}
		docID, _ := h.Fields[fieldDocumentID].(string)
		hits = append(hits, &KeywordHit{
			ChunkID:      h.ID,
			DocumentID:   docID,
			Score:        h.Score,
			MatchedTerms: extractMatchedTerms(h),
		})
	}
	return hits, nil
}

// filterClauses turns Filters into term queries that restrict without scoring.
func filterClauses(f Filters) []query.Query {
	var out []query.Query
	term := func(field, value string) *query.TermQuery {
		q := bleve.NewTermQuery(value)
		q.SetField(field)
		q.SetBoost(0)
		return q
	}
	if f.OwnerID != "" {
		out = append(out, term(fieldOwnerID, f.OwnerID))
	}
	if f.TopicID != "" {
		out = append(out, term(fieldTopicID, f.TopicID))
	}
	if len(f.DocumentIDs) > 0 {
		docs := make([]query.Query, 0, len(f.DocumentIDs))
		for _, id := range f.DocumentIDs {
			docs = append(docs, term(fieldDocumentID, id))
		}
		dq := bleve.NewDisjunctionQuery(docs...)
		dq.SetBoost(0)
		out = append(out, dq)
	}
	return out
}

// Stats returns the chunk count. Bleve does not expose term statistics cheaply.
func (b *BleveKeywordIndex) Stats() IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return IndexStats{}
	}
	count, _ := b.index.DocCount()
	return IndexStats{DocumentCount: int(count)}
}

// Close closes the index.
func (b *BleveKeywordIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

// extractMatchedTerms lists the content terms a hit matched.
func extractMatchedTerms(hit *search.DocumentMatch) []string {
	locations := hit.Locations[fieldContent]
	terms := make([]string, 0, len(locations))
	for term := range locations {
		terms = append(terms, term)
	}
	return terms
}

// Verify interface implementation
var _ KeywordIndex = (*BleveKeywordIndex)(nil)

// wordTokenizerConstructor builds a Bleve tokenizer around Tokenizer.
func wordTokenizerConstructor(config map[string]any, cache *registry.Cache) (analysis.Tokenizer, error) {
	cfg := DefaultBM25Config()
	if v, ok := config["stem"].(bool); ok {
		cfg.Stem = v
	}
	if v, ok := config["min_length"].(float64); ok {
		cfg.MinTokenLength = int(v)
	}
	if words, ok := config["stop_words"].([]any); ok {
		for _, w := range words {
			if s, ok := w.(string); ok {
				cfg.StopWords = append(cfg.StopWords, s)
			}
		}
	}
	return &bleveWordTokenizer{tok: NewTokenizer(cfg)}, nil
}

type bleveWordTokenizer struct {
	tok *Tokenizer
}

// Tokenize implements analysis.Tokenizer.
func (t *bleveWordTokenizer) Tokenize(input []byte) analysis.TokenStream {
	spans := t.tok.spans(string(input))
	stream := make(analysis.TokenStream, 0, len(spans))
	for i, s := range spans {
		stream = append(stream, &analysis.Token{
			Term:     []byte(s.term),
			Start:    s.start,
			End:      s.end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
	}
	return stream
}
