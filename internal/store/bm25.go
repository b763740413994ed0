package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// MemoryBM25Index is an in-memory Okapi BM25 inverted index.
//
// Scoring per query term t and chunk d:
//
//	IDF(t)   = ln((N - df(t) + 0.5) / (df(t) + 0.5) + 1)
//	score   += IDF(t) * tf*(k1+1) / (tf + k1*(1 - b + b*len(d)/avgLen))
//
// N is the number of indexed chunks. avgLen is recomputed on every mutation
// and ignores zero-length chunks. A single RWMutex makes each Index/Remove
// atomic for readers.
type MemoryBM25Index struct {
	mu        sync.RWMutex
	config    BM25Config
	tokenizer *Tokenizer

	docs       map[string]*indexedDoc         // chunk ID -> doc
	byDocument map[string]map[string]struct{} // document ID -> chunk IDs
	postings   map[string]map[string]struct{} // term -> chunk IDs

	totalLength  int
	nonEmpty     int
	avgDocLength float64
	closed       bool
}

// indexedDoc is the index-internal view of a chunk.
type indexedDoc struct {
	id         string
	documentID string
	ownerID    string
	topicID    string
	termFreqs  map[string]int
	length     int
}

// NewMemoryBM25Index creates an empty in-memory index.
func NewMemoryBM25Index(config BM25Config) *MemoryBM25Index {
	if config.K1 <= 0 {
		config.K1 = 1.2
	}
	if config.B < 0 || config.B > 1 {
		config.B = 0.75
	}
	return &MemoryBM25Index{
		config:     config,
		tokenizer:  NewTokenizer(config),
		docs:       make(map[string]*indexedDoc),
		byDocument: make(map[string]map[string]struct{}),
		postings:   make(map[string]map[string]struct{}),
	}
}

// Index adds chunks to the index. A chunk whose ID is already indexed is replaced.
func (m *MemoryBM25Index) Index(ctx context.Context, chunks ...*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	// Tokenize outside the lock.
	prepared := make([]*indexedDoc, 0, len(chunks))
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c == nil || c.ID == "" {
			continue
		}
		freqs := c.TermFreqs
		if freqs == nil {
			freqs = m.tokenizer.TermFrequencies(c.Content)
		}
		length := 0
		for _, n := range freqs {
			length += n
		}
		prepared = append(prepared, &indexedDoc{
			id:         c.ID,
			documentID: c.DocumentID,
			ownerID:    c.OwnerID,
			topicID:    c.TopicID,
			termFreqs:  freqs,
			length:     length,
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	for _, d := range prepared {
		if _, exists := m.docs[d.id]; exists {
			m.removeChunkLocked(d.id)
		}
		m.docs[d.id] = d
		if m.byDocument[d.documentID] == nil {
			m.byDocument[d.documentID] = make(map[string]struct{})
		}
		m.byDocument[d.documentID][d.id] = struct{}{}
		for term := range d.termFreqs {
			if m.postings[term] == nil {
				m.postings[term] = make(map[string]struct{})
			}
			m.postings[term][d.id] = struct{}{}
		}
		m.totalLength += d.length
		if d.length > 0 {
			m.nonEmpty++
		}
	}
	m.recomputeAverageLocked()

	return nil
}

// Remove deletes all chunks belonging to documentID.
func (m *MemoryBM25Index) Remove(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	for chunkID := range m.byDocument[documentID] {
		m.removeChunkLocked(chunkID)
	}
	delete(m.byDocument, documentID)
	m.recomputeAverageLocked()

	return nil
}

// removeChunkLocked unlinks one chunk. Caller holds the write lock and must
// recompute the average afterwards.
func (m *MemoryBM25Index) removeChunkLocked(chunkID string) {
	d, ok := m.docs[chunkID]
	if !ok {
		return
	}
	for term := range d.termFreqs {
		if set := m.postings[term]; set != nil {
			delete(set, chunkID)
			if len(set) == 0 {
				delete(m.postings, term)
			}
		}
	}
	if set := m.byDocument[d.documentID]; set != nil {
		delete(set, chunkID)
		if len(set) == 0 {
			delete(m.byDocument, d.documentID)
		}
	}
	m.totalLength -= d.length
	if d.length > 0 {
		m.nonEmpty--
	}
	delete(m.docs, chunkID)
}

func (m *MemoryBM25Index) recomputeAverageLocked() {
	if m.nonEmpty == 0 {
		m.avgDocLength = 0
		return
	}
	m.avgDocLength = float64(m.totalLength) / float64(m.nonEmpty)
}

// Search scores chunks against query. Filters narrow the candidate set
// before any scoring happens.
func (m *MemoryBM25Index) Search(ctx context.Context, query string, filters Filters, topK int, minScore float64) ([]*KeywordHit, error) {
	terms := uniqueTerms(m.tokenizer.Tokenize(query))
	if len(terms) == 0 {
		return []*KeywordHit{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	candidates := m.candidatesLocked(terms, filters)
	n := float64(len(m.docs))

	idf := make(map[string]float64, len(terms))
	for _, t := range terms {
		df := float64(len(m.postings[t]))
		idf[t] = math.Log((n-df+0.5)/(df+0.5) + 1)
	}

	hits := make([]*KeywordHit, 0, len(candidates))
	for i, d := range candidates {
		if i%512 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		score, matched := m.scoreLocked(d, terms, idf)
		if score <= 0 || score < minScore {
			continue
		}
		hits = append(hits, &KeywordHit{
			ChunkID:      d.id,
			DocumentID:   d.documentID,
			Score:        score,
			MatchedTerms: matched,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}

	return hits, nil
}

// candidatesLocked returns the chunks that contain at least one query term
// and pass the filters.
func (m *MemoryBM25Index) candidatesLocked(terms []string, filters Filters) []*indexedDoc {
	allowedDocs := filters.documentSet()
	seen := make(map[string]struct{})
	var out []*indexedDoc

	consider := func(chunkID string) {
		if _, dup := seen[chunkID]; dup {
			return
		}
		seen[chunkID] = struct{}{}
		d := m.docs[chunkID]
		if d == nil || !filters.matches(d.ownerID, d.topicID) {
			return
		}
		out = append(out, d)
	}

	if allowedDocs != nil {
		// Document filter is usually far narrower than any posting list.
		for docID := range allowedDocs {
			for chunkID := range m.byDocument[docID] {
				consider(chunkID)
			}
		}
		return out
	}

	for _, t := range terms {
		for chunkID := range m.postings[t] {
			consider(chunkID)
		}
	}
	return out
}

func (m *MemoryBM25Index) scoreLocked(d *indexedDoc, terms []string, idf map[string]float64) (float64, []string) {
	k1, b := m.config.K1, m.config.B

	norm := 1.0
	if m.avgDocLength > 0 {
		norm = 1 - b + b*float64(d.length)/m.avgDocLength
	}

	var score float64
	var matched []string
	for _, t := range terms {
		tf := float64(d.termFreqs[t])
		if tf == 0 {
			continue
		}
		score += idf[t] * (tf * (k1 + 1)) / (tf + k1*norm)
		matched = append(matched, t)
	}
	return score, matched
}

// Stats returns index statistics.
func (m *MemoryBM25Index) Stats() IndexStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return IndexStats{
		DocumentCount: len(m.docs),
		TermCount:     len(m.postings),
		TotalLength:   m.totalLength,
		AvgDocLength:  m.avgDocLength,
	}
}

// Clear drops every chunk.
func (m *MemoryBM25Index) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.docs = make(map[string]*indexedDoc)
	m.byDocument = make(map[string]map[string]struct{})
	m.postings = make(map[string]map[string]struct{})
	m.totalLength = 0
	m.nonEmpty = 0
	m.avgDocLength = 0
	return nil
}

// Close releases the index. Further calls fail with ErrClosed.
func (m *MemoryBM25Index) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.docs = nil
	m.byDocument = nil
	m.postings = nil
	return nil
}

// uniqueTerms drops repeated query terms so each contributes once.
func uniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Verify interface implementation
var _ KeywordIndex = (*MemoryBM25Index)(nil)
