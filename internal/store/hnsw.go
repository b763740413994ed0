package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore is an in-process vector index on coder/hnsw.
// Each vector carries chunk ownership metadata so queries can filter by
// owner, topic and document after the graph search.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	entries map[string]*vectorMeta // chunk ID -> metadata
	keyMap  map[uint64]string      // graph key -> chunk ID
	nextKey uint64

	closed bool
}

// vectorMeta is persisted alongside the graph.
type vectorMeta struct {
	Key        uint64
	DocumentID string
	OwnerID    string
	TopicID    string
}

// hnswMetadata stores ID mappings for persistence.
type hnswMetadata struct {
	Entries map[string]*vectorMeta
	NextKey uint64
	Config  VectorStoreConfig
}

// NewHNSWStore creates an empty vector store.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}
	if cfg.OverFetch <= 0 {
		cfg.OverFetch = 4
	}

	return &HNSWStore{
		graph:   newGraph(cfg),
		config:  cfg,
		entries: make(map[string]*vectorMeta),
		keyMap:  make(map[uint64]string),
	}, nil
}

func newGraph(cfg VectorStoreConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	if cfg.Metric == "l2" {
		graph.Distance = hnsw.EuclideanDistance
	} else {
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	return graph
}

// Add inserts entries. An existing chunk ID is replaced by orphaning its
// old graph node; coder/hnsw misbehaves when deleting the last node.
func (s *HNSWStore) Add(ctx context.Context, entries ...VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	for _, e := range entries {
		if len(e.Vector) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(e.Vector)}
		}
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if old, exists := s.entries[e.ChunkID]; exists {
			delete(s.keyMap, old.Key)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}
		s.graph.Add(hnsw.MakeNode(key, vec))

		s.entries[e.ChunkID] = &vectorMeta{
			Key:        key,
			DocumentID: e.DocumentID,
			OwnerID:    e.OwnerID,
			TopicID:    e.TopicID,
		}
		s.keyMap[key] = e.ChunkID
	}

	return nil
}

// Query returns up to topK chunks nearest to vec that pass filters and
// score at least minScore, best first.
func (s *HNSWStore) Query(ctx context.Context, vec []float32, filters Filters, topK int, minScore float64) ([]*VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	if len(vec) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vec)}
	}
	if s.graph.Len() == 0 || len(s.entries) == 0 {
		return []*VectorHit{}, nil
	}
	if topK <= 0 {
		topK = 10
	}

	q := make([]float32, len(vec))
	copy(q, vec)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(q)
	}

	// Orphans and filtered-out nodes eat into k, so ask for more.
	k := topK
	if !filters.IsEmpty() || len(s.keyMap) < s.graph.Len() {
		k = topK * s.config.OverFetch
	}
	if k > s.graph.Len() {
		k = s.graph.Len()
	}

	allowedDocs := filters.documentSet()
	nodes := s.graph.Search(q, k)

	hits := make([]*VectorHit, 0, len(nodes))
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue
		}
		meta := s.entries[id]
		if !filters.matches(meta.OwnerID, meta.TopicID) {
			continue
		}
		if allowedDocs != nil {
			if _, ok := allowedDocs[meta.DocumentID]; !ok {
				continue
			}
		}

		distance := s.graph.Distance(q, node.Value)
		score := distanceToScore(distance, s.config.Metric)
		if float64(score) < minScore {
			continue
		}
		hits = append(hits, &VectorHit{
			ChunkID:    id,
			DocumentID: meta.DocumentID,
			Distance:   distance,
			Score:      score,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// RemoveDocument drops every vector belonging to documentID.
func (s *HNSWStore) RemoveDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for id, meta := range s.entries {
		if meta.DocumentID == documentID {
			delete(s.keyMap, meta.Key)
			delete(s.entries, id)
		}
	}
	return nil
}

// Count returns the number of live vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Dimensions returns the configured vector size.
func (s *HNSWStore) Dimensions() int {
	return s.config.Dimensions
}

// Save persists the graph and its metadata using temp file + rename.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := writeAtomic(path, func(f *os.File) error { return s.graph.Export(f) }); err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}

	meta := hnswMetadata{Entries: s.entries, NextKey: s.nextKey, Config: s.config}
	if err := writeAtomic(path+".meta", func(f *os.File) error { return gob.NewEncoder(f).Encode(meta) }); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

// LoadHNSWStore reads a store written by Save.
func LoadHNSWStore(path string) (*HNSWStore, error) {
	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return nil, fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := metaFile.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode hnsw metadata: %w", err)
	}

	s, err := NewHNSWStore(meta.Config)
	if err != nil {
		return nil, err
	}

	graphFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer graphFile.Close()

	// coder/hnsw Import requires an io.ByteReader
	if err := s.graph.Import(bufio.NewReader(graphFile)); err != nil {
		return nil, fmt.Errorf("failed to import graph: %w", err)
	}

	s.entries = meta.Entries
	if s.entries == nil {
		s.entries = make(map[string]*vectorMeta)
	}
	s.nextKey = meta.NextKey
	for id, m := range s.entries {
		s.keyMap[m.Key] = id
	}
	return s, nil
}

// Close releases resources.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.graph = nil
	return nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore converts a distance to a similarity in [0,1].
// Cosine distance spans 0-2; L2 is mapped with 1/(1+d).
func distanceToScore(distance float32, metric string) float32 {
	if metric == "l2" {
		return 1.0 / (1.0 + distance)
	}
	return 1.0 - distance/2.0
}
