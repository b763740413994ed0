package store

import (
	"fmt"
	"path/filepath"
)

// KeywordBackend selects the keyword index implementation.
type KeywordBackend string

const (
	// KeywordBackendMemory is the in-memory BM25 index (default).
	// It is rebuilt from the corpus store on startup.
	KeywordBackendMemory KeywordBackend = "memory"

	// KeywordBackendBleve persists the index on disk with Bleve v2.
	KeywordBackendBleve KeywordBackend = "bleve"
)

// NewKeywordIndex creates a KeywordIndex for backend.
// dataDir is only used by disk-backed backends; empty means in-memory.
func NewKeywordIndex(dataDir string, config BM25Config, backend string) (KeywordIndex, error) {
	switch KeywordBackend(backend) {
	case KeywordBackendMemory, "":
		return NewMemoryBM25Index(config), nil

	case KeywordBackendBleve:
		var path string
		if dataDir != "" {
			path = KeywordIndexPath(dataDir)
		}
		return NewBleveKeywordIndex(path, config)

	default:
		return nil, fmt.Errorf("unknown keyword backend: %s (valid options: memory, bleve)", backend)
	}
}

// KeywordIndexPath returns the Bleve index directory under dataDir.
func KeywordIndexPath(dataDir string) string {
	return filepath.Join(dataDir, "keyword.bleve")
}

// Persistent reports whether the index survives restarts, so callers can
// skip rebuilding it from the corpus.
func Persistent(idx KeywordIndex) bool {
	b, ok := idx.(*BleveKeywordIndex)
	return ok && b.path != ""
}
