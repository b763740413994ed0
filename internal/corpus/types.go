// Package corpus is the SQLite-backed store of documents, chunks and chunk
// embeddings. The keyword and vector indexes are rebuilt from it, and the
// source prioritizer reads document metadata (author, dates, file type) from it.
package corpus

import (
	"time"
)

// Document is the metadata of one corpus document.
type Document struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	TopicID     string    `json:"topic_id"`
	Title       string    `json:"title"`
	Author      string    `json:"author,omitempty"`
	URL         string    `json:"url,omitempty"`
	FileType    string    `json:"file_type,omitempty"`
	FileSize    int64     `json:"file_size,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Chunk is a stored chunk plus its embedding, when one was computed.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	OwnerID    string    `json:"owner_id"`
	TopicID    string    `json:"topic_id"`
	Position   int       `json:"position"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// Stats summarizes corpus contents.
type Stats struct {
	Documents      int
	Chunks         int
	EmbeddedChunks int
	EmbeddingModel string
}

// State keys for the corpus key-value table.
const (
	// StateKeyEmbeddingModel records which embedder produced stored embeddings.
	StateKeyEmbeddingModel = "embedding_model"
	// StateKeyEmbeddingDimensions records the embedding size.
	StateKeyEmbeddingDimensions = "embedding_dimensions"
)
