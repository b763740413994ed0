package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Record is one line of a pre-chunked corpus export: a document and its chunks.
type Record struct {
	Document
	Chunks []RecordChunk `json:"chunks"`
}

// RecordChunk is a chunk inside a Record. IDs default to <document>#<position>.
type RecordChunk struct {
	ID         string `json:"id,omitempty"`
	Content    string `json:"content"`
	TokenCount int    `json:"token_count,omitempty"`
}

// maxRecordBytes bounds one JSONL line.
const maxRecordBytes = 16 * 1024 * 1024

// ReadJSONL decodes records line by line and calls fn for each.
// Blank lines are skipped. Decoding stops at the first error.
func ReadJSONL(r io.Reader, fn func(*Record) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if rec.ID == "" {
			return fmt.Errorf("line %d: document id is required", line)
		}
		if err := fn(&rec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return scanner.Err()
}

// StoredChunks converts a record's chunks into corpus chunks with stable ids.
// countTokens fills in missing token counts.
func (r *Record) StoredChunks(countTokens func(string) int) []*Chunk {
	out := make([]*Chunk, 0, len(r.Chunks))
	for i, rc := range r.Chunks {
		if strings.TrimSpace(rc.Content) == "" {
			continue
		}
		id := rc.ID
		if id == "" {
			id = fmt.Sprintf("%s#%d", r.ID, i)
		}
		tokens := rc.TokenCount
		if tokens <= 0 && countTokens != nil {
			tokens = countTokens(rc.Content)
		}
		out = append(out, &Chunk{
			ID:         id,
			DocumentID: r.ID,
			OwnerID:    r.OwnerID,
			TopicID:    r.TopicID,
			Position:   i,
			Content:    rc.Content,
			TokenCount: tokens,
		})
	}
	return out
}
