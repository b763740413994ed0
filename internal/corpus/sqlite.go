package corpus

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore persists the corpus in a single SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL DEFAULT '',
	topic_id     TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	author       TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL DEFAULT '',
	file_type    TEXT NOT NULL DEFAULT '',
	file_size    INTEGER NOT NULL DEFAULT 0,
	published_at INTEGER NOT NULL DEFAULT 0,
	updated_at   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS chunks (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	owner_id    TEXT NOT NULL DEFAULT '',
	topic_id    TEXT NOT NULL DEFAULT '',
	position    INTEGER NOT NULL DEFAULT 0,
	content     TEXT NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	embedding   BLOB
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Open opens (or creates) the corpus database at path.
// An empty path opens a private in-memory database.
func Open(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; also keeps :memory: on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database path ("" for in-memory).
func (s *SQLiteStore) Path() string {
	return s.path
}

// SaveDocument inserts or replaces a document together with its chunks.
// Chunks previously stored for the document are removed first.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *Document, chunks []*Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, topic_id, title, author, url, file_type, file_size, published_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id, topic_id = excluded.topic_id, title = excluded.title,
			author = excluded.author, url = excluded.url, file_type = excluded.file_type,
			file_size = excluded.file_size, published_at = excluded.published_at,
			updated_at = excluded.updated_at`,
		doc.ID, doc.OwnerID, doc.TopicID, doc.Title, doc.Author, doc.URL, doc.FileType,
		doc.FileSize, unixOrZero(doc.PublishedAt), unixOrZero(doc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("failed to clear chunks of %s: %w", doc.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, owner_id, topic_id, position, content, token_count, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		_, err := stmt.ExecContext(ctx, c.ID, doc.ID, doc.OwnerID, doc.TopicID, c.Position,
			c.Content, c.TokenCount, embeddingArg(c.Embedding))
		if err != nil {
			return fmt.Errorf("failed to save chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// DeleteDocument removes a document and, by cascade, its chunks.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// Documents returns metadata for the requested ids. Unknown ids are omitted.
func (s *SQLiteStore) Documents(ctx context.Context, ids []string) (map[string]*Document, error) {
	out := make(map[string]*Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, topic_id, title, author, url, file_type, file_size, published_at, updated_at
		FROM documents WHERE id IN (`+placeholders(len(ids))+`)`, toArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d Document
		var published, updated int64
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.TopicID, &d.Title, &d.Author, &d.URL,
			&d.FileType, &d.FileSize, &published, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.PublishedAt = timeOrZero(published)
		d.UpdatedAt = timeOrZero(updated)
		out[d.ID] = &d
	}
	return out, rows.Err()
}

// Chunks returns the requested chunks without embeddings. Unknown ids are omitted.
func (s *SQLiteStore) Chunks(ctx context.Context, ids []string) (map[string]*Chunk, error) {
	out := make(map[string]*Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, owner_id, topic_id, position, content, token_count
		FROM chunks WHERE id IN (`+placeholders(len(ids))+`)`, toArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.OwnerID, &c.TopicID, &c.Position,
			&c.Content, &c.TokenCount); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		out[c.ID] = &c
	}
	return out, rows.Err()
}

// EachChunk streams every chunk with its embedding, ordered by document and position.
// Iteration stops at the first error returned by fn.
func (s *SQLiteStore) EachChunk(ctx context.Context, fn func(*Chunk) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, owner_id, topic_id, position, content, token_count, embedding
		FROM chunks ORDER BY document_id, position`)
	if err != nil {
		return fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.OwnerID, &c.TopicID, &c.Position,
			&c.Content, &c.TokenCount, &blob); err != nil {
			return fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.Embedding = decodeEmbedding(blob)
		if err := fn(&c); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetState returns a state value or ErrNotFound.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read state %s: %w", key, err)
	}
	return v, nil
}

// SetState stores a state value.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write state %s: %w", key, err)
	}
	return nil
}

// Stats returns corpus counts.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM chunks),
			(SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL)`).
		Scan(&st.Documents, &st.Chunks, &st.EmbeddedChunks)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	if model, err := s.GetState(ctx, StateKeyEmbeddingModel); err == nil {
		st.EmbeddingModel = model
	}
	return st, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// embeddingArg stores missing embeddings as NULL.
func embeddingArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return encodeEmbedding(v)
}

// encodeEmbedding packs float32s little-endian.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
