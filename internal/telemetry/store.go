package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// maxEmptyResultQueries bounds the persisted empty-result log.
const maxEmptyResultQueries = 100

// SQLiteMetricsStore implements MetricsStore using SQLite.
type SQLiteMetricsStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewSQLiteMetricsStore wraps a shared database. The telemetry tables must
// already exist (see InitTelemetrySchema); Close leaves db open.
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteMetricsStore{db: db}, nil
}

// OpenSQLiteMetricsStore opens (or creates) a dedicated telemetry database.
func OpenSQLiteMetricsStore(path string) (*SQLiteMetricsStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set pragma: %w", err)
	}
	if err := InitTelemetrySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteMetricsStore{db: db, ownsDB: true}, nil
}

// InitTelemetrySchema creates the telemetry tables if they don't exist.
func InitTelemetrySchema(db *sql.DB) error {
	schema := `
	-- Daily counters (kind: level, cache_status, latency)
	CREATE TABLE IF NOT EXISTS retrieval_daily_stats (
		date TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, kind, name)
	);

	CREATE TABLE IF NOT EXISTS query_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	-- Empty-result queries (circular buffer)
	CREATE TABLE IF NOT EXISTS empty_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// SaveDailyCounts adds counts for one kind on date.
func (s *SQLiteMetricsStore) SaveDailyCounts(date, kind string, counts map[string]int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO retrieval_daily_stats (date, kind, name, count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date, kind, name) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for name, count := range counts {
		if _, err := stmt.Exec(date, kind, name, count); err != nil {
			return fmt.Errorf("insert %s count: %w", kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetDailyCounts sums counts for one kind over [from, to].
func (s *SQLiteMetricsStore) GetDailyCounts(kind, from, to string) (map[string]int64, error) {
	rows, err := s.db.Query(`
		SELECT name, SUM(count) as total
		FROM retrieval_daily_stats
		WHERE kind = ? AND date >= ? AND date <= ?
		GROUP BY name
	`, kind, from, to)
	if err != nil {
		return nil, fmt.Errorf("query %s counts: %w", kind, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[name] = count
	}
	return counts, rows.Err()
}

// UpsertTermCounts updates term frequency counts.
func (s *SQLiteMetricsStore) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO query_terms (term, count, last_seen)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for term, count := range terms {
		if _, err := stmt.Exec(term, count); err != nil {
			return fmt.Errorf("upsert term count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetTopTerms retrieves the top N terms by frequency.
func (s *SQLiteMetricsStore) GetTopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`
		SELECT term, count
		FROM query_terms
		ORDER BY count DESC, term ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// AddEmptyResultQuery appends a query and trims the log to the newest 100.
func (s *SQLiteMetricsStore) AddEmptyResultQuery(query string, timestamp time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO empty_result_queries (query, timestamp)
		VALUES (?, ?)
	`, query, timestamp)
	if err != nil {
		return fmt.Errorf("insert empty-result query: %w", err)
	}

	_, err = s.db.Exec(`
		DELETE FROM empty_result_queries
		WHERE id NOT IN (
			SELECT id FROM empty_result_queries
			ORDER BY id DESC
			LIMIT ?
		)
	`, maxEmptyResultQueries)
	if err != nil {
		return fmt.Errorf("trim empty-result queries: %w", err)
	}
	return nil
}

// GetEmptyResultQueries retrieves recent empty-result queries.
func (s *SQLiteMetricsStore) GetEmptyResultQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT query
		FROM empty_result_queries
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query empty-result queries: %w", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// Close closes the database only when the store opened it.
func (s *SQLiteMetricsStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
