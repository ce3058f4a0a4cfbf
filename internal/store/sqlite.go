package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/karastat/heatmap/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSource reads counts from the recorder's SQLite database.
type SQLiteSource struct {
	db *sql.DB
}

// OpenSQLite opens the database at path. Read-only sources never take a
// write lock, so the recorder can keep writing while the heatmap is served.
func OpenSQLite(path string, readOnly bool) (*SQLiteSource, error) {
	dsn := "file:" + path + "?_busy_timeout=5000"
	if readOnly {
		dsn += "&mode=ro"
	} else {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &SQLiteSource{db: db}, nil
}

// KeyCounts implements CountSource.
func (s *SQLiteSource) KeyCounts(ctx context.Context) ([]models.KeyCount, error) {
	rows, err := s.db.QueryContext(ctx, selectCounts)
	if err != nil {
		return nil, fmt.Errorf("query key counts: %w", err)
	}
	return scanCounts(rows)
}

// Migrate creates the key_counts table. Idempotent.
func (s *SQLiteSource) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS key_counts (
			key   TEXT PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Increment adds delta to a key's count, inserting the key if needed.
func (s *SQLiteSource) Increment(ctx context.Context, key string, delta int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO key_counts (key, count) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET count = count + excluded.count`, key, delta)
	if err != nil {
		return fmt.Errorf("increment %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}
