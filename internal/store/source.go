// Package store reads per-key usage counts from the KaraStat statistics database.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karastat/heatmap/internal/models"
)

// Supported database drivers.
const (
	DriverSQLite = "sqlite"
	DriverDuckDB = "duckdb"
)

// CountSource provides the current per-key counts.
type CountSource interface {
	KeyCounts(ctx context.Context) ([]models.KeyCount, error)
	Close() error
}

// Recorder is implemented by sources that can also write counts.
type Recorder interface {
	CountSource
	Migrate(ctx context.Context) error
	Increment(ctx context.Context, key string, delta int) error
}

// DefaultDatabasePath returns the location the KaraStat recorder writes to.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, "Library", "Application Support", "KaraStat", "key_stats.sqlite")
}

// Open opens a read-only count source.
func Open(driver, path string) (CountSource, error) {
	switch strings.ToLower(driver) {
	case "", DriverSQLite, "sqlite3":
		return OpenSQLite(path, true)
	case DriverDuckDB:
		return OpenDuck(path, true)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// OpenRecorder opens a writable count source, creating the table if needed.
func OpenRecorder(ctx context.Context, driver, path string) (Recorder, error) {
	var (
		rec Recorder
		err error
	)
	switch strings.ToLower(driver) {
	case "", DriverSQLite, "sqlite3":
		rec, err = OpenSQLite(path, false)
	case DriverDuckDB:
		rec, err = OpenDuck(path, false)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := rec.Migrate(ctx); err != nil {
		rec.Close()
		return nil, err
	}
	return rec, nil
}

const selectCounts = `SELECT key, count FROM key_counts`

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// scanCounts collects rows, skipping any that fail to scan.
func scanCounts(rows rowScanner) ([]models.KeyCount, error) {
	defer rows.Close()

	data := make([]models.KeyCount, 0, 128)
	for rows.Next() {
		var k models.KeyCount
		if err := rows.Scan(&k.Key, &k.Count); err == nil {
			data = append(data, k)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating key counts: %w", err)
	}
	return data, nil
}
