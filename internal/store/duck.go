package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/karastat/heatmap/internal/models"
	"github.com/marcboeker/go-duckdb"
)

// DuckSource reads counts from a DuckDB file with the same key_counts table,
// used when statistics are exported for offline analysis.
type DuckSource struct {
	db *sql.DB
}

// OpenDuck opens a DuckDB database at path.
func OpenDuck(path string, readOnly bool) (*DuckSource, error) {
	dsn := path
	if readOnly {
		dsn += "?access_mode=READ_ONLY"
	}

	connector, err := duckdb.NewConnector(dsn, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				fmt.Printf("[DuckSource] Pragma warning: %v\n", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DuckSource{db: db}, nil
}

// KeyCounts implements CountSource.
func (s *DuckSource) KeyCounts(ctx context.Context) ([]models.KeyCount, error) {
	rows, err := s.db.QueryContext(ctx, selectCounts)
	if err != nil {
		return nil, fmt.Errorf("query key counts: %w", err)
	}
	return scanCounts(rows)
}

// Migrate creates the key_counts table. Idempotent.
func (s *DuckSource) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS key_counts (
			key   VARCHAR PRIMARY KEY,
			count BIGINT NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Increment adds delta to a key's count, inserting the key if needed.
func (s *DuckSource) Increment(ctx context.Context, key string, delta int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO key_counts (key, count) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET count = count + excluded.count`, key, delta)
	if err != nil {
		return fmt.Errorf("increment %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *DuckSource) Close() error {
	return s.db.Close()
}
