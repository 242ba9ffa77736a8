package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// OffsetStore remembers how far each tailed file has been consumed.
type OffsetStore struct {
	db *sql.DB
}

// OpenOffsetStore opens (creating if needed) the offset database at path. ":memory:" keeps
// offsets for the process lifetime only.
func OpenOffsetStore(path string) (*OffsetStore, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating offset directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening offset database: %w", err)
	}
	// one connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	store := &OffsetStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing offset schema: %w", err)
	}
	return store, nil
}

func (s *OffsetStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS file_offsets (
		path TEXT PRIMARY KEY,
		byte_offset INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`)
	return err
}

// Get returns the committed offset for path, zero when the file has never been read.
func (s *OffsetStore) Get(ctx context.Context, path string) (int64, error) {
	var offset int64
	err := s.db.QueryRowContext(ctx, `SELECT byte_offset FROM file_offsets WHERE path = ?`, path).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading offset for %s: %w", path, err)
	}
	return offset, nil
}

// Set commits offset for path.
func (s *OffsetStore) Set(ctx context.Context, path string, offset int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_offsets (path, byte_offset, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET byte_offset = excluded.byte_offset, updated_at = excluded.updated_at
	`, path, offset, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing offset for %s: %w", path, err)
	}
	return nil
}

// Close releases the database.
func (s *OffsetStore) Close() error {
	return s.db.Close()
}
