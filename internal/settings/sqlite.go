// Package settings - sqlite.go stores the blob in a single-row SQLite table.
package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	version    INTEGER NOT NULL,
	blob       TEXT    NOT NULL,
	updated_at TEXT    NOT NULL
);`

// SQLiteBackend persists the settings blob in a SQLite file.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the settings database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open settings db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init settings schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Load implements Backend. A missing row yields an empty blob at version 0.
func (s *SQLiteBackend) Load() ([]byte, int64, error) {
	var blob string
	var version int64
	err := s.db.QueryRow(`SELECT blob, version FROM settings WHERE id = 1`).Scan(&blob, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return []byte(blob), version, nil
}

// Save implements Backend.
func (s *SQLiteBackend) Save(blob []byte, version int64) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (id, version, blob, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET version = excluded.version,
			blob = excluded.blob, updated_at = excluded.updated_at`,
		version, string(blob), time.Now().UTC().Format(time.RFC3339))
	return err
}

// Close implements Backend.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
