// Package sqlite implements the local-state key/value store on a SQLite file,
// the default backend for progressctl.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
)

const schema = `
CREATE TABLE IF NOT EXISTS local_state (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
`

var _ progress.KeyValueStore = (*Store)(nil)

// Store is a progress.KeyValueStore backed by one SQLite table.
type Store struct {
	db *sqlx.DB
}

type entry struct {
	Key       string `db:"key"`
	Value     []byte `db:"value"`
	UpdatedAt int64  `db:"updated_at"`
}

// Open opens (creating if needed) and migrates the store at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var e entry
	err := s.db.GetContext(ctx, &e, `SELECT key, value, updated_at FROM local_state WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NewDomainError("localstate", "Get", shared.ErrNotFound, "no value for "+key)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return e.Value, nil
}

// Put upserts the value under key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO local_state (key, value, updated_at) VALUES (:key, :value, :updated_at)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, entry{Key: key, Value: value, UpdatedAt: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM local_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys lists every stored key in lexical order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.SelectContext(ctx, &keys, `SELECT key FROM local_state ORDER BY key`); err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}
