// Copyright 2026 Candlewallet Authors
// SPDX-License-Identifier: Apache-2.0

package offstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the primary Store backend: a single on-device SQLite file
// in WAL mode, shared by the foreground and background execution contexts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a store at path. Pass ":memory:"
// for an ephemeral store in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore initializes the store schema on an existing database handle.
// The caller keeps ownership of db only until Close is called on the store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	// WAL allows concurrent readers while one context writes.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// seq preserves insertion order across overwrites; the upsert below
	// never replaces the row, so a re-Put keeps the original seq.
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS _off_kv (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		partition  TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      BLOB NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		UNIQUE (partition, key)
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, partition, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _off_kv (partition, key, value) VALUES (?, ?, ?)
		ON CONFLICT(partition, key) DO UPDATE SET
			value = excluded.value,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
	`, partition, key, value)
	if err != nil {
		return unavailable("put", partition, key, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, partition, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM _off_kv WHERE partition = ? AND key = ?
	`, partition, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s/%s: %w", partition, key, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get", partition, key, err)
	}
	return value, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, partition, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM _off_kv WHERE partition = ? AND key = ?
	`, partition, key)
	if err != nil {
		return unavailable("delete", partition, key, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, partition string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM _off_kv WHERE partition = ? ORDER BY seq
	`, partition)
	if err != nil {
		return nil, unavailable("list", partition, "", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.Value); err != nil {
			return nil, unavailable("list", partition, "", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", partition, "", err)
	}
	return records, nil
}

func (s *SQLiteStore) Count(ctx context.Context, partition string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM _off_kv WHERE partition = ?
	`, partition).Scan(&n)
	if err != nil {
		return 0, unavailable("count", partition, "", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unavailable(op, partition, key string, err error) error {
	if key == "" {
		return fmt.Errorf("%w: %s %s: %v", ErrStoreUnavailable, op, partition, err)
	}
	return fmt.Errorf("%w: %s %s/%s: %v", ErrStoreUnavailable, op, partition, key, err)
}
