// Package localstore is the process-local SQLite store: a key/value table
// for session state and a record of template files already uploaded.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS template_uploads (
	path        TEXT PRIMARY KEY,
	checksum    TEXT NOT NULL DEFAULT '',
	template_id TEXT NOT NULL DEFAULT '',
	uploaded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_template_uploads_id ON template_uploads(template_id);
`

// DB wraps a sql.DB with store operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("localstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("localstore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("localstore: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Get returns the value stored under key. ok is false when the key is absent.
func (db *DB) Get(key string) (value string, ok bool, err error) {
	err = db.conn.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("localstore: get %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores a single value.
func (db *DB) Set(key, value string) error {
	return db.SetMany(map[string]string{key: value})
}

// SetMany stores every pair in one transaction.
func (db *DB) SetMany(values map[string]string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("localstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("localstore: prepare set: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for k, v := range values {
		if _, err := stmt.Exec(k, v, now); err != nil {
			return fmt.Errorf("localstore: set %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// Delete removes keys in one transaction. Missing keys are ignored.
func (db *DB) Delete(keys ...string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("localstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, k := range keys {
		if _, err := tx.Exec(`DELETE FROM kv WHERE key = ?`, k); err != nil {
			return fmt.Errorf("localstore: delete %s: %w", k, err)
		}
	}
	return tx.Commit()
}
