// Package localdb provides the embedded SQLite database backing Satchel's
// offline-first storage.
//
// The database runs in embedded mode with WAL for concurrency support and
// holds two independent document spaces plus sync bookkeeping:
//
//   - documents: the fully-synced space, reconciled against the remote
//     backend. Rows carry a dirty flag (local change not yet pushed) and a
//     synced flag (the remote side has held this row at least once).
//   - offline_documents: the offline-only space for users without sync
//     entitlement. No sync concepts apply; rows are plain (id, payload).
//   - journal: pending local mutations (upserts and deletes) waiting to be
//     pushed to the remote backend.
//   - sync_state: per-collection reconciliation bookkeeping.
//
// All writes enforce last-write-wins by updated_at at the SQL level: an
// upsert that would lower a stored timestamp is a no-op, never a silent
// overwrite with stale data.
package localdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the embedded SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created; call InitSchema before
// first use.
//
// The caller MUST call Close() when done to ensure proper cleanup.
func Open(path string) (*DB, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
// This is useful for integrating with other libraries that expect *sql.DB.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the filesystem path of the database file.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing; best effort
	_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates the document spaces, journal, and sync bookkeeping
// tables if they don't exist. Safe to call on every startup.
func (db *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		owner_id   TEXT NOT NULL,
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		payload    TEXT NOT NULL,
		dirty      INTEGER NOT NULL DEFAULT 0,
		synced     INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (owner_id, collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_meta
		ON documents(owner_id, collection, updated_at);

	CREATE TABLE IF NOT EXISTS offline_documents (
		owner_id   TEXT NOT NULL,
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		payload    TEXT NOT NULL,
		PRIMARY KEY (owner_id, collection, id)
	);

	CREATE TABLE IF NOT EXISTS journal (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id   TEXT NOT NULL,
		collection TEXT NOT NULL,
		doc_id     TEXT NOT NULL,
		op         TEXT NOT NULL CHECK (op IN ('upsert', 'delete')),
		queued_at  INTEGER NOT NULL,
		attempts   INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_journal_key
		ON journal(owner_id, collection);

	CREATE TABLE IF NOT EXISTS sync_state (
		owner_id        TEXT NOT NULL,
		collection      TEXT NOT NULL,
		last_pass_at    INTEGER NOT NULL DEFAULT 0,
		last_success_at INTEGER NOT NULL DEFAULT 0,
		last_error      TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (owner_id, collection)
	);
	`

	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}
