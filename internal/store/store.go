// Package store owns all persistent state: the relational schema, the FTS5
// index kept in sync by triggers, and the chunk-level vector index. It is
// the only package that touches the database handle.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	qerrors "github.com/uf-hy/qmdr/internal/errors"
)

// Store wraps the SQLite database and the sidecar vector index.
// A single process holds the write handle at a time; an advisory lock file
// guards that invariant for file-backed stores.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	lock   *flock.Flock
	vec    *VectorIndex
	closed bool
}

// timeFormat is how timestamps are stored in the database.
const timeFormat = time.RFC3339

// Open opens (or creates) the index database at path. An empty path opens an
// in-memory store for tests.
func Open(path string) (*Store, error) {
	var dsn string
	var lock *flock.Flock

	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}

		lock = flock.New(path + ".lock")
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire index lock: %w", err)
		}
		if !locked {
			return nil, qerrors.ConflictErr(fmt.Sprintf("index %s is locked by another process", path))
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer keeps lock contention out of the driver.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores some DSN params; set pragmas explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			if lock != nil {
				_ = lock.Unlock()
			}
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db, path: path, lock: lock}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	// Load an existing vector index if one was built before.
	if path != "" {
		if err := s.loadVectorIndex(); err != nil {
			slog.Warn("vector index not loaded",
				slog.String("path", s.vectorPath()),
				slog.String("error", err.Error()))
		}
	}

	return s, nil
}

// initSchema creates the tables, the FTS5 virtual table, and the triggers
// that keep the full-text index derived from documents + content.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS content (
		hash       TEXT PRIMARY KEY,
		doc        TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		collection  TEXT NOT NULL,
		path        TEXT NOT NULL,
		title       TEXT NOT NULL,
		hash        TEXT NOT NULL REFERENCES content(hash),
		active      INTEGER NOT NULL DEFAULT 1,
		created_at  TEXT NOT NULL,
		modified_at TEXT NOT NULL
	);

	-- At most one active row per (collection, path).
	CREATE UNIQUE INDEX IF NOT EXISTS documents_active_unique
		ON documents(collection, path) WHERE active = 1;
	CREATE INDEX IF NOT EXISTS documents_hash ON documents(hash);

	CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
		path, title, body,
		tokenize='unicode61 remove_diacritics 2'
	);

	-- Only active documents live in the FTS index.
	CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents
	WHEN new.active = 1
	BEGIN
		INSERT INTO documents_fts(rowid, path, title, body)
		SELECT new.id, new.collection || '/' || new.path, new.title,
			(SELECT doc FROM content WHERE hash = new.hash);
	END;

	CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents
	BEGIN
		DELETE FROM documents_fts WHERE rowid = old.id;
	END;

	CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents
	BEGIN
		DELETE FROM documents_fts WHERE rowid = old.id;
		INSERT INTO documents_fts(rowid, path, title, body)
		SELECT new.id, new.collection || '/' || new.path, new.title,
			(SELECT doc FROM content WHERE hash = new.hash)
		WHERE new.active = 1;
	END;

	CREATE TABLE IF NOT EXISTS content_vectors (
		hash       TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		pos        INTEGER NOT NULL DEFAULT 0,
		model      TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (hash, seq)
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path (empty for in-memory stores).
func (s *Store) Path() string {
	return s.path
}

// Vacuum compacts the database and checkpoints the WAL.
func (s *Store) Vacuum(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Close checkpoints, persists the vector index, and releases the lock.
// Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.vec != nil && s.path != "" {
		if err := s.vec.Save(s.vectorPath()); err != nil {
			slog.Warn("vector index not saved", slog.String("error", err.Error()))
		}
	}

	var firstErr error
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		firstErr = s.db.Close()
	}
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// withTx runs fn inside a single transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
