package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uf-hy/qmdr/internal/chunk"
	qerrors "github.com/uf-hy/qmdr/internal/errors"
)

// InsertContent stores a content blob. Idempotent on hash: a blob that is
// already present is left untouched.
func (s *Store) InsertContent(ctx context.Context, hash, body string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO content (hash, doc, created_at) VALUES (?, ?, ?)`,
		hash, body, now.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("insert content %s: %w", chunk.DocID(hash), err)
	}
	return nil
}

// InsertDocument creates a new active document row. Fails with a conflict
// error when an active row already exists for (collection, path).
func (s *Store) InsertDocument(ctx context.Context, collection, path, title, hash string, created, modified time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM documents WHERE collection = ? AND path = ? AND active = 1`,
			collection, path).Scan(&existing)
		if err == nil {
			return qerrors.ConflictErr(fmt.Sprintf("active document already exists for %s/%s", collection, path))
		}
		if err != sql.ErrNoRows {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO documents (collection, path, title, hash, active, created_at, modified_at)
			 VALUES (?, ?, ?, ?, 1, ?, ?)`,
			collection, path, title, hash,
			created.UTC().Format(timeFormat), modified.UTC().Format(timeFormat))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// FindActiveDocument returns the active document at (collection, path), or
// nil when none exists.
func (s *Store) FindActiveDocument(ctx context.Context, collection, path string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, collection, path, title, hash, active, created_at, modified_at
		 FROM documents WHERE collection = ? AND path = ? AND active = 1`,
		collection, path)
	return scanDocument(row)
}

// UpdateDocument atomically points a document at new content.
func (s *Store) UpdateDocument(ctx context.Context, id int64, title, hash string, modified time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET title = ?, hash = ?, modified_at = ? WHERE id = ?`,
		title, hash, modified.UTC().Format(timeFormat), id)
	return err
}

// UpdateDocumentTitle updates only the title. Used when the body hash is
// unchanged but the derived title moved.
func (s *Store) UpdateDocumentTitle(ctx context.Context, id int64, title string, modified time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET title = ?, modified_at = ? WHERE id = ?`,
		title, modified.UTC().Format(timeFormat), id)
	return err
}

// DeactivateDocument soft-deletes the active row at (collection, path).
// Returns whether a row changed.
func (s *Store) DeactivateDocument(ctx context.Context, collection, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET active = 0 WHERE collection = ? AND path = ? AND active = 1`,
		collection, path)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeactivateMissing soft-deletes every active document in the collection
// whose path is not in seen. Returns the deactivated paths.
func (s *Store) DeactivateMissing(ctx context.Context, collection string, seen map[string]struct{}) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM documents WHERE collection = ? AND active = 1`, collection)
	if err != nil {
		return nil, err
	}
	var missing []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if _, ok := seen[p]; !ok {
			missing = append(missing, p)
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, p := range missing {
			if _, err := tx.ExecContext(ctx,
				`UPDATE documents SET active = 0 WHERE collection = ? AND path = ? AND active = 1`,
				collection, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return missing, nil
}

// ReconcileDocument reconciles one scanned file against the store inside a
// single transaction:
//
//	no active row            -> insert content + document
//	same hash, same title    -> no-op
//	same hash, new title     -> title update
//	different hash           -> insert content + repoint document
func (s *Store) ReconcileDocument(ctx context.Context, collection, path, title, hash, body string, created, modified time.Time) (Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	change := ChangeUnchanged
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var id int64
		var curTitle, curHash string
		err := tx.QueryRowContext(ctx,
			`SELECT id, title, hash FROM documents WHERE collection = ? AND path = ? AND active = 1`,
			collection, path).Scan(&id, &curTitle, &curHash)

		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO content (hash, doc, created_at) VALUES (?, ?, ?)`,
				hash, body, modified.UTC().Format(timeFormat)); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO documents (collection, path, title, hash, active, created_at, modified_at)
				 VALUES (?, ?, ?, ?, 1, ?, ?)`,
				collection, path, title, hash,
				created.UTC().Format(timeFormat), modified.UTC().Format(timeFormat)); err != nil {
				return err
			}
			change = ChangeAdded
			return nil

		case err != nil:
			return err

		case curHash == hash && curTitle == title:
			return nil

		case curHash == hash:
			change = ChangeTitleOnly
			_, err := tx.ExecContext(ctx,
				`UPDATE documents SET title = ?, modified_at = ? WHERE id = ?`,
				title, modified.UTC().Format(timeFormat), id)
			return err

		default:
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO content (hash, doc, created_at) VALUES (?, ?, ?)`,
				hash, body, modified.UTC().Format(timeFormat)); err != nil {
				return err
			}
			change = ChangeUpdated
			_, err := tx.ExecContext(ctx,
				`UPDATE documents SET title = ?, hash = ?, modified_at = ? WHERE id = ?`,
				title, hash, modified.UTC().Format(timeFormat), id)
			return err
		}
	})
	if err != nil {
		return ChangeUnchanged, err
	}
	return change, nil
}

// GetBody returns the content blob for a hash, or empty when absent.
func (s *Store) GetBody(ctx context.Context, hash string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var body string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM content WHERE hash = ?`, hash).Scan(&body)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return body, err
}

// ListDocuments returns active documents, optionally restricted to a
// collection and a path prefix, ordered by (collection, path).
func (s *Store) ListDocuments(ctx context.Context, collection, prefix string) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT id, collection, path, title, hash, active, created_at, modified_at
	      FROM documents WHERE active = 1`
	var args []any
	if collection != "" {
		q += ` AND collection = ?`
		args = append(args, collection)
	}
	if prefix != "" {
		q += ` AND path LIKE ?`
		args = append(args, prefix+"%")
	}
	q += ` ORDER BY collection, path`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocumentRows(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// ActiveCollections returns the distinct collection names that currently
// have active documents.
func (s *Store) ActiveCollections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT collection FROM documents WHERE active = 1 ORDER BY collection`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// ResolveDocID resolves a short hash prefix to the active document it
// identifies. Returns nil when no document matches, and a conflict error
// when the prefix is ambiguous.
func (s *Store) ResolveDocID(ctx context.Context, docid string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docid = strings.TrimPrefix(docid, "#")
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, collection, path, title, hash, active, created_at, modified_at
		 FROM documents WHERE active = 1 AND hash LIKE ? ORDER BY collection, path`,
		docid+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	hashes := make(map[string]struct{})
	for rows.Next() {
		d, err := scanDocumentRows(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
		hashes[d.Hash] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(docs) == 0:
		return nil, nil
	case len(hashes) > 1:
		return nil, qerrors.ConflictErr(fmt.Sprintf("docid %q matches %d distinct documents", docid, len(hashes)))
	default:
		return docs[0], nil
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row *sql.Row) (*Document, error) {
	d, err := scanDocumentRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func scanDocumentRows(row rowScanner) (*Document, error) {
	var d Document
	var active int
	var created, modified string
	if err := row.Scan(&d.ID, &d.Collection, &d.Path, &d.Title, &d.Hash, &active, &created, &modified); err != nil {
		return nil, err
	}
	d.Active = active == 1
	d.CreatedAt, _ = time.Parse(timeFormat, created)
	d.ModifiedAt, _ = time.Parse(timeFormat, modified)
	return &d, nil
}
