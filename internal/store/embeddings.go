package store

import (
	"context"
	"fmt"
	"os"
	"time"

	qerrors "github.com/uf-hy/qmdr/internal/errors"
)

// vectorPath is where the sidecar HNSW index lives for file-backed stores.
func (s *Store) vectorPath() string {
	return s.path + ".vec"
}

// loadVectorIndex loads a previously built vector index, if any.
func (s *Store) loadVectorIndex() error {
	v, err := LoadVectorIndex(s.vectorPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	s.vec = v
	return nil
}

// VectorAvailable reports whether the vector subsystem can serve queries.
func (s *Store) VectorAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vec != nil
}

// VectorModel returns the embedding model the vector index was built with,
// or empty when no index exists.
func (s *Store) VectorModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.vec == nil {
		return ""
	}
	return s.vec.Model()
}

// EnsureVecTable creates the vector index at the given dimension if it does
// not exist yet. Fails with a dimension-mismatch error when an index at a
// different dimension is already present; the existing index is untouched.
func (s *Store) EnsureVecTable(dimension int, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dimension <= 0 {
		return fmt.Errorf("invalid vector dimension %d", dimension)
	}
	if s.vec != nil {
		if s.vec.Dim() != dimension {
			return qerrors.DimensionMismatchErr(s.vec.Dim(), dimension)
		}
		return nil
	}
	s.vec = NewVectorIndex(dimension, model)
	return nil
}

// InsertEmbedding stores one chunk vector keyed by (hash, seq).
func (s *Store) InsertEmbedding(ctx context.Context, hash string, seq, pos int, vector []float32, model string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vec == nil {
		return qerrors.VectorUnavailableErr(nil)
	}
	if err := s.vec.Add(VecKey(hash, seq), vector); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO content_vectors (hash, seq, pos, model, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		hash, seq, pos, model, now.UTC().Format(timeFormat))
	return err
}

// SearchVec runs a nearest-neighbor search at chunk granularity: one hit
// per matching (document, chunk), never deduplicated by file. Fails with a
// vector-unavailable error when no vector index exists, without corrupting
// the query.
func (s *Store) SearchVec(ctx context.Context, embedding []float32, model string, limit int, collections []string) ([]*VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if s.vec == nil {
		return nil, qerrors.VectorUnavailableErr(nil)
	}
	if limit <= 0 {
		return []*VectorHit{}, nil
	}

	// Oversample: lazily-deleted nodes and inactive documents thin the
	// candidate list before the limit applies.
	neighbors, err := s.vec.Search(embedding, limit*4)
	if err != nil {
		return nil, err
	}

	collFilter := make(map[string]struct{}, len(collections))
	for _, c := range collections {
		collFilter[c] = struct{}{}
	}

	stmt, err := s.db.PrepareContext(ctx, `
		SELECT d.collection, d.path, d.title, cv.pos
		FROM content_vectors cv
		JOIN documents d ON d.hash = cv.hash AND d.active = 1
		WHERE cv.hash = ? AND cv.seq = ?
		ORDER BY d.collection, d.path`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var hits []*VectorHit
	for _, n := range neighbors {
		hash, seq, ok := SplitVecKey(n.Key)
		if !ok {
			continue
		}
		rows, err := stmt.QueryContext(ctx, hash, seq)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var h VectorHit
			if err := rows.Scan(&h.Collection, &h.Path, &h.Title, &h.Pos); err != nil {
				_ = rows.Close()
				return nil, err
			}
			if len(collFilter) > 0 {
				if _, ok := collFilter[h.Collection]; !ok {
					continue
				}
			}
			h.Hash = hash
			h.Seq = seq
			h.Score = n.Score
			hits = append(hits, &h)
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if len(hits) >= limit {
			hits = hits[:limit]
			break
		}
	}
	return hits, nil
}

// ClearAllEmbeddings drops every chunk vector and the on-disk index files.
func (s *Store) ClearAllEmbeddings(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM content_vectors`); err != nil {
		return err
	}
	s.vec = nil
	if s.path != "" {
		_ = os.Remove(s.vectorPath())
		_ = os.Remove(s.vectorPath() + ".meta")
	}
	return nil
}

// HashesNeedingEmbedding returns content hashes referenced by active
// documents that have no vector for the given model.
func (s *Store) HashesNeedingEmbedding(ctx context.Context, model string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT d.hash
		FROM documents d
		LEFT JOIN content_vectors cv ON cv.hash = d.hash AND cv.model = ?
		WHERE d.active = 1 AND cv.hash IS NULL
		ORDER BY d.hash`, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// ContentForHashes returns the bodies for a set of content hashes.
func (s *Store) ContentForHashes(ctx context.Context, hashes []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bodies := make(map[string]string, len(hashes))
	stmt, err := s.db.PrepareContext(ctx, `SELECT doc FROM content WHERE hash = ?`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for _, h := range hashes {
		var body string
		if err := stmt.QueryRowContext(ctx, h).Scan(&body); err != nil {
			continue // orphaned reference; cleanup handles it
		}
		bodies[h] = body
	}
	return bodies, nil
}
