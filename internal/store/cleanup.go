package store

import (
	"context"
	"time"
)

// CleanupOrphanedContent deletes content blobs no document row references.
// Returns the number of blobs removed.
func (s *Store) CleanupOrphanedContent(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM content WHERE hash NOT IN (SELECT DISTINCT hash FROM documents)`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CleanupOrphanedVectors deletes chunk vectors whose content blob is gone.
// Returns the number of vectors removed.
func (s *Store) CleanupOrphanedVectors(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT cv.hash, cv.seq FROM content_vectors cv
		 LEFT JOIN content c ON c.hash = cv.hash
		 WHERE c.hash IS NULL`)
	if err != nil {
		return 0, err
	}
	var keys []string
	for rows.Next() {
		var hash string
		var seq int
		if err := rows.Scan(&hash, &seq); err != nil {
			_ = rows.Close()
			return 0, err
		}
		keys = append(keys, VecKey(hash, seq))
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM content_vectors WHERE hash NOT IN (SELECT hash FROM content)`)
	if err != nil {
		return 0, err
	}
	if s.vec != nil {
		s.vec.Remove(keys)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteInactiveDocuments prunes soft-deleted history rows.
// Returns the number of rows removed.
func (s *Store) DeleteInactiveDocuments(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE active = 0`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetIndexHealth reports how much of the corpus still needs embedding and
// how stale the index is.
func (s *Store) GetIndexHealth(ctx context.Context, model string, now time.Time) (IndexHealth, error) {
	var health IndexHealth

	needing, err := s.HashesNeedingEmbedding(ctx, model)
	if err != nil {
		return health, err
	}
	health.NeedsEmbedding = len(needing)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE active = 1`).Scan(&health.TotalDocs); err != nil {
		return health, err
	}

	var latest string
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(modified_at), '') FROM documents WHERE active = 1`).Scan(&latest)
	if err != nil {
		return health, err
	}
	if latest != "" {
		if t, err := time.Parse(timeFormat, latest); err == nil {
			health.DaysStale = now.Sub(t).Hours() / 24
			if health.DaysStale < 0 {
				health.DaysStale = 0
			}
		}
	}
	return health, nil
}
