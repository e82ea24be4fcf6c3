package store

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// BuildFTSQuery turns a raw user query into an FTS5 match expression with
// phrase > proximity > any-term ranking:
//
//	("t1 t2") OR NEAR("t1" "t2", 10) OR ("t1" OR "t2")
//
// The input is sanitized to alphanumerics plus apostrophes; terms shorter
// than two characters are dropped. Returns "" when nothing queryable
// remains.
func BuildFTSQuery(query string) string {
	sanitized := sanitizeFTS(query)
	fields := strings.Fields(sanitized)

	words := make([]string, 0, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 2 {
			words = append(words, f)
			terms = append(terms, `"`+f+`"`)
		}
	}

	switch len(terms) {
	case 0:
		return ""
	case 1:
		return terms[0]
	}

	phrase := `"` + strings.Join(words, " ") + `"`
	near := "NEAR(" + strings.Join(terms, " ") + ", 10)"
	any := strings.Join(terms, " OR ")
	return "(" + phrase + ") OR " + near + " OR (" + any + ")"
}

// sanitizeFTS keeps letters, digits, and apostrophes; everything else
// becomes a space.
func sanitizeFTS(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for _, r := range query {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '\'':
			b.WriteRune(r)
		case r > 127:
			// Keep non-ASCII (CJK etc.); unicode61 tokenizes it.
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(b.String())
}

// NormalizeBM25 maps FTS5's negative bm25() rank onto a stable [0,1] score:
// 1 / (1 + exp(-(|s|-5)/3)). Monotone in |s|.
func NormalizeBM25(raw float64) float64 {
	return 1.0 / (1.0 + math.Exp(-(math.Abs(raw)-5.0)/3.0))
}

// SearchFTS runs a BM25 full-text search. Results are per-document with the
// best snippet FTS5 found. When collections is non-empty, the result is the
// union across those collections.
func (s *Store) SearchFTS(ctx context.Context, query string, limit int, collections []string) ([]*SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	match := BuildFTSQuery(query)
	if match == "" || limit <= 0 {
		return []*SearchResult{}, nil
	}

	q := `
		SELECT d.id, d.collection, d.path, d.title, d.hash,
		       snippet(documents_fts, 2, '', '', '…', 16),
		       bm25(documents_fts)
		FROM documents_fts
		JOIN documents d ON d.id = documents_fts.rowid
		WHERE documents_fts MATCH ? AND d.active = 1`
	args := []any{match}
	if len(collections) > 0 {
		q += ` AND d.collection IN (` + placeholders(len(collections)) + `)`
		for _, c := range collections {
			args = append(args, c)
		}
	}
	q += ` ORDER BY bm25(documents_fts) LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		// FTS5 reports malformed match expressions as query errors; treat
		// them as no results rather than failing the pipeline.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return []*SearchResult{}, nil
		}
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		var r SearchResult
		var raw float64
		if err := rows.Scan(&r.DocID, &r.Collection, &r.Path, &r.Title, &r.Hash, &r.Snippet, &raw); err != nil {
			return nil, fmt.Errorf("scan fts result: %w", err)
		}
		r.Score = NormalizeBM25(raw)
		results = append(results, &r)
	}
	return results, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
