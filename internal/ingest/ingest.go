// Package ingest reconciles a collection's filesystem state with the store:
// walk, safety filters, content hashing, and transactional upserts with
// soft deletion of vanished files.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/uf-hy/qmdr/internal/chunk"
	"github.com/uf-hy/qmdr/internal/store"
)

// DefaultMaxFileBytes caps indexable file size at 64 MiB.
const DefaultMaxFileBytes = 64 << 20

// Directories skipped during the walk, wherever they appear.
var excludedDirs = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	".cache":       {},
	"vendor":       {},
	"dist":         {},
	"build":        {},
}

// SkipReason records why a file was left out of the index.
type SkipReason string

const (
	SkipSymlinkEscape SkipReason = "symlink_escape"
	SkipTooLarge      SkipReason = "too_large"
	SkipBinary        SkipReason = "binary"
	SkipUnreadable    SkipReason = "unreadable"
)

// Summary is the outcome of one collection sync.
type Summary struct {
	Collection string
	Scanned    int
	Added      int
	Updated    int
	TitleOnly  int
	Unchanged  int
	Removed    []string
	Skipped    map[SkipReason]int
}

// Engine syncs collections into the store.
type Engine struct {
	store        *store.Store
	maxFileBytes int64
	now          func() time.Time

	// Progress, when set, is called after each file with the running count.
	Progress func(done int, path string)
}

// New creates an ingestion engine. maxFileBytes values of zero or below
// fall back to the default.
func New(st *store.Store, maxFileBytes int64) *Engine {
	if maxFileBytes <= 0 {
		maxFileBytes = DefaultMaxFileBytes
	}
	return &Engine{store: st, maxFileBytes: maxFileBytes, now: time.Now}
}

// candidate is one file that passed every safety filter.
type candidate struct {
	path     string // normalized relative path
	body     string
	modified time.Time
}

// SyncCollection reconciles root/glob against the named collection. Each
// document's reconciliation is a single transaction; files that fail a
// safety filter are counted and skipped without failing the sync.
func (e *Engine) SyncCollection(ctx context.Context, name, root, glob string) (*Summary, error) {
	summary := &Summary{Collection: name, Skipped: make(map[SkipReason]int)}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	candidates, err := e.walk(ctx, realRoot, glob, summary)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		hash := chunk.HashContent(c.body)
		title := chunk.ExtractTitle(c.body, c.path)
		change, err := e.store.ReconcileDocument(ctx, name, c.path, title, hash, c.body, c.modified, c.modified)
		if err != nil {
			return nil, fmt.Errorf("reconcile %s: %w", c.path, err)
		}
		seen[c.path] = struct{}{}

		switch change {
		case store.ChangeAdded:
			summary.Added++
		case store.ChangeUpdated:
			summary.Updated++
		case store.ChangeTitleOnly:
			summary.TitleOnly++
		default:
			summary.Unchanged++
		}
		summary.Scanned++
		if e.Progress != nil {
			e.Progress(summary.Scanned, c.path)
		}
	}

	removed, err := e.store.DeactivateMissing(ctx, name, seen)
	if err != nil {
		return nil, fmt.Errorf("deactivate missing: %w", err)
	}
	summary.Removed = removed

	if _, err := e.store.CleanupOrphanedContent(ctx); err != nil {
		return nil, fmt.Errorf("cleanup orphaned content: %w", err)
	}

	slog.Info("collection synced",
		slog.String("collection", name),
		slog.Int("scanned", summary.Scanned),
		slog.Int("added", summary.Added),
		slog.Int("updated", summary.Updated),
		slog.Int("removed", len(summary.Removed)))
	return summary, nil
}

// walk collects candidates in deterministic order, applying the safety
// filters and normalized-path disambiguation.
func (e *Engine) walk(ctx context.Context, realRoot, glob string, summary *Summary) ([]candidate, error) {
	type raw struct {
		rel      string
		body     string
		modified time.Time
	}
	var files []raw

	err := filepath.WalkDir(realRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("walk error", slog.String("path", p), slog.String("error", err.Error()))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		base := d.Name()
		if d.IsDir() {
			if p == realRoot {
				return nil
			}
			if _, excluded := excludedDirs[base]; excluded || strings.HasPrefix(base, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(base, ".") {
			return nil
		}

		rel, err := filepath.Rel(realRoot, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !MatchGlob(glob, rel) {
			return nil
		}

		body, modified, reason := e.readSafe(realRoot, p)
		if reason != "" {
			summary.Skipped[reason]++
			return nil
		}
		if strings.TrimSpace(body) == "" {
			return nil // empty files are skipped silently
		}

		files = append(files, raw{rel: rel, body: body, modified: modified})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Deterministic reconcile and disambiguation order.
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })

	candidates := make([]candidate, 0, len(files))
	taken := make(map[string]struct{}, len(files))
	for _, f := range files {
		p := disambiguate(normalizePath(f.rel), f.rel, taken)
		taken[p] = struct{}{}
		candidates = append(candidates, candidate{path: p, body: f.body, modified: f.modified})
	}
	return candidates, nil
}

// readSafe applies the per-file safety filters in order: symlink escape,
// size cap, NUL sniff, strict UTF-8.
func (e *Engine) readSafe(realRoot, p string) (string, time.Time, SkipReason) {
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", time.Time{}, SkipUnreadable
	}
	if !underRoot(realRoot, real) {
		return "", time.Time{}, SkipSymlinkEscape
	}

	info, err := os.Stat(real)
	if err != nil {
		return "", time.Time{}, SkipUnreadable
	}
	if info.Size() > e.maxFileBytes {
		return "", time.Time{}, SkipTooLarge
	}

	data, err := os.ReadFile(real)
	if err != nil {
		return "", time.Time{}, SkipUnreadable
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", time.Time{}, SkipBinary
	}
	if !utf8.Valid(data) {
		return "", time.Time{}, SkipUnreadable
	}
	return string(data), info.ModTime(), ""
}

// underRoot reports whether real is root itself or inside it. On
// case-insensitive filesystems the comparison is case-folded.
func underRoot(root, real string) bool {
	if caseInsensitiveFS() {
		root = strings.ToLower(root)
		real = strings.ToLower(real)
	}
	if real == root {
		return true
	}
	return strings.HasPrefix(real, root+string(filepath.Separator))
}

func caseInsensitiveFS() bool {
	return runtime.GOOS == "darwin" || runtime.GOOS == "windows"
}

// normalizePath collapses a slash-separated relative path into its stable
// stored form.
func normalizePath(rel string) string {
	return path.Clean(strings.ReplaceAll(rel, "\\", "/"))
}

// disambiguate resolves normalized-path collisions deterministically: fall
// back to the raw relative path, then suffix ~N.
func disambiguate(normalized, raw string, taken map[string]struct{}) string {
	if _, dup := taken[normalized]; !dup {
		return normalized
	}
	if _, dup := taken[raw]; !dup && raw != normalized {
		return raw
	}
	for n := 1; ; n++ {
		p := fmt.Sprintf("%s~%d", normalized, n)
		if _, dup := taken[p]; !dup {
			return p
		}
	}
}
