package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Root is one watched collection root.
type Root struct {
	Collection string
	Path       string
}

// Watcher maps filesystem events under collection roots to debounced
// per-collection sync callbacks.
type Watcher struct {
	fs        *fsnotify.Watcher
	debouncer *Debouncer
	roots     []Root
}

// New creates a watcher over the given roots. onChange runs once per
// collection per event burst.
func New(roots []Root, quietPeriod time.Duration, onChange func(collection string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fs:        fw,
		debouncer: NewDebouncer(quietPeriod, onChange),
		roots:     roots,
	}
	for _, root := range roots {
		if err := w.addRecursive(root.Path); err != nil {
			_ = fw.Close()
			return nil, err
		}
	}
	return w, nil
}

// addRecursive registers a directory tree, skipping hidden and dependency
// directories the ingester would not scan anyway.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		base := d.Name()
		if p != dir && (strings.HasPrefix(base, ".") || base == "node_modules" || base == "vendor") {
			return filepath.SkipDir
		}
		return w.fs.Add(p)
	})
}

// Run pumps events until the context ends.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.debouncer.Close()
	defer func() { _ = w.fs.Close() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			// New directories need registering to keep the tree covered.
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(ev.Name)
				}
			}
			if col := w.collectionFor(ev.Name); col != "" {
				w.debouncer.Hit(col)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

// collectionFor maps an event path to its owning collection.
func (w *Watcher) collectionFor(p string) string {
	for _, root := range w.roots {
		if p == root.Path || strings.HasPrefix(p, root.Path+string(filepath.Separator)) {
			return root.Collection
		}
	}
	return ""
}
