package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/uf-hy/qmdr/internal/config"
	"github.com/uf-hy/qmdr/internal/ingest"
	"github.com/uf-hy/qmdr/internal/watcher"
)

var (
	flagAllowRun bool
	flagWatch    bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Re-index all collections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		ctx := cmd.Context()

		if err := updateAll(ctx, a); err != nil {
			return err
		}
		if !flagWatch {
			return nil
		}
		return watchCollections(ctx, a)
	},
}

func updateAll(ctx context.Context, a *app) error {
	eng := ingest.New(a.store, a.cfg.MaxIndexFileBytes)
	eng.Progress = func(done int, path string) {
		a.sink.Progress(fmt.Sprintf("%d %s", done, path), -1)
	}
	defer a.sink.Done()

	for _, col := range a.cfg.Collections {
		if col.Update != "" {
			if !flagAllowRun {
				fmt.Fprintf(os.Stderr, "skipping update command for %s (pass --allow-run to execute)\n", col.Name)
			} else if err := runUpdateCommand(ctx, col); err != nil {
				fmt.Fprintf(os.Stderr, "update command for %s failed: %v\n", col.Name, err)
			}
		}

		summary, err := eng.SyncCollection(ctx, col.Name, col.Path, col.Glob)
		if err != nil {
			return fmt.Errorf("sync %s: %w", col.Name, err)
		}
		printSummary(summary)
	}
	return nil
}

func runUpdateCommand(ctx context.Context, col config.Collection) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", col.Update)
	cmd.Dir = col.Path
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func printSummary(s *ingest.Summary) {
	fmt.Fprintf(os.Stderr, "%s: %d scanned, %d added, %d updated, %d removed",
		s.Collection, s.Scanned, s.Added, s.Updated, len(s.Removed))
	for reason, n := range s.Skipped {
		fmt.Fprintf(os.Stderr, ", %d %s", n, reason)
	}
	fmt.Fprintln(os.Stderr)
}

// watchCollections keeps collections in sync until interrupted.
func watchCollections(ctx context.Context, a *app) error {
	roots := make([]watcher.Root, 0, len(a.cfg.Collections))
	byName := make(map[string]config.Collection, len(a.cfg.Collections))
	for _, col := range a.cfg.Collections {
		roots = append(roots, watcher.Root{Collection: col.Name, Path: col.Path})
		byName[col.Name] = col
	}

	eng := ingest.New(a.store, a.cfg.MaxIndexFileBytes)
	w, err := watcher.New(roots, 500*time.Millisecond, func(name string) {
		col := byName[name]
		if summary, err := eng.SyncCollection(ctx, col.Name, col.Path, col.Glob); err == nil {
			printSummary(summary)
		} else {
			fmt.Fprintf(os.Stderr, "watch sync %s: %v\n", name, err)
		}
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, "watching for changes (ctrl-c to stop)")
	err = w.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

func init() {
	updateCmd.Flags().BoolVar(&flagAllowRun, "allow-run", false, "execute collection update commands")
	updateCmd.Flags().BoolVar(&flagWatch, "watch", false, "keep watching for filesystem changes")
	rootCmd.AddCommand(updateCmd)
}
