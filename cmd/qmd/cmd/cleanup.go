package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Drop the LLM cache, remove orphans, and compact the database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		ctx := cmd.Context()

		a.gw.PurgeCache()

		docs, err := a.store.DeleteInactiveDocuments(ctx)
		if err != nil {
			return err
		}
		content, err := a.store.CleanupOrphanedContent(ctx)
		if err != nil {
			return err
		}
		vectors, err := a.store.CleanupOrphanedVectors(ctx)
		if err != nil {
			return err
		}
		if err := a.store.Vacuum(ctx); err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "removed %d inactive documents, %d orphaned blobs, %d orphaned vectors\n",
			docs, content, vectors)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
