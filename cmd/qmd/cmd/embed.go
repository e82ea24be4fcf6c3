package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/uf-hy/qmdr/internal/embed"
)

var (
	flagEmbedForce   bool
	flagEmbedTimeout time.Duration
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Build or rebuild the vector index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := a.queryContext(cmd.Context(), flagEmbedTimeout)
		defer cancel()

		eng := embed.New(a.store, a.gw)
		eng.Progress = func(done, total int64) {
			frac := -1.0
			if total > 0 {
				frac = float64(done) / float64(total)
			}
			a.sink.Progress(fmt.Sprintf("embedding %d/%d bytes", done, total), frac)
		}
		defer a.sink.Done()

		stats, err := eng.Run(ctx, flagEmbedForce)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "embedded %d chunks across %d documents (%d failed, dim %d, model %s)\n",
			stats.Chunks, stats.Hashes, stats.Failed, stats.Dimension, stats.Model)
		return nil
	},
}

func init() {
	embedCmd.Flags().BoolVarP(&flagEmbedForce, "force", "f", false, "clear existing vectors and rebuild")
	embedCmd.Flags().DurationVar(&flagEmbedTimeout, "timeout", 0, "per-operation timeout override")
	rootCmd.AddCommand(embedCmd)
}
