package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var flagBench bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose configuration and index health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		ctx := cmd.Context()

		fmt.Printf("config dir: %s\n", a.cfg.ConfigDir)
		fmt.Printf("index:      %s\n", a.cfg.IndexPath())
		fmt.Printf("collections configured: %d\n", len(a.cfg.Collections))

		health, err := a.engine.Health(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("documents: %d, needs embedding: %d\n", health.TotalDocs, health.NeedsEmbedding)

		if a.gw.EmbedAvailable() {
			fmt.Println("embedding provider: configured")
		} else {
			fmt.Fprintln(os.Stderr, "embedding provider: none (vsearch and query vector stages disabled)")
		}
		if a.gw.RerankAvailable() {
			fmt.Println("rerank provider: configured")
		} else {
			fmt.Fprintln(os.Stderr, "rerank provider: none (query degrades to fused scores)")
		}

		if flagBench {
			start := time.Now()
			if _, err := a.engine.Search(ctx, "benchmark probe", searchOptions()); err != nil {
				return err
			}
			fmt.Printf("bm25 search round trip: %s\n", time.Since(start))
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&flagBench, "bench", false, "run a timing probe")
	rootCmd.AddCommand(doctorCmd)
}
