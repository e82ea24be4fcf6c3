package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	flagQueryTimeout time.Duration
	flagProfile      bool
	flagVerbose      bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "BM25 full-text search",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		results, err := a.engine.Search(cmd.Context(), joinArgs(args), searchOptions())
		if err != nil {
			return err
		}
		return emit(results, outputFormat())
	},
}

var vsearchCmd = &cobra.Command{
	Use:   "vsearch <query>",
	Short: "Vector similarity search",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := a.queryContext(cmd.Context(), 0)
		defer cancel()

		results, err := a.engine.VectorSearch(ctx, joinArgs(args), searchOptions())
		if err != nil {
			return err
		}
		return emit(results, outputFormat())
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <query>",
	Short: "Full hybrid pipeline: expansion, retrieval, fusion, rerank",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := a.queryContext(cmd.Context(), flagQueryTimeout)
		defer cancel()

		start := time.Now()
		results, err := a.engine.Query(ctx, joinArgs(args), searchOptions())
		if err != nil {
			return err
		}
		if flagProfile {
			a.sink.Progress("query took "+time.Since(start).String(), -1)
			a.sink.Done()
		}
		return emit(results, outputFormat())
	},
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

func init() {
	queryCmd.Flags().DurationVar(&flagQueryTimeout, "timeout", 0, "caller-visible timeout for all outbound requests")
	queryCmd.Flags().BoolVar(&flagProfile, "profile", false, "report pipeline timing")
	queryCmd.Flags().BoolVar(&flagVerbose, "verbose", false, "verbose pipeline logging")
	rootCmd.AddCommand(searchCmd, vsearchCmd, queryCmd)
}
