package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/uf-hy/qmdr/internal/mcp"
	"github.com/uf-hy/qmdr/pkg/version"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report index health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		ctx := cmd.Context()

		health, err := a.engine.Health(ctx)
		if err != nil {
			return err
		}
		collections, err := a.store.ActiveCollections(ctx)
		if err != nil {
			return err
		}

		if flagJSON {
			return json.NewEncoder(os.Stdout).Encode(map[string]any{
				"index":            a.cfg.IndexPath(),
				"collections":      collections,
				"total_docs":       health.TotalDocs,
				"needs_embedding":  health.NeedsEmbedding,
				"days_stale":       health.DaysStale,
				"vector_available": a.store.VectorAvailable(),
			})
		}

		fmt.Printf("index:           %s\n", a.cfg.IndexPath())
		fmt.Printf("collections:     %d\n", len(collections))
		fmt.Printf("documents:       %d\n", health.TotalDocs)
		fmt.Printf("needs embedding: %d\n", health.NeedsEmbedding)
		fmt.Printf("days stale:      %.1f\n", health.DaysStale)
		fmt.Printf("vector index:    %v\n", a.store.VectorAvailable())
		return nil
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the qmd tool suite over MCP stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		srv, err := mcp.NewServer(a.engine, a.store)
		if err != nil {
			return err
		}
		return srv.Run(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, mcpCmd, versionCmd)
}
