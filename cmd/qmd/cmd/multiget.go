package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/uf-hy/qmdr/internal/output"
	"github.com/uf-hy/qmdr/internal/search"
)

var (
	flagMultiLines    int
	flagMultiMaxBytes int
)

var multiGetCmd = &cobra.Command{
	Use:   "multi-get <pattern>",
	Short: "Print documents matching a glob or comma-separated list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		views, err := a.engine.MultiGet(cmd.Context(), args[0], flagMultiMaxBytes)
		if err != nil {
			return err
		}

		format := outputFormat()
		if format.Machine() && format != output.FormatFiles {
			results := make([]*search.Result, 0, len(views))
			for _, v := range views {
				results = append(results, &search.Result{
					Docid: v.Docid, File: v.File, Title: v.Title,
					Body: clipLines(v.Body, flagMultiLines), Snippet: clipLines(v.Body, 3),
				})
			}
			return emit(results, format)
		}
		if format == output.FormatFiles {
			for _, v := range views {
				fmt.Println(v.File)
			}
			return nil
		}

		for _, v := range views {
			fmt.Printf("==> %s <==\n", v.File)
			fmt.Println(clipLines(v.Body, flagMultiLines))
		}
		return nil
	},
}

// clipLines keeps the first n lines of a body; n <= 0 keeps everything.
func clipLines(body string, n int) string {
	if n <= 0 {
		return body
	}
	lines := strings.Split(body, "\n")
	if len(lines) <= n {
		return body
	}
	return strings.Join(lines[:n], "\n")
}

func init() {
	multiGetCmd.Flags().IntVarP(&flagMultiLines, "lines", "l", 0, "lines to print per document")
	multiGetCmd.Flags().IntVar(&flagMultiMaxBytes, "max-bytes", 0, "bound on total body bytes")
	rootCmd.AddCommand(multiGetCmd)
}
