package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var (
	flagFromLine int
	flagGetLines int
)

var lsCmd = &cobra.Command{
	Use:   "ls [collection[/prefix]]",
	Short: "List collections or files by virtual path",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		ctx := cmd.Context()

		if len(args) == 0 {
			names, err := a.store.ActiveCollections(ctx)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		}

		docs, err := a.engine.List(ctx, args[0])
		if err != nil {
			return err
		}
		for _, d := range docs {
			fmt.Printf("qmd://%s/%s\n", d.Collection, d.Path)
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <fileref>[:<line>]",
	Short: "Print one document by path, qmd:// reference, or #docid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := args[0]

		// A plain filesystem path works without touching the index.
		if body, err := os.ReadFile(ref); err == nil {
			printBody(string(body), flagFromLine, flagGetLines, flagLineNumbers)
			return nil
		}

		ref, line := splitLineSuffix(ref)
		from := flagFromLine
		if line > 0 {
			from = line
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		v, err := a.engine.Get(cmd.Context(), ref)
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("document not found: %s", args[0])
		}
		printBody(v.Body, from, flagGetLines, flagLineNumbers)
		return nil
	},
}

// splitLineSuffix strips a trailing ":<line>" from a fileref.
func splitLineSuffix(ref string) (string, int) {
	i := strings.LastIndexByte(ref, ':')
	if i < 0 {
		return ref, 0
	}
	n, err := strconv.Atoi(ref[i+1:])
	if err != nil || n <= 0 {
		return ref, 0
	}
	return ref[:i], n
}

// printBody writes a body window to stdout with optional line numbers.
// from is 1-based; count 0 means to the end.
func printBody(body string, from, count int, numbers bool) {
	lines := strings.Split(body, "\n")
	start := 0
	if from > 0 {
		start = from - 1
	}
	if start >= len(lines) {
		return
	}
	end := len(lines)
	if count > 0 && start+count < end {
		end = start + count
	}
	for i := start; i < end; i++ {
		if numbers {
			fmt.Printf("%6d\t%s\n", i+1, lines[i])
		} else {
			fmt.Println(lines[i])
		}
	}
}

func init() {
	getCmd.Flags().IntVar(&flagFromLine, "from", 0, "first line to print (1-based)")
	getCmd.Flags().IntVarP(&flagGetLines, "lines", "l", 0, "number of lines to print")
	rootCmd.AddCommand(lsCmd, getCmd)
}
