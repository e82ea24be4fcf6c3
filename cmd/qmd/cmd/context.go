package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/uf-hy/qmdr/internal/config"
)

// splitContextPath parses a context target: "/" is global, otherwise
// "collection[/prefix]".
func splitContextPath(ref string) (collection, path string) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "qmd://")
	if ref == "" || ref == "/" {
		return "", "/"
	}
	collection, path, _ = strings.Cut(ref, "/")
	return collection, path
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage context annotations",
}

var contextAddCmd = &cobra.Command{
	Use:   "add [path] <text>",
	Short: "Attach a context annotation to a path prefix (/ means global)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(os.Getenv("QMD_CONFIG_DIR"), os.Getenv("QMD_DATA_DIR"))
		if err != nil {
			return err
		}
		ref, text := "/", args[0]
		if len(args) == 2 {
			ref, text = args[0], args[1]
		}
		collection, path := splitContextPath(ref)
		cfg.SetContext(collection, path, text)
		return cfg.Save()
	},
}

var contextListCmd = &cobra.Command{
	Use:   "list",
	Short: "List context annotations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(os.Getenv("QMD_CONFIG_DIR"), os.Getenv("QMD_DATA_DIR"))
		if err != nil {
			return err
		}
		for _, ctx := range cfg.Contexts {
			target := "/"
			if ctx.Collection != "" {
				target = ctx.Collection + "/" + ctx.Path
			}
			fmt.Printf("%s\t%s\n", target, ctx.Text)
		}
		return nil
	},
}

var contextCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report collections without context annotations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(os.Getenv("QMD_CONFIG_DIR"), os.Getenv("QMD_DATA_DIR"))
		if err != nil {
			return err
		}
		missing := 0
		for _, col := range cfg.Collections {
			if cfg.ResolveContext(col.Name, "") == "" {
				fmt.Printf("%s: no context\n", col.Name)
				missing++
			}
		}
		if missing == 0 {
			fmt.Fprintln(os.Stderr, "all collections have context")
		}
		return nil
	},
}

var contextRmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Remove a context annotation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(os.Getenv("QMD_CONFIG_DIR"), os.Getenv("QMD_DATA_DIR"))
		if err != nil {
			return err
		}
		collection, path := splitContextPath(args[0])
		if !cfg.RemoveContext(collection, path) {
			return fmt.Errorf("no context at %s", args[0])
		}
		return cfg.Save()
	},
}

func init() {
	contextCmd.AddCommand(contextAddCmd, contextListCmd, contextCheckCmd, contextRmCmd)
	rootCmd.AddCommand(contextCmd)
}
