package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/uf-hy/qmdr/internal/config"
)

var (
	flagCollectionName string
	flagCollectionMask string
)

var collectionCmd = &cobra.Command{
	Use:   "collection",
	Short: "Manage collections",
}

var collectionAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a directory as a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(os.Getenv("QMD_CONFIG_DIR"), os.Getenv("QMD_DATA_DIR"))
		if err != nil {
			return err
		}

		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			return fmt.Errorf("not a directory: %s", root)
		}

		name := flagCollectionName
		if name == "" {
			name = filepath.Base(root)
		}
		if err := cfg.AddCollection(config.Collection{Name: name, Path: root, Glob: flagCollectionMask}); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "added collection %s (%s)\n", name, root)
		return nil
	},
}

var collectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured collections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(os.Getenv("QMD_CONFIG_DIR"), os.Getenv("QMD_DATA_DIR"))
		if err != nil {
			return err
		}
		for _, col := range cfg.Collections {
			glob := col.Glob
			if glob == "" {
				glob = "**/*.md"
			}
			fmt.Printf("%s\t%s\t%s\n", col.Name, col.Path, glob)
		}
		return nil
	},
}

var collectionRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a collection from the config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(os.Getenv("QMD_CONFIG_DIR"), os.Getenv("QMD_DATA_DIR"))
		if err != nil {
			return err
		}
		if !cfg.RemoveCollection(args[0]) {
			return fmt.Errorf("collection %q not found", args[0])
		}
		return cfg.Save()
	},
}

var collectionRenameCmd = &cobra.Command{
	Use:   "rename <from> <to>",
	Short: "Rename a collection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(os.Getenv("QMD_CONFIG_DIR"), os.Getenv("QMD_DATA_DIR"))
		if err != nil {
			return err
		}
		if err := cfg.RenameCollection(args[0], args[1]); err != nil {
			return err
		}
		return cfg.Save()
	},
}

func init() {
	collectionAddCmd.Flags().StringVar(&flagCollectionName, "name", "", "collection name (default: directory name)")
	collectionAddCmd.Flags().StringVar(&flagCollectionMask, "mask", "", "glob pattern (default **/*.md)")

	collectionCmd.AddCommand(collectionAddCmd, collectionListCmd, collectionRemoveCmd, collectionRenameCmd)
	rootCmd.AddCommand(collectionCmd)
}
