package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

var docsOutDir string

// docsCmd renders CLI reference markdown for every subcommand. It exists
// mainly to keep the cobra/doc -> yaml.v3 dependency chain exercised; it's
// hidden since operators fuzzing a device have no use for it.
var docsCmd = &cobra.Command{
	Use:    "docs",
	Short:  "Generate CLI reference markdown",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(docsOutDir, 0755); err != nil {
			return fmt.Errorf("docs: %w", err)
		}
		if err := doc.GenMarkdownTree(rootCmd, docsOutDir); err != nil {
			return fmt.Errorf("docs: %w", err)
		}
		fmt.Printf("wrote CLI reference to %s\n", docsOutDir)
		return nil
	},
}

func init() {
	docsCmd.Flags().StringVar(&docsOutDir, "out", "./docs", "output directory for generated markdown")
	rootCmd.AddCommand(docsCmd)
}
