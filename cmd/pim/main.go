package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "pim",
	Short:         "Paragraph injection manager",
	Long:          "pim assigns each article a category-linked message once and splices it between paragraphs at render time.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(categoriesCmd)
	rootCmd.AddCommand(itemsCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Fprintf(os.Stderr, "pim version %s\n", version)
}
