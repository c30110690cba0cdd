package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "propstage",
	Short: "Stage property extract files into PostgreSQL",
	Long: `propstage picks up property extract files (xlsx, parquet, csv) from a drop
directory, renames them to {date}_{label}.{ext}, normalizes headers and values,
and bulk loads them into staging tables.

Configuration comes from the environment and an optional .env file.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format: table or json")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(loadDirCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(datasetsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.Version = version
}

func outputFormat(cmd *cobra.Command) (string, error) {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	if v != "table" && v != "json" {
		return "", fmt.Errorf("unsupported output format %q: use 'table' or 'json'", v)
	}
	return v, nil
}
