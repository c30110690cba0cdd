package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/propstage/internal/ingest"
	"github.com/JonMunkholm/propstage/internal/loader"
	"github.com/JonMunkholm/propstage/internal/pipeline"
	"github.com/JonMunkholm/propstage/internal/schema"
)

var loadDirCmd = &cobra.Command{
	Use:   "load-dir DIR",
	Short: "Load files from a directory into a table as text",
	Long: `Loads csv, xlsx or parquet files from DIR into --table without a dataset
schema: headers are canonicalized and every value is sent as text, so the
table's column types do the conversion. Column renames come from --dataset;
pass --dataset "" to keep canonical names as they are. Use it for ad hoc
backfills.`,
	Args: cobra.ExactArgs(1),
	RunE: runLoadDir,
}

func init() {
	loadDirCmd.Flags().String("table", "", "target table as schema.table (required)")
	loadDirCmd.Flags().String("mode", "append", "replace or append")
	loadDirCmd.Flags().String("selection", "latest", "latest or all")
	loadDirCmd.Flags().String("dataset", schema.PropExtract, "dataset whose column renames apply")
	loadDirCmd.MarkFlagRequired("table")
}

func runLoadDir(cmd *cobra.Command, args []string) error {
	table, _ := cmd.Flags().GetString("table")
	target, err := parseTarget(table)
	if err != nil {
		return err
	}
	modeFlag, _ := cmd.Flags().GetString("mode")
	mode, err := loader.ParseMode(modeFlag)
	if err != nil {
		return err
	}
	selFlag, _ := cmd.Flags().GetString("selection")
	sel, err := ingest.ParseSelection(selFlag)
	if err != nil {
		return err
	}

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}

	var renames map[string]string
	if key, _ := cmd.Flags().GetString("dataset"); key != "" {
		ds, ok := schema.Get(key)
		if !ok {
			return errors.New(pipeline.FormatUserError(&pipeline.UnknownDatasetError{Key: key}))
		}
		renames = ds.Renames
	}
	if err := a.connect(cmd.Context()); err != nil {
		return errors.New(pipeline.FormatUserError(err))
	}
	defer a.close()

	ld := loader.New(loader.NewPgSink(a.pool), loader.Options{
		BatchSize: a.cfg.Pipeline.BatchSize,
		Logger:    a.logger,
	})
	result, err := ld.LoadDirectory(cmd.Context(), args[0], sel, target, mode, renames)
	if err != nil {
		return errors.New(pipeline.FormatUserError(err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d rows loaded into %s\n", result.RowsLoaded, target)
	return nil
}

func parseTarget(s string) (loader.Target, error) {
	schemaName, table, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok || schemaName == "" || table == "" || strings.Contains(table, ".") {
		return loader.Target{}, fmt.Errorf("table %q must be schema.table", s)
	}
	return loader.Target{Schema: schemaName, Table: table}, nil
}
