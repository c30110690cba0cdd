package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/propstage/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Resolve, normalize and load once",
	Long: `Runs one pipeline job: picks the latest (or all) source files from the drop
directory, normalizes them against the dataset schema and loads the result.

Flags override PIPELINE_DATASET, PIPELINE_MODE and PIPELINE_SELECTION.`,
	RunE: runRun,
}

func init() {
	addJobFlags(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	job, err := a.jobFromFlags(cmd)
	if err != nil {
		return err
	}
	if err := a.connect(cmd.Context()); err != nil {
		return errors.New(pipeline.FormatUserError(err))
	}
	defer a.close()

	runner, _, err := a.runner()
	if err != nil {
		return err
	}
	result, err := runner.Run(cmd.Context(), job)
	if err != nil {
		return fmt.Errorf("run %s failed: %s", result.ID, pipeline.FormatUserError(err))
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		return writeJSON(out, result)
	}
	fmt.Fprintf(out, "run %s %s: %d of %d rows loaded into %s from %s in %s\n",
		result.ID, result.Status, result.RowsLoaded, result.RowsRead, result.Table,
		strings.Join(result.Files, ", "), result.Duration().Round(time.Millisecond))
	return nil
}
