package main

import (
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/propstage/internal/pipeline"
	"github.com/JonMunkholm/propstage/internal/schema"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List the registered datasets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		if _, err := loadApp(cmd); err != nil {
			return err
		}

		all := schema.All()
		sort.Slice(all, func(i, j int) bool { return all[i].Key < all[j].Key })
		out := cmd.OutOrStdout()
		if format == "json" {
			return writeJSON(out, all)
		}
		rows := make([][]string, 0, len(all))
		for _, ds := range all {
			rows = append(rows, []string{ds.Key, ds.QualifiedTable(), ds.UniqueKey, strconv.Itoa(len(ds.Types)), ds.Label})
		}
		return writeTable(out, []string{"KEY", "TABLE", "UNIQUE KEY", "TYPED COLUMNS", "LABEL"}, rows)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs from etl_load_runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		if err := a.connect(cmd.Context()); err != nil {
			return err
		}
		defer a.close()

		runs, err := pipeline.NewPgHistory(a.pool).Recent(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return writeRuns(cmd.OutOrStdout(), format, runs)
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of runs to show")
}
