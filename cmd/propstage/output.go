package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/JonMunkholm/propstage/internal/pipeline"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeTable prints rows under header with aligned columns.
func writeTable(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func writeRuns(w io.Writer, format string, runs []pipeline.RunResult) error {
	if format == "json" {
		return writeJSON(w, runs)
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.StartedAt.Local().Format(time.DateTime),
			r.Dataset,
			string(r.Mode),
			string(r.Trigger),
			string(r.Status),
			fmt.Sprintf("%d/%d", r.RowsLoaded, r.RowsRead),
			r.Duration().Round(time.Millisecond).String(),
			r.ErrorCode,
		})
	}
	return writeTable(w, []string{"STARTED", "DATASET", "MODE", "TRIGGER", "STATUS", "LOADED/READ", "DURATION", "CODE"}, rows)
}
