package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/propstage/internal/ingest"
	"github.com/JonMunkholm/propstage/internal/normalize"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Show which source file the next run would pick",
	Long: `Lists the drop directory the way a run sees it, newest first, with the
canonical name each file would get. Nothing is renamed unless --apply is
given, in which case the latest file is renamed, read (and mirrored to
parquet when INGEST_PARQUET_MIRROR is set) and its canonical headers printed.

No database connection is needed.`,
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().Bool("apply", false, "rename and read the latest file")
}

func runResolve(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	opts, err := a.cfg.ResolverOptions()
	if err != nil {
		return err
	}
	opts.Logger = a.logger
	resolver := ingest.NewResolver(opts)
	out := cmd.OutOrStdout()

	if apply, _ := cmd.Flags().GetBool("apply"); apply {
		f, raw, err := resolver.ResolveLatest(cmd.Context())
		if err != nil {
			return err
		}
		headers := normalize.CanonicalHeaders(raw.Header)
		if format == "json" {
			return writeJSON(out, map[string]any{
				"file":         f.Name(),
				"renamed_from": f.OriginalPath,
				"rows":         raw.Len(),
				"headers":      headers,
			})
		}
		fmt.Fprintf(out, "%s: %d rows, %d columns\n", f.Name(), raw.Len(), len(headers))
		for i, h := range headers {
			fmt.Fprintf(out, "  %3d  %-40s  %s\n", i+1, h, raw.Header[i])
		}
		return nil
	}

	files, err := resolver.Scan(opts.LatestFormats...)
	if err != nil {
		return err
	}
	type entry struct {
		File      string `json:"file"`
		Canonical string `json:"canonical"`
		Modified  string `json:"modified"`
		Selected  bool   `json:"selected"`
	}
	entries := make([]entry, 0, len(files))
	for i, f := range files {
		entries = append(entries, entry{
			File:      f.Name(),
			Canonical: resolver.CanonicalName(f),
			Modified:  f.ModTime.Format("2006-01-02 15:04:05"),
			Selected:  i == 0,
		})
	}
	if format == "json" {
		return writeJSON(out, entries)
	}
	if len(entries) == 0 {
		return &ingest.NotFoundError{Dir: opts.Dir, Formats: opts.LatestFormats}
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		mark := ""
		if e.Selected {
			mark = "*"
		}
		rows = append(rows, []string{mark, e.File, e.Canonical, e.Modified})
	}
	return writeTable(out, []string{"", "FILE", "CANONICAL", "MODIFIED"}, rows)
}
