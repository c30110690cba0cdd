package loader

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/propstage/internal/ingest"
	"github.com/JonMunkholm/propstage/internal/normalize"
	"github.com/JonMunkholm/propstage/internal/record"
)

// directoryFormats are the formats LoadDirectory reads.
var directoryFormats = []ingest.Format{ingest.FormatCSV, ingest.FormatXLSX, ingest.FormatParquet}

// LoadDirectory loads files from dir straight into target without the
// schema normalization pass: headers are canonicalized and renamed, and every
// column loads as text, blanks as NULL. sel picks the newest file or all
// files; with all, unreadable files are skipped the same way ResolveAll
// skips them. renames may be nil.
func (l *Loader) LoadDirectory(ctx context.Context, dir string, sel ingest.Selection, target Target, mode Mode, renames map[string]string) (LoadResult, error) {
	files, err := ingest.Scan(dir, directoryFormats...)
	if err != nil {
		return LoadResult{Table: target.String()}, err
	}
	files = ingest.Select(files, sel)
	if len(files) == 0 {
		return LoadResult{Table: target.String()}, &ingest.NotFoundError{Dir: dir, Formats: directoryFormats}
	}

	used, merged, err := ingest.ReadAll(ctx, files, ingest.ReadOptions{
		ColumnKey: normalize.ColumnKey(renames),
		Logger:    l.logger,
	})
	if err != nil {
		return LoadResult{Table: target.String()}, err
	}
	if len(used) == 0 {
		return LoadResult{Table: target.String()}, &ingest.NotFoundError{Dir: dir, Formats: directoryFormats}
	}
	l.logger.Debug("read files for direct load", "files", len(used), "rows", merged.Len())

	set, err := textRecordSet(merged, renames)
	if err != nil {
		return LoadResult{Table: target.String()}, fmt.Errorf("load directory %s: %w", dir, err)
	}
	return l.Load(ctx, set, target, mode)
}

// textRecordSet canonicalizes and renames headers and keeps every cell as
// trimmed text.
func textRecordSet(raw *record.RawRecordSet, renames map[string]string) (*record.NormalizedRecordSet, error) {
	names := normalize.ColumnNames(raw.Header, renames)
	seen := make(map[string]int, len(names))
	columns := make([]record.Column, len(names))
	for i, n := range names {
		if first, dup := seen[n]; dup {
			return nil, &normalize.DuplicateColumnError{Column: n, Headers: []string{raw.Header[first], raw.Header[i]}}
		}
		seen[n] = i
		columns[i] = record.Column{Name: n, Type: record.TypeText}
	}

	set := &record.NormalizedRecordSet{Columns: columns, Rows: make([][]record.Value, raw.Len())}
	for i := range raw.Rows {
		row := make([]record.Value, len(columns))
		for c := range columns {
			if cell := normalize.CleanCell(raw.Cell(i, c)); cell != "" {
				row[c] = record.TextValue(cell)
			} else {
				row[c] = record.Missing(record.TypeText)
			}
		}
		set.Rows[i] = row
	}
	return set, nil
}
