package ingest

import (
	"context"
	"log/slog"

	"github.com/JonMunkholm/propstage/internal/normalize"
	"github.com/JonMunkholm/propstage/internal/record"
)

// ReadOptions configures ReadAll.
type ReadOptions struct {
	// ColumnKey aligns columns across files. Defaults to
	// normalize.CanonicalName; pass normalize.ColumnKey(renames) when the
	// dataset renames columns so renamed spellings share a column.
	ColumnKey func(string) string

	// StampExtractDate adds extract_date from each file's extraction date
	// when the file lacks the column.
	StampExtractDate bool

	Logger *slog.Logger
}

// ReadAll reads files in order and merges them into one record set. Files
// that fail to read are logged and skipped; only cancellation of ctx is
// returned as an error. used lists the files that contributed rows and is
// empty when none could be read.
func ReadAll(ctx context.Context, files []SourceFile, opts ReadOptions) ([]SourceFile, *record.RawRecordSet, error) {
	key := opts.ColumnKey
	if key == nil {
		key = normalize.CanonicalName
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	merged := &record.RawRecordSet{}
	var used []SourceFile
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		raw, err := ReadFile(ctx, f)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			logger.Warn("skipping unreadable file", "file", f.Name(), "error", err)
			continue
		}
		if opts.StampExtractDate {
			stampExtractDate(raw, f)
		}
		logger.Debug("read source file", "file", f.Name(), "rows", raw.Len())
		merged.AppendBy(raw, key)
		used = append(used, f)
	}
	return used, merged, nil
}
