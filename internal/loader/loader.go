// Package loader bulk-loads normalized record sets into PostgreSQL staging
// tables.
//
// Load streams a CSV COPY inside one transaction, truncating first in replace
// mode, so a failed load leaves the table as it was. InsertDeduplicated is the
// keyed path: batched multi-row INSERT ... ON CONFLICT (key) DO NOTHING.
// Every statement names its destination columns explicitly.
package loader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/propstage/internal/normalize"
	"github.com/JonMunkholm/propstage/internal/record"
)

// Mode selects how Load treats existing table content.
type Mode string

const (
	ModeReplace Mode = "replace"
	ModeAppend  Mode = "append"
)

// ParseMode parses "replace" or "append".
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeReplace, ModeAppend:
		return m, nil
	default:
		return "", fmt.Errorf("unknown load mode %q (want replace or append)", s)
	}
}

// DefaultBatchSize is the number of rows per INSERT statement on the keyed path.
const DefaultBatchSize = 500

// maxBindParams is PostgreSQL's limit on parameters per statement.
const maxBindParams = 65535

// LoadResult reports what a load did.
type LoadResult struct {
	Table         string
	RowsAttempted int64 // rows sent to the sink
	RowsLoaded    int64 // rows the sink reports written
	Duration      time.Duration
}

// Options configures a Loader.
type Options struct {
	BatchSize int
	Logger    *slog.Logger
}

// Loader writes record sets through a Sink.
type Loader struct {
	sink      Sink
	batchSize int
	logger    *slog.Logger
}

// New creates a Loader over sink.
func New(sink Sink, opts Options) *Loader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		sink:      sink,
		batchSize: opts.BatchSize,
		logger:    logger,
	}
}

// Load writes set into target. An empty set is a no-op that never touches
// the sink. In replace mode the truncate and the copy share one transaction.
func (l *Loader) Load(ctx context.Context, set *record.NormalizedRecordSet, target Target, mode Mode) (LoadResult, error) {
	start := time.Now()
	result := LoadResult{Table: target.String()}

	if mode != ModeReplace && mode != ModeAppend {
		return result, fmt.Errorf("load %s: unknown mode %q", target, mode)
	}
	if set.Empty() {
		l.logger.Info("nothing to load", "table", target.String(), "mode", string(mode))
		return result, nil
	}

	columns, err := canonicalColumns(set)
	if err != nil {
		return result, err
	}
	rows := int64(set.Len())
	result.RowsAttempted = rows

	tx, err := l.sink.Begin(ctx)
	if err != nil {
		return result, &SinkWriteError{Op: "begin", Table: target.String(), Err: err}
	}
	defer tx.Rollback(ctx)

	if mode == ModeReplace {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+target.Qualified()); err != nil {
			return result, &SinkWriteError{Op: "truncate", Table: target.String(), Err: err}
		}
	}

	copySQL := fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (FORMAT csv, NULL '')",
		target.Qualified(), quoteIdentifiers(columns))

	loaded, err := copyStream(ctx, tx, set, copySQL)
	if err != nil {
		return result, &SinkWriteError{Op: "copy", Table: target.String(), RowsAttempted: rows, Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return result, &SinkWriteError{Op: "commit", Table: target.String(), RowsAttempted: rows, Err: err}
	}

	result.RowsLoaded = loaded
	result.Duration = time.Since(start)
	l.logger.Info("loaded rows",
		"table", target.String(),
		"mode", string(mode),
		"rows", loaded,
		"columns", len(columns),
		"duration", result.Duration,
	)
	return result, nil
}

// copyStream runs the CSV encoder and the COPY consumer concurrently over a
// pipe. Whichever side fails first closes the pipe with its error, which
// stops the other.
func copyStream(ctx context.Context, tx Tx, set *record.NormalizedRecordSet, copySQL string) (int64, error) {
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := encodeCopyCSV(gctx, pw, set)
		pw.CloseWithError(err)
		return err
	})

	var loaded int64
	g.Go(func() error {
		n, err := tx.CopyCSV(gctx, pr, copySQL)
		if err != nil {
			pr.CloseWithError(err)
			return err
		}
		pr.Close()
		loaded = n
		return nil
	})

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return loaded, nil
}

// InsertDeduplicated inserts rows whose keyColumn value is not already in
// target. Rows with a missing key are dropped. All batches share one
// transaction; RowsAttempted counts rows sent and RowsLoaded rows inserted.
func (l *Loader) InsertDeduplicated(ctx context.Context, set *record.NormalizedRecordSet, keyColumn string, target Target) (LoadResult, error) {
	start := time.Now()
	result := LoadResult{Table: target.String()}

	if set == nil {
		set = &record.NormalizedRecordSet{}
	}
	columns, err := canonicalColumns(set)
	if err != nil {
		return result, err
	}

	key := normalize.CanonicalName(keyColumn)
	keyIdx := -1
	for i, c := range columns {
		if c == key {
			keyIdx = i
			break
		}
	}
	if keyIdx < 0 {
		return result, &MissingKeyError{Column: keyColumn, Table: target.String()}
	}

	rows := make([][]record.Value, 0, set.Len())
	for _, row := range set.Rows {
		if row[keyIdx].IsMissing() {
			continue
		}
		rows = append(rows, row)
	}
	if dropped := set.Len() - len(rows); dropped > 0 {
		l.logger.Warn("dropped rows with missing key",
			"table", target.String(),
			"key", key,
			"rows", dropped,
		)
	}
	if len(rows) == 0 {
		l.logger.Info("nothing to insert", "table", target.String())
		return result, nil
	}

	batch := l.batchSize
	if limit := maxBindParams / len(columns); batch > limit {
		batch = limit
	}

	tx, err := l.sink.Begin(ctx)
	if err != nil {
		return result, &SinkWriteError{Op: "begin", Table: target.String(), Err: err}
	}
	defer tx.Rollback(ctx)

	var inserted int64
	for startRow := 0; startRow < len(rows); startRow += batch {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		end := min(startRow+batch, len(rows))
		sql, args := buildInsert(target, columns, key, rows[startRow:end])
		n, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return result, &SinkWriteError{Op: "insert", Table: target.String(), RowsAttempted: int64(end), Err: err}
		}
		inserted += n
	}

	if err := tx.Commit(ctx); err != nil {
		return result, &SinkWriteError{Op: "commit", Table: target.String(), RowsAttempted: int64(len(rows)), Err: err}
	}

	result.RowsAttempted = int64(len(rows))
	result.RowsLoaded = inserted
	result.Duration = time.Since(start)
	l.logger.Info("inserted deduplicated rows",
		"table", target.String(),
		"key", key,
		"attempted", result.RowsAttempted,
		"inserted", inserted,
		"duration", result.Duration,
	)
	return result, nil
}

func buildInsert(target Target, columns []string, key string, rows [][]record.Value) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(rows)*len(columns))

	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", target.Qualified(), quoteIdentifiers(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c, v := range row {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", p)
			p++
			args = append(args, v.SQLValue())
		}
		sb.WriteByte(')')
	}
	fmt.Fprintf(&sb, " ON CONFLICT (%s) DO NOTHING", quoteIdentifier(key))
	return sb.String(), args
}

// canonicalColumns re-canonicalizes the set's column names so statements
// never depend on upstream naming.
func canonicalColumns(set *record.NormalizedRecordSet) ([]string, error) {
	names := set.ColumnNames()
	columns := normalize.CanonicalHeaders(names)
	seen := make(map[string]int, len(columns))
	for i, c := range columns {
		if first, dup := seen[c]; dup {
			return nil, &normalize.DuplicateColumnError{Column: c, Headers: []string{names[first], names[i]}}
		}
		seen[c] = i
	}
	return columns, nil
}
