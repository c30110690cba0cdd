// Package ingest finds source files in the drop directory, gives them their
// canonical {date}_{label}.{ext} names and reads them into raw record sets.
//
// The listing and selection logic (Scan, Select) is shared with the loader's
// directory self-ingest mode.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/JonMunkholm/propstage/internal/normalize"
	"github.com/JonMunkholm/propstage/internal/record"
)

// Defaults used when Options leaves a field empty.
const (
	DefaultLabel      = "extract"
	DefaultDateFormat = "20060102"
)

var (
	DefaultLatestFormats = []Format{FormatXLSX}
	DefaultAllFormats    = []Format{FormatXLSX, FormatParquet}
)

// Options configures a Resolver.
type Options struct {
	Dir           string
	Label         string   // canonical file label
	DateFormat    string   // Go layout for the date part of canonical names
	LatestFormats []Format // formats ResolveLatest considers
	AllFormats    []Format // formats ResolveAll considers
	ParquetMirror bool     // write {date}_{label}.parquet after ResolveLatest

	// ColumnKey aligns columns when ResolveAll merges files; see ReadOptions.
	ColumnKey func(string) string

	Logger *slog.Logger
}

// Resolver locates and reads the ingestion set.
type Resolver struct {
	opts   Options
	logger *slog.Logger
}

// NewResolver creates a resolver over opts.Dir.
func NewResolver(opts Options) *Resolver {
	if opts.Label == "" {
		opts.Label = DefaultLabel
	}
	if opts.DateFormat == "" {
		opts.DateFormat = DefaultDateFormat
	}
	if len(opts.LatestFormats) == 0 {
		opts.LatestFormats = DefaultLatestFormats
	}
	if len(opts.AllFormats) == 0 {
		opts.AllFormats = DefaultAllFormats
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		opts:   opts,
		logger: logger.With("dir", opts.Dir),
	}
}

// Dir returns the drop directory.
func (r *Resolver) Dir() string {
	return r.opts.Dir
}

// Scan lists the drop directory for formats, newest first.
func (r *Resolver) Scan(formats ...Format) ([]SourceFile, error) {
	return Scan(r.opts.Dir, formats...)
}

// CanonicalName returns the canonical file name for f.
func (r *Resolver) CanonicalName(f SourceFile) string {
	return fmt.Sprintf("%s_%s.%s", f.ExtractDate.Format(r.opts.DateFormat), r.opts.Label, f.Format)
}

// Canonicalize renames f to its canonical name in the same directory. A file
// already carrying the name is returned unchanged, so repeated calls are
// no-ops. An existing different file at the target is never overwritten; f
// keeps its name and a warning is logged.
func (r *Resolver) Canonicalize(f SourceFile) (SourceFile, error) {
	name := r.CanonicalName(f)
	if f.Name() == name {
		return f, nil
	}

	target := filepath.Join(filepath.Dir(f.Path), name)
	if existing, err := os.Stat(target); err == nil {
		current, statErr := os.Stat(f.Path)
		if statErr == nil && os.SameFile(existing, current) {
			// case-only difference on a case-insensitive filesystem
			if err := os.Rename(f.Path, target); err != nil {
				return f, fmt.Errorf("rename %s: %w", f.Name(), err)
			}
			return r.renamed(f, target), nil
		}
		r.logger.Warn("canonical name taken, keeping original name",
			"file", f.Name(),
			"canonical", name,
		)
		return f, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return f, fmt.Errorf("stat %s: %w", name, err)
	}

	if err := os.Rename(f.Path, target); err != nil {
		return f, fmt.Errorf("rename %s: %w", f.Name(), err)
	}
	r.logger.Info("renamed source file", "from", f.Name(), "to", name)
	return r.renamed(f, target), nil
}

func (r *Resolver) renamed(f SourceFile, target string) SourceFile {
	f.OriginalPath = f.Path
	f.Path = target
	f.Renamed = true
	return f
}

// ResolveLatest selects the most recently modified file among the latest
// formats, canonicalizes its name, reads it and stamps extract_date when the
// file lacks the column. With ParquetMirror set a parquet copy is written
// next to it; mirror failures are logged, not returned.
func (r *Resolver) ResolveLatest(ctx context.Context) (SourceFile, *record.RawRecordSet, error) {
	files, err := r.Scan(r.opts.LatestFormats...)
	if err != nil {
		return SourceFile{}, nil, err
	}
	files = Select(files, SelectLatest)
	if len(files) == 0 {
		return SourceFile{}, nil, &NotFoundError{Dir: r.opts.Dir, Formats: r.opts.LatestFormats}
	}

	f, err := r.Canonicalize(files[0])
	if err != nil {
		return SourceFile{}, nil, err
	}

	raw, err := ReadFile(ctx, f)
	if err != nil {
		return SourceFile{}, nil, err
	}
	stampExtractDate(raw, f)

	r.logger.Info("resolved latest file",
		"file", f.Name(),
		"extract_date", f.ExtractDate.Format("2006-01-02"),
		"rows", raw.Len(),
	)

	if r.opts.ParquetMirror && f.Format != FormatParquet {
		r.writeMirror(f, raw)
	}

	return f, raw, nil
}

// ResolveAll reads every file of the all formats, newest first, and merges
// them with ReadAll. When an xlsx file and its parquet mirror share a stem
// only the mirror is read. Files that fail to read are logged and skipped.
func (r *Resolver) ResolveAll(ctx context.Context) ([]SourceFile, *record.RawRecordSet, error) {
	files, err := r.Scan(r.opts.AllFormats...)
	if err != nil {
		return nil, nil, err
	}
	files = dropMirrored(files)
	if len(files) == 0 {
		return nil, nil, &NotFoundError{Dir: r.opts.Dir, Formats: r.opts.AllFormats}
	}

	used, merged, err := ReadAll(ctx, files, ReadOptions{
		ColumnKey:        r.opts.ColumnKey,
		StampExtractDate: true,
		Logger:           r.logger,
	})
	if err != nil {
		return nil, nil, err
	}

	if len(used) == 0 {
		return nil, nil, &NotFoundError{Dir: r.opts.Dir, Formats: r.opts.AllFormats}
	}

	r.logger.Info("resolved all files", "files", len(used), "rows", merged.Len())
	return used, merged, nil
}

func (r *Resolver) writeMirror(f SourceFile, raw *record.RawRecordSet) {
	path := MirrorPath(f)
	if err := WriteParquet(path, raw); err != nil {
		r.logger.Warn("parquet mirror failed", "file", f.Name(), "error", err)
		return
	}
	r.logger.Info("wrote parquet mirror", "path", path)
}

// dropMirrored removes xlsx and csv files whose parquet mirror is present.
func dropMirrored(files []SourceFile) []SourceFile {
	mirrors := make(map[string]bool)
	for _, f := range files {
		if f.Format == FormatParquet {
			mirrors[filepath.Join(filepath.Dir(f.Path), f.Stem())] = true
		}
	}
	out := files[:0:0]
	for _, f := range files {
		if f.Format != FormatParquet && mirrors[filepath.Join(filepath.Dir(f.Path), f.Stem())] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// stampExtractDate adds extract_date from the file's extraction date when
// the file has no such column.
func stampExtractDate(raw *record.RawRecordSet, f SourceFile) {
	for _, h := range raw.Header {
		if normalize.CanonicalName(h) == record.ExtractDateColumn {
			return
		}
	}
	raw.SetColumn(record.ExtractDateColumn, f.ExtractDate.Format("2006-01-02"))
}
