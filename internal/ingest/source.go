package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Format is a supported source file format.
type Format string

const (
	FormatXLSX    Format = "xlsx"
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
)

// FormatOf returns the format of a path by extension, case-insensitively.
func FormatOf(path string) (Format, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch Format(ext) {
	case FormatXLSX, FormatParquet, FormatCSV:
		return Format(ext), true
	default:
		return "", false
	}
}

// ParseFormats converts extension names ("xlsx", ".CSV") to formats.
func ParseFormats(names []string) ([]Format, error) {
	out := make([]Format, 0, len(names))
	for _, n := range names {
		f, ok := FormatOf("x." + strings.TrimPrefix(strings.TrimSpace(n), "."))
		if !ok {
			return nil, fmt.Errorf("unsupported format %q", n)
		}
		out = append(out, f)
	}
	return out, nil
}

// SourceFile is a candidate input file in the drop directory.
type SourceFile struct {
	Path         string
	Format       Format
	ModTime      time.Time
	ExtractDate  time.Time // local calendar date of ModTime
	Renamed      bool
	OriginalPath string
}

// Name returns the file's base name.
func (f SourceFile) Name() string {
	return filepath.Base(f.Path)
}

// Stem returns the base name without extension.
func (f SourceFile) Stem() string {
	name := f.Name()
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Selection picks which scanned files make up an ingestion set.
type Selection string

const (
	SelectLatest Selection = "latest"
	SelectAll    Selection = "all"
)

// ParseSelection accepts "latest" (alias "recent") and "all".
func ParseSelection(s string) (Selection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "latest", "recent", "":
		return SelectLatest, nil
	case "all":
		return SelectAll, nil
	default:
		return "", fmt.Errorf("unknown selection %q (want latest or all)", s)
	}
}

// Select applies sel to files already ordered by Scan.
func Select(files []SourceFile, sel Selection) []SourceFile {
	if len(files) == 0 {
		return nil
	}
	if sel == SelectAll {
		return files
	}
	return files[:1]
}

// Scan lists the regular files in dir whose extension matches one of formats.
// Results are ordered by modification time, newest first, then by file name.
// Hidden files and Excel lock files (~$name.xlsx) are skipped.
func Scan(dir string, formats ...Format) ([]SourceFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &NotFoundError{Dir: dir, Formats: formats}
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var files []SourceFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
			continue
		}
		format, ok := FormatOf(name)
		if !ok || !slices.Contains(formats, format) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		path := filepath.Join(dir, name)
		files = append(files, SourceFile{
			Path:         path,
			Format:       format,
			ModTime:      info.ModTime(),
			ExtractDate:  calendarDate(info.ModTime()),
			OriginalPath: path,
		})
	}

	SortFiles(files)
	return files, nil
}

// SortFiles orders files newest first, breaking mtime ties by file name.
func SortFiles(files []SourceFile) {
	slices.SortStableFunc(files, func(a, b SourceFile) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}
		return strings.Compare(a.Name(), b.Name())
	})
}

func calendarDate(t time.Time) time.Time {
	t = t.Local()
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

// ErrNotFound is matched by NotFoundError via errors.Is.
var ErrNotFound = errors.New("no source files found")

// NotFoundError reports that no usable file of the requested formats exists.
type NotFoundError struct {
	Dir     string
	Formats []Format
}

func (e *NotFoundError) Error() string {
	names := make([]string, len(e.Formats))
	for i, f := range e.Formats {
		names[i] = "." + string(f)
	}
	return fmt.Sprintf("no %s files found in %s", strings.Join(names, "/"), e.Dir)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
