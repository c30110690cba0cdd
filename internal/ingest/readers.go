package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/propstage/internal/record"
)

// ctxCheckInterval is how many rows a reader processes between context checks.
const ctxCheckInterval = 1000

// ErrEmptyFile is returned for a file without a header row.
var ErrEmptyFile = errors.New("file has no header row")

// ReadError wraps a failure to read or parse one source file.
type ReadError struct {
	File string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.File, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// ReadFile reads a source file into a RawRecordSet. The first row is the
// header; fully blank data rows are dropped.
func ReadFile(ctx context.Context, f SourceFile) (*record.RawRecordSet, error) {
	var (
		raw *record.RawRecordSet
		err error
	)
	switch f.Format {
	case FormatXLSX:
		raw, err = readXLSX(ctx, f.Path)
	case FormatCSV:
		raw, err = readCSV(ctx, f.Path)
	case FormatParquet:
		raw, err = readParquet(ctx, f.Path)
	default:
		err = fmt.Errorf("unsupported format %q", f.Format)
	}
	if err != nil {
		return nil, &ReadError{File: f.Name(), Err: err}
	}
	raw.Sources = []string{f.Path}
	return raw, nil
}

func readCSV(ctx context.Context, path string) (*record.RawRecordSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(newTextReader(file))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	raw := &record.RawRecordSet{Header: header}
	for line := 2; ; line++ {
		if line%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if blankRow(row) {
			continue
		}
		raw.Rows = append(raw.Rows, row)
	}
	return raw, nil
}

// readXLSX reads the first worksheet. Cell values come back formatted the way
// Excel displays them, so dates arrive as text in the sheet's number format.
func readXLSX(ctx context.Context, path string) (*record.RawRecordSet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("open sheet %s: %w", sheets[0], err)
	}
	defer rows.Close()

	var raw *record.RawRecordSet
	for n := 1; rows.Next(); n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cols, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n, err)
		}
		if raw == nil {
			if blankRow(cols) {
				continue
			}
			raw = &record.RawRecordSet{Header: cols}
			continue
		}
		if blankRow(cols) {
			continue
		}
		raw.Rows = append(raw.Rows, cols)
	}
	if err := rows.Error(); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrEmptyFile
	}
	return raw, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
