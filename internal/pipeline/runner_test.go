package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/propstage/internal/ingest"
	"github.com/JonMunkholm/propstage/internal/loader"
	"github.com/JonMunkholm/propstage/internal/loader/loadertest"
	"github.com/JonMunkholm/propstage/internal/normalize"
	"github.com/JonMunkholm/propstage/internal/schema"
)

var (
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
	jan15 = time.Date(2024, 1, 15, 12, 0, 0, 0, time.Local)
	feb01 = time.Date(2024, 2, 1, 9, 30, 0, 0, time.Local)
)

func str(s string) *string { return &s }

func writeXLSX(t *testing.T, path string, rows [][]string, mtime time.Time) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		vals := make([]any, len(row))
		for j, v := range row {
			vals[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save xlsx: %v", err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func writeCSV(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

type fixture struct {
	dir     string
	sink    *loadertest.MemSink
	history *MemoryHistory
	runner  *Runner
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		dir:     t.TempDir(),
		sink:    loadertest.New(),
		history: NewMemoryHistory(10),
	}
	f.sink.CreateTable("stg.prop_extract", "",
		"property_id", "city", "bedrooms", "total_bathrooms", "last_sale_amount", "extract_date")
	f.sink.CreateTable("stg.prop_latest", "property_id",
		"property_id", "city", "bedrooms", "total_bathrooms", "last_sale_amount", "extract_date")

	opts := Options{
		Resolver: ingest.Options{Dir: f.dir},
		History:  f.history,
		Logger:   quiet,
		Now:      func() time.Time { return feb01 },
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.runner = NewRunner(f.sink, opts)
	return f
}

func TestRun_ExtractScenario(t *testing.T) {
	f := newFixture(t, nil)
	writeXLSX(t, filepath.Join(f.dir, "Export (3).xlsx"), [][]string{
		{"Bedrooms", "Total Bathrooms", "Last Sale Amount"},
		{"3", "2.5", "300,000"},
		{"2", "", "n/a"},
	}, jan15)

	result, err := f.runner.Run(context.Background(), Job{Dataset: schema.PropExtract})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if diff := cmp.Diff([]string{"20240115_extract.xlsx"}, result.Files); diff != "" {
		t.Errorf("files (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(f.dir, "20240115_extract.xlsx")); err != nil {
		t.Errorf("canonical file missing: %v", err)
	}
	if result.Status != StatusSucceeded || result.RowsRead != 2 || result.RowsLoaded != 2 {
		t.Errorf("result = %+v", result)
	}
	if result.Table != "stg.prop_extract" || result.Mode != ModeReplace || result.Trigger != TriggerManual {
		t.Errorf("result defaults = %+v", result)
	}

	want := []loadertest.Row{
		{"bedrooms": str("3"), "total_bathrooms": str("2.5"), "last_sale_amount": str("300000"), "extract_date": str("2024-01-15")},
		{"bedrooms": str("2"), "total_bathrooms": nil, "last_sale_amount": nil, "extract_date": str("2024-01-15")},
	}
	if diff := cmp.Diff(want, f.sink.Rows("stg.prop_extract")); diff != "" {
		t.Errorf("loaded rows (-want +got):\n%s", diff)
	}

	runs, _ := f.history.Recent(context.Background(), 0)
	if len(runs) != 1 || runs[0].ID != result.ID || runs[0].Status != StatusSucceeded {
		t.Errorf("history = %+v", runs)
	}
}

func TestRun_ReplaceIsRepeatable(t *testing.T) {
	f := newFixture(t, nil)
	writeXLSX(t, filepath.Join(f.dir, "20240115_extract.xlsx"), [][]string{
		{"Property ID", "City"},
		{"P1", "Austin"},
	}, jan15)

	for i := 0; i < 2; i++ {
		if _, err := f.runner.Run(context.Background(), Job{Dataset: schema.PropExtract}); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}
	if got := len(f.sink.Rows("stg.prop_extract")); got != 1 {
		t.Errorf("rows after two replace runs = %d, want 1", got)
	}

	if _, err := f.runner.Run(context.Background(), Job{Dataset: schema.PropExtract, Mode: ModeAppend}); err != nil {
		t.Fatal(err)
	}
	if got := len(f.sink.Rows("stg.prop_extract")); got != 2 {
		t.Errorf("rows after append = %d, want 2", got)
	}
}

func TestRun_DedupLatest(t *testing.T) {
	f := newFixture(t, nil)
	writeXLSX(t, filepath.Join(f.dir, "20240115_extract.xlsx"), [][]string{
		{"Property ID", "City"},
		{"P1", "Austin"},
		{"P2", "Dallas"},
		{"P1", "Austin"},
	}, jan15)

	job := Job{Dataset: schema.PropLatest, Mode: ModeDedup}
	first, err := f.runner.Run(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if first.RowsAttempted != 3 || first.RowsLoaded != 2 {
		t.Errorf("first run = %+v, want 3 attempted, 2 loaded", first)
	}

	second, err := f.runner.Run(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if second.RowsLoaded != 0 {
		t.Errorf("second run loaded %d rows, want 0", second.RowsLoaded)
	}
	if got := len(f.sink.Rows("stg.prop_latest")); got != 2 {
		t.Errorf("rows = %d, want 2", got)
	}
}

func TestRun_SelectAllMergesFiles(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Resolver.AllFormats = []ingest.Format{ingest.FormatCSV}
	})
	writeCSV(t, filepath.Join(f.dir, "20240114_extract.csv"), "Property ID,City\nP1,Austin\n", jan15.Add(-24*time.Hour))
	writeCSV(t, filepath.Join(f.dir, "20240115_extract.csv"), "Property ID,City,Bedrooms\nP2,Dallas,3\n", jan15)

	result, err := f.runner.Run(context.Background(), Job{Dataset: schema.PropExtract, Selection: ingest.SelectAll})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"20240115_extract.csv", "20240114_extract.csv"}, result.Files); diff != "" {
		t.Errorf("files (-want +got):\n%s", diff)
	}

	want := []loadertest.Row{
		{"property_id": str("P2"), "city": str("Dallas"), "bedrooms": str("3"), "extract_date": str("2024-01-15")},
		{"property_id": str("P1"), "city": str("Austin"), "bedrooms": nil, "extract_date": str("2024-01-14")},
	}
	if diff := cmp.Diff(want, f.sink.Rows("stg.prop_extract")); diff != "" {
		t.Errorf("rows (-want +got):\n%s", diff)
	}
}

func TestRun_SelectAllAlignsHeaderDrift(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Resolver.AllFormats = []ingest.Format{ingest.FormatCSV}
	})
	f.sink.CreateTable("stg.prop_extract", "", "property_id", "city", "prefc_auction_date", "extract_date")
	writeCSV(t, filepath.Join(f.dir, "20240114_extract.csv"),
		"Property ID,City,PreFC Auction Date\nP1,Austin,2023-12-01\n", jan15.Add(-24*time.Hour))
	writeCSV(t, filepath.Join(f.dir, "20240115_extract.csv"),
		"Property ID,City ,Pre FC Auction Date\nP2,Dallas,2024-02-20\n", jan15)

	_, err := f.runner.Run(context.Background(), Job{Dataset: schema.PropExtract, Selection: ingest.SelectAll})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []loadertest.Row{
		{"property_id": str("P2"), "city": str("Dallas"), "prefc_auction_date": str("2024-02-20"), "extract_date": str("2024-01-15")},
		{"property_id": str("P1"), "city": str("Austin"), "prefc_auction_date": str("2023-12-01"), "extract_date": str("2024-01-14")},
	}
	if diff := cmp.Diff(want, f.sink.Rows("stg.prop_extract")); diff != "" {
		t.Errorf("rows (-want +got):\n%s", diff)
	}
}

func TestRun_SameFileDuplicateStillFails(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Resolver.AllFormats = []ingest.Format{ingest.FormatCSV}
	})
	writeCSV(t, filepath.Join(f.dir, "20240115_extract.csv"),
		"Property ID,Pre FC Auction Date,PreFC Auction Date\nP1,2024-01-02,2024-01-03\n", jan15)

	_, err := f.runner.Run(context.Background(), Job{Dataset: schema.PropExtract, Selection: ingest.SelectAll})
	var dup *normalize.DuplicateColumnError
	if !errors.As(err, &dup) {
		t.Fatalf("Run() error = %v, want DuplicateColumnError", err)
	}
	if dup.Column != "prefc_auction_date" {
		t.Errorf("Column = %q, want prefc_auction_date", dup.Column)
	}
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name     string
		job      Job
		setup    func(t *testing.T, f *fixture)
		check    func(err error) bool
		wantCode string
	}{
		{
			name:     "unknown dataset",
			job:      Job{Dataset: "nope"},
			check:    func(err error) bool { var e *UnknownDatasetError; return errors.As(err, &e) },
			wantCode: "DS001",
		},
		{
			name:     "no source files",
			job:      Job{Dataset: schema.PropExtract},
			check:    func(err error) bool { return errors.Is(err, ingest.ErrNotFound) },
			wantCode: "FILE001",
		},
		{
			name:     "dedup without unique key",
			job:      Job{Dataset: schema.PropExtract, Mode: ModeDedup},
			check:    func(err error) bool { return errors.Is(err, ErrNoUniqueKey) },
			wantCode: "KEY002",
		},
		{
			name: "dedup key column missing",
			job:  Job{Dataset: schema.PropLatest, Mode: ModeDedup},
			setup: func(t *testing.T, f *fixture) {
				writeXLSX(t, filepath.Join(f.dir, "20240115_extract.xlsx"), [][]string{{"City"}, {"Austin"}}, jan15)
			},
			check:    func(err error) bool { var e *loader.MissingKeyError; return errors.As(err, &e) },
			wantCode: "KEY001",
		},
		{
			name: "column missing from table",
			job:  Job{Dataset: schema.PropExtract},
			setup: func(t *testing.T, f *fixture) {
				writeXLSX(t, filepath.Join(f.dir, "20240115_extract.xlsx"), [][]string{{"Unexpected"}, {"x"}}, jan15)
			},
			check:    func(err error) bool { var e *loader.SinkWriteError; return errors.As(err, &e) },
			wantCode: "DB002",
		},
		{
			name:     "bad mode",
			job:      Job{Dataset: schema.PropExtract, Mode: "merge"},
			check:    func(err error) bool { return err != nil },
			wantCode: "ERR000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			result, err := f.runner.Run(context.Background(), tt.job)
			if !tt.check(err) {
				t.Fatalf("Run() error = %v", err)
			}
			if result.Status != StatusFailed || result.ErrorCode != tt.wantCode || result.Error == "" {
				t.Errorf("result status=%s code=%s error=%q, want failed %s", result.Status, result.ErrorCode, result.Error, tt.wantCode)
			}
			runs, _ := f.history.Recent(context.Background(), 1)
			if len(runs) != 1 || runs[0].Status != StatusFailed {
				t.Errorf("failed run not recorded: %+v", runs)
			}
		})
	}
}

func TestRun_Busy(t *testing.T) {
	limiter := NewRunLimiter(1, 20*time.Millisecond)
	f := newFixture(t, func(o *Options) { o.Limiter = limiter })

	if !limiter.TryAcquire() {
		t.Fatal("TryAcquire failed")
	}
	defer limiter.Release()

	_, err := f.runner.Run(context.Background(), Job{Dataset: schema.PropExtract})
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("err = %v, want ErrRunInProgress", err)
	}
	if runs, _ := f.history.Recent(context.Background(), 0); len(runs) != 0 {
		t.Errorf("rejected run recorded: %+v", runs)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeReplace, false},
		{"REPLACE", ModeReplace, false},
		{"append", ModeAppend, false},
		{" dedup", ModeDedup, false},
		{"upsert", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v; want %q, err %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestMemoryHistory(t *testing.T) {
	h := NewMemoryHistory(2)
	ctx := context.Background()
	for _, d := range []string{"a", "b", "c"} {
		if err := h.Record(ctx, RunResult{Dataset: d}); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := h.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]string, len(runs))
	for i, r := range runs {
		got[i] = r.Dataset
	}
	if diff := cmp.Diff([]string{"c", "b"}, got); diff != "" {
		t.Errorf("recent (-want +got):\n%s", diff)
	}

	runs, _ = h.Recent(ctx, 1)
	if len(runs) != 1 || runs[0].Dataset != "c" {
		t.Errorf("Recent(1) = %+v", runs)
	}
}
