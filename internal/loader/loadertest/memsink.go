// Package loadertest provides an in-memory transactional loader.Sink for
// tests. It understands exactly the statements the loader issues: TRUNCATE,
// COPY ... FROM STDIN in CSV format, and multi-row INSERT ... ON CONFLICT
// DO NOTHING.
package loadertest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/propstage/internal/loader"
)

// Row maps column name to value; nil is NULL.
type Row map[string]*string

// Table is an in-memory staging table.
type Table struct {
	Columns []string
	Key     string // unique column, "" for none
	Rows    []Row
}

func (t *Table) clone() *Table {
	c := &Table{Columns: t.Columns, Key: t.Key, Rows: make([]Row, len(t.Rows))}
	for i, r := range t.Rows {
		c.Rows[i] = maps.Clone(r)
	}
	return c
}

func (t *Table) hasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// MemSink is an in-memory loader.Sink. Transactions work on a copy of the
// committed tables and publish it on Commit.
type MemSink struct {
	mu     sync.Mutex
	tables map[string]*Table

	// FailCopyAfter makes COPY fail once this many rows have been read.
	FailCopyAfter int
	// FailBegin and FailCommit are returned by Begin and Commit when set.
	FailBegin  error
	FailCommit error

	Begins     int
	Statements []string
}

// New returns an empty sink.
func New() *MemSink {
	return &MemSink{tables: make(map[string]*Table)}
}

// CreateTable adds a table named "schema.table". key may be empty.
func (s *MemSink) CreateTable(name, key string, columns ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[name] = &Table{Columns: columns, Key: key}
}

// Seed appends committed rows to a table.
func (s *MemSink) Seed(name string, rows ...Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[name]
	t.Rows = append(t.Rows, rows...)
}

// Rows returns the committed rows of a table.
func (s *MemSink) Rows(name string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return nil
	}
	return t.clone().Rows
}

// Begin starts a transaction.
func (s *MemSink) Begin(ctx context.Context) (loader.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailBegin != nil {
		return nil, s.FailBegin
	}
	s.Begins++
	work := make(map[string]*Table, len(s.tables))
	for k, t := range s.tables {
		work[k] = t.clone()
	}
	return &memTx{sink: s, tables: work}, nil
}

func (s *MemSink) record(sql string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Statements = append(s.Statements, sql)
}

// ErrTxDone is returned for statements on a finished transaction.
var ErrTxDone = errors.New("transaction already finished")

type memTx struct {
	sink   *MemSink
	tables map[string]*Table
	done   bool
}

var (
	identRegex    = regexp.MustCompile(`"((?:[^"]|"")*)"`)
	truncateRegex = regexp.MustCompile(`^TRUNCATE TABLE (\S+)$`)
	insertRegex   = regexp.MustCompile(`^INSERT INTO (\S+) \((.*?)\) VALUES .* ON CONFLICT \((.*?)\) DO NOTHING$`)
	copyRegex     = regexp.MustCompile(`^COPY (\S+) \((.*?)\) FROM STDIN`)
)

func identifiers(s string) []string {
	var out []string
	for _, m := range identRegex.FindAllStringSubmatch(s, -1) {
		out = append(out, strings.ReplaceAll(m[1], `""`, `"`))
	}
	return out
}

func (t *memTx) table(qualified string) (*Table, string, error) {
	name := strings.Join(identifiers(qualified), ".")
	tbl, ok := t.tables[name]
	if !ok {
		return nil, name, fmt.Errorf("relation %q does not exist", name)
	}
	return tbl, name, nil
}

func (t *memTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if t.done {
		return 0, ErrTxDone
	}
	t.sink.record(sql)

	if m := truncateRegex.FindStringSubmatch(sql); m != nil {
		tbl, _, err := t.table(m[1])
		if err != nil {
			return 0, err
		}
		tbl.Rows = nil
		return 0, nil
	}

	if m := insertRegex.FindStringSubmatch(sql); m != nil {
		tbl, _, err := t.table(m[1])
		if err != nil {
			return 0, err
		}
		cols := identifiers(m[2])
		key := identifiers(m[3])[0]
		if err := checkColumns(tbl, cols); err != nil {
			return 0, err
		}
		if tbl.Key != key {
			return 0, fmt.Errorf("there is no unique constraint matching ON CONFLICT (%s)", key)
		}
		if len(args)%len(cols) != 0 {
			return 0, fmt.Errorf("got %d args for %d columns", len(args), len(cols))
		}

		existing := make(map[string]bool, len(tbl.Rows))
		for _, r := range tbl.Rows {
			if v := r[key]; v != nil {
				existing[*v] = true
			}
		}

		var inserted int64
		for i := 0; i < len(args); i += len(cols) {
			row := make(Row, len(cols))
			for c, col := range cols {
				v, err := argText(args[i+c])
				if err != nil {
					return 0, fmt.Errorf("column %s: %w", col, err)
				}
				row[col] = v
			}
			k := row[key]
			if k == nil {
				return 0, fmt.Errorf("null value in column %q violates not-null constraint", key)
			}
			if existing[*k] {
				continue
			}
			existing[*k] = true
			tbl.Rows = append(tbl.Rows, row)
			inserted++
		}
		return inserted, nil
	}

	return 0, fmt.Errorf("unsupported statement: %s", sql)
}

func (t *memTx) CopyCSV(ctx context.Context, r io.Reader, sql string) (int64, error) {
	if t.done {
		return 0, ErrTxDone
	}
	t.sink.record(sql)

	m := copyRegex.FindStringSubmatch(sql)
	if m == nil {
		return 0, fmt.Errorf("unsupported copy: %s", sql)
	}
	tbl, _, err := t.table(m[1])
	if err != nil {
		return 0, err
	}
	cols := identifiers(m[2])
	if err := checkColumns(tbl, cols); err != nil {
		return 0, err
	}

	var pending []Row
	err = ParseCopyCSV(r, func(fields []*string) error {
		if t.sink.FailCopyAfter > 0 && len(pending) >= t.sink.FailCopyAfter {
			return fmt.Errorf("injected copy failure after %d rows", len(pending))
		}
		if len(fields) != len(cols) {
			return fmt.Errorf("row %d: got %d fields, want %d", len(pending)+1, len(fields), len(cols))
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = fields[i]
		}
		pending = append(pending, row)
		return nil
	})
	if err != nil {
		return 0, err
	}
	tbl.Rows = append(tbl.Rows, pending...)
	return int64(len(pending)), nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	t.sink.mu.Lock()
	defer t.sink.mu.Unlock()
	if t.sink.FailCommit != nil {
		return t.sink.FailCommit
	}
	t.sink.tables = t.tables
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return nil
}

func checkColumns(tbl *Table, cols []string) error {
	for _, c := range cols {
		if !tbl.hasColumn(c) {
			return fmt.Errorf("column %q does not exist", c)
		}
	}
	return nil
}

func argText(v any) (*string, error) {
	var s string
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		s = x
	case int64:
		s = strconv.FormatInt(x, 10)
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil {
			return nil, err
		}
		s = strconv.FormatFloat(f.Float64, 'f', -1, 64)
	case pgtype.Date:
		s = x.Time.Format("2006-01-02")
	case pgtype.Timestamp:
		s = x.Time.Format("2006-01-02 15:04:05.999999")
	default:
		return nil, fmt.Errorf("unsupported arg type %T", v)
	}
	return &s, nil
}

// ParseCopyCSV decodes COPY CSV text with NULL '': an empty unquoted field
// is nil and a quoted field is its text, even when empty.
func ParseCopyCSV(r io.Reader, fn func(fields []*string) error) error {
	br := bufio.NewReader(r)
	for {
		fields, err := readCopyRow(br)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(fields); err != nil {
			return err
		}
	}
}

func readCopyRow(br *bufio.Reader) ([]*string, error) {
	var (
		fields []*string
		sb     strings.Builder
		quoted bool
		inQ    bool
		any    bool
	)
	emit := func() {
		if quoted || sb.Len() > 0 {
			s := sb.String()
			fields = append(fields, &s)
		} else {
			fields = append(fields, nil)
		}
		sb.Reset()
		quoted = false
	}

	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			if !any {
				return nil, io.EOF
			}
			if inQ {
				return nil, errors.New("unterminated quoted field")
			}
			emit()
			return fields, nil
		}
		if err != nil {
			return nil, err
		}
		any = true

		switch {
		case inQ && b == '"':
			next, err := br.ReadByte()
			if err == nil && next == '"' {
				sb.WriteByte('"')
				continue
			}
			if err == nil {
				if uerr := br.UnreadByte(); uerr != nil {
					return nil, uerr
				}
			}
			inQ = false
		case inQ:
			sb.WriteByte(b)
		case b == '"':
			inQ, quoted = true, true
		case b == ',':
			emit()
		case b == '\n':
			emit()
			return fields, nil
		default:
			sb.WriteByte(b)
		}
	}
}
