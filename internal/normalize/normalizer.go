// Package normalize turns a RawRecordSet into a NormalizedRecordSet:
// canonical column names, manual renames, blank and sentinel handling,
// per-column type coercion and extract_date injection.
//
// Cell-level problems never fail a call. The only error Normalize returns is
// DuplicateColumnError, when two headers end up with the same name.
package normalize

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/propstage/internal/record"
)

// DefaultMissingMarkers are cell values treated as missing, case-insensitively.
var DefaultMissingMarkers = []string{"n/a", "na"}

// ValueFunc rewrites a cleaned, non-missing cell before coercion.
// Returning "" marks the cell missing.
type ValueFunc func(string) string

// Options configures a Normalizer. The zero value is usable.
type Options struct {
	// MissingMarkers overrides DefaultMissingMarkers when non-nil.
	MissingMarkers []string

	// ValueFuncs are applied per canonical column name, after renames.
	ValueFuncs map[string]ValueFunc

	// Now returns the processing time. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Normalizer applies the schema normalization pass.
type Normalizer struct {
	markers    map[string]struct{}
	valueFuncs map[string]ValueFunc
	now        func() time.Time
	logger     *slog.Logger
}

// New returns a Normalizer configured by opts.
func New(opts Options) *Normalizer {
	markers := opts.MissingMarkers
	if markers == nil {
		markers = DefaultMissingMarkers
	}
	set := make(map[string]struct{}, len(markers))
	for _, m := range markers {
		set[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Normalizer{
		markers:    set,
		valueFuncs: opts.ValueFuncs,
		now:        now,
		logger:     logger,
	}
}

// Normalize canonicalizes raw into a typed record set.
//
// types maps canonical column names to semantic types; columns not listed are
// text. renames maps a canonical or raw header to its final name; keys that
// match nothing are ignored. extract_date defaults to the processing date when
// the input lacks it.
func (n *Normalizer) Normalize(raw *record.RawRecordSet, types map[string]record.SemanticType, renames map[string]string) (*record.NormalizedRecordSet, error) {
	if raw == nil {
		raw = &record.RawRecordSet{}
	}

	names := ColumnNames(raw.Header, renames)

	seen := make(map[string]int, len(names))
	for i, name := range names {
		if first, dup := seen[name]; dup {
			return nil, &DuplicateColumnError{
				Column:  name,
				Headers: []string{raw.Header[first], raw.Header[i]},
			}
		}
		seen[name] = i
	}

	now := n.now()

	columns := make([]record.Column, len(names))
	for i, name := range names {
		typ := types[name]
		if name == record.ExtractDateColumn {
			typ = typeOr(types, name, record.TypeDate)
		}
		columns[i] = record.Column{Name: name, Type: typ}
	}

	_, hasExtractDate := seen[record.ExtractDateColumn]
	if !hasExtractDate {
		columns = append(columns, record.Column{
			Name: record.ExtractDateColumn,
			Type: typeOr(types, record.ExtractDateColumn, record.TypeDate),
		})
	}

	out := &record.NormalizedRecordSet{
		Columns: columns,
		Rows:    make([][]record.Value, 0, raw.Len()),
	}

	failed := make(map[string]int)
	for i := range raw.Rows {
		row := make([]record.Value, len(columns))
		for c, col := range columns[:len(names)] {
			cell, ok := n.clean(raw.Cell(i, c), col.Name)
			if !ok {
				row[c] = record.Missing(col.Type)
				continue
			}
			row[c] = Coerce(cell, col.Type, now)
			if row[c].IsMissing() {
				failed[col.Name]++
			}
		}
		if !hasExtractDate {
			last := len(columns) - 1
			row[last] = Coerce(now.Format("2006-01-02"), columns[last].Type, now)
		}
		out.Rows = append(out.Rows, row)
	}

	for col, count := range failed {
		n.logger.Debug("values coerced to missing",
			"column", col,
			"type", types[col].String(),
			"count", count,
		)
	}

	return out, nil
}

// clean trims a cell and reports false when it is blank or a missing marker.
func (n *Normalizer) clean(cell, column string) (string, bool) {
	cell = CleanCell(cell)
	if cell == "" {
		return "", false
	}
	if _, marker := n.markers[strings.ToLower(cell)]; marker {
		return "", false
	}
	if fn, ok := n.valueFuncs[column]; ok {
		cell = strings.TrimSpace(fn(cell))
		if cell == "" {
			return "", false
		}
	}
	return cell, true
}

func typeOr(types map[string]record.SemanticType, name string, def record.SemanticType) record.SemanticType {
	if t, ok := types[name]; ok {
		return t
	}
	return def
}

// DuplicateColumnError is returned when two headers normalize to the same
// column name after renames.
type DuplicateColumnError struct {
	Column  string
	Headers []string
}

func (e *DuplicateColumnError) Error() string {
	return fmt.Sprintf("duplicate column %q from headers %q", e.Column, e.Headers)
}
