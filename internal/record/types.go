// Package record defines the tabular data shapes passed between the resolver,
// the normalizer and the loader.
//
// A RawRecordSet is untyped text straight out of a source file. A
// NormalizedRecordSet carries canonical column names, a declared semantic type
// per column and typed values, where a failed or blank cell is a missing Value
// rather than an error.
package record

import (
	"fmt"
	"strings"
)

// SemanticType is the declared type of a normalized column.
type SemanticType int

const (
	TypeText SemanticType = iota
	TypeNumeric
	TypeInteger
	TypeDate
	TypeTimestamp
)

var typeNames = map[SemanticType]string{
	TypeText:      "text",
	TypeNumeric:   "numeric",
	TypeInteger:   "integer",
	TypeDate:      "date",
	TypeTimestamp: "timestamp",
}

func (t SemanticType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("SemanticType(%d)", int(t))
}

// ParseSemanticType converts a type name ("numeric", "date", ...) to a SemanticType.
// Matching is case-insensitive; "datetime" is accepted as an alias for timestamp.
func ParseSemanticType(s string) (SemanticType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "string", "":
		return TypeText, nil
	case "numeric", "number", "decimal":
		return TypeNumeric, nil
	case "integer", "int":
		return TypeInteger, nil
	case "date":
		return TypeDate, nil
	case "timestamp", "datetime":
		return TypeTimestamp, nil
	default:
		return TypeText, fmt.Errorf("unknown semantic type %q", s)
	}
}

// UnmarshalText lets SemanticType be decoded from YAML and env values.
func (t *SemanticType) UnmarshalText(b []byte) error {
	parsed, err := ParseSemanticType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalText encodes the type by name.
func (t SemanticType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ExtractDateColumn is the column every normalized record set carries.
const ExtractDateColumn = "extract_date"

// Column describes one normalized column.
type Column struct {
	Name string
	Type SemanticType
}

// NormalizedRecordSet is a RawRecordSet after header canonicalization and
// type coercion. Every row has exactly len(Columns) values.
type NormalizedRecordSet struct {
	Columns []Column
	Rows    [][]Value
}

// Len returns the number of rows.
func (s *NormalizedRecordSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Rows)
}

// Empty reports whether the set has no rows.
func (s *NormalizedRecordSet) Empty() bool {
	return s.Len() == 0
}

// ColumnNames returns the column names in order.
func (s *NormalizedRecordSet) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of the named column, or -1.
func (s *NormalizedRecordSet) Index(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Column returns the values of the named column and whether it exists.
func (s *NormalizedRecordSet) Column(name string) ([]Value, bool) {
	idx := s.Index(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]Value, len(s.Rows))
	for i, row := range s.Rows {
		out[i] = row[idx]
	}
	return out, true
}
