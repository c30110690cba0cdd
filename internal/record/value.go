package record

import (
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Value is a single normalized cell. A Value with Valid=false is missing,
// regardless of its type; sinks decide how missing is encoded.
type Value struct {
	Type  SemanticType
	Valid bool

	Text string         // TypeText; decimal text for TypeNumeric
	Num  pgtype.Numeric // TypeNumeric
	Int  int64          // TypeInteger
	Time time.Time      // TypeDate, TypeTimestamp
}

// Missing returns a missing value of the given type.
func Missing(t SemanticType) Value {
	return Value{Type: t}
}

// TextValue returns a valid text value.
func TextValue(s string) Value {
	return Value{Type: TypeText, Valid: true, Text: s}
}

// NumericValue parses a plain decimal string ("-1234.5", "0.99"). Input
// pgtype.Numeric cannot scan yields a missing value.
func NumericValue(dec string) Value {
	var n pgtype.Numeric
	if err := n.Scan(dec); err != nil || !n.Valid {
		return Missing(TypeNumeric)
	}
	return Value{Type: TypeNumeric, Valid: true, Text: dec, Num: n}
}

// IntegerValue returns a valid integer value.
func IntegerValue(i int64) Value {
	return Value{Type: TypeInteger, Valid: true, Int: i}
}

// DateValue returns a valid date value truncated to the calendar day.
func DateValue(t time.Time) Value {
	y, m, d := t.Date()
	return Value{Type: TypeDate, Valid: true, Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// TimestampValue returns a valid timestamp value.
func TimestampValue(t time.Time) Value {
	return Value{Type: TypeTimestamp, Valid: true, Time: t}
}

// IsMissing reports whether the value is missing.
func (v Value) IsMissing() bool {
	return !v.Valid
}

// String renders the value in the text form PostgreSQL accepts for its type.
// Missing values render as "".
func (v Value) String() string {
	if !v.Valid {
		return ""
	}
	switch v.Type {
	case TypeInteger:
		return strconv.FormatInt(v.Int, 10)
	case TypeDate:
		return v.Time.Format("2006-01-02")
	case TypeTimestamp:
		return v.Time.Format("2006-01-02 15:04:05.999999")
	default:
		return v.Text
	}
}

// SQLValue returns the value as a query parameter; missing values are nil.
func (v Value) SQLValue() any {
	if !v.Valid {
		return nil
	}
	switch v.Type {
	case TypeNumeric:
		return v.Num
	case TypeInteger:
		return v.Int
	case TypeDate:
		return pgtype.Date{Time: v.Time, Valid: true}
	case TypeTimestamp:
		return pgtype.Timestamp{Time: v.Time, Valid: true}
	default:
		return v.Text
	}
}

// Equal reports whether two values carry the same type, validity and content.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type || v.Valid != o.Valid {
		return false
	}
	if !v.Valid {
		return true
	}
	return v.String() == o.String()
}
