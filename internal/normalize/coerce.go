package normalize

// coerce.go converts trimmed cell text into typed record values.
//
// Spreadsheet exports are messy: currency symbols, thousands separators,
// accounting negatives, half a dozen date layouts and Excel formula prefixes.
// Every function here degrades to a missing value instead of failing; a bad
// cell never drops its row.

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/propstage/internal/record"
)

// decimalRegex matches a plain decimal after cleanup. Exponents are rejected.
var decimalRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would land more than this many years after the current year
// are moved to the previous century.
var TwoDigitYearPivot = 20

var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "01-02-06", "1.2.06", "01.02.06",
		"2-Jan-06", "02-Jan-06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "2 January 2006",
		"2-Jan-2006", "02-Jan-2006", "Jan 2 2006",
		"20060102",
	}
	dateTimeLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04",
		"1/2/2006 15:04:05",
		"1/2/2006 15:04",
		"1/2/2006 3:04:05 PM",
		"1/2/2006 3:04 PM",
		"01/02/2006 15:04:05",
		"01/02/2006 03:04:05 PM",
		"1/2/06 15:04",
		"1/2/06 3:04 PM",
	}
)

// CleanCell removes spreadsheet artifacts from a cell: surrounding whitespace
// and the Excel text-formula wrapper (="...").
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = strings.TrimSpace(s[2 : len(s)-1])
	}
	return s
}

// ParseDecimal cleans a numeric cell into a plain decimal string.
// Handles currency symbols, thousands separators and accounting format
// (parentheses for negative). A trailing percent sign divides by 100, so a
// spreadsheet cell displayed as "5.25%" yields "0.0525".
func ParseDecimal(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	percent := false
	if strings.HasSuffix(s, "%") {
		percent = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}

	if isNegative {
		if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
			return "", false
		}
		s = "-" + s
	}

	if !decimalRegex.MatchString(s) {
		return "", false
	}

	dec := canonicalDecimal(s)
	if percent {
		dec = shiftDecimal(dec, 2)
	}
	return dec, true
}

// shiftDecimal moves the decimal point of a canonical decimal places digits
// to the left, working on the digits so no precision is lost.
func shiftDecimal(s string, places int) string {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")
	if len(intPart) <= places {
		intPart = strings.Repeat("0", places-len(intPart)+1) + intPart
	}
	frac = intPart[len(intPart)-places:] + frac
	intPart = strings.TrimLeft(intPart[:len(intPart)-places], "0")
	if intPart == "" {
		intPart = "0"
	}
	frac = strings.TrimRight(frac, "0")

	out := intPart
	if frac != "" {
		out += "." + frac
	}
	if neg && out != "0" {
		return "-" + out
	}
	return out
}

// canonicalDecimal drops a leading "+", adds a leading zero before a bare
// fraction and removes a trailing decimal point.
func canonicalDecimal(s string) string {
	neg := false
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		neg = true
		s = s[1:]
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	s = strings.TrimSuffix(s, ".")
	if neg {
		return "-" + s
	}
	return s
}

// ToNumeric coerces a cell to a numeric value.
func ToNumeric(s string) record.Value {
	dec, ok := ParseDecimal(s)
	if !ok {
		return record.Missing(record.TypeNumeric)
	}
	return record.NumericValue(dec)
}

// ToInteger coerces a cell to an integer, truncating any fraction toward zero.
func ToInteger(s string) record.Value {
	dec, ok := ParseDecimal(s)
	if !ok {
		return record.Missing(record.TypeInteger)
	}
	whole, _, _ := strings.Cut(dec, ".")
	i, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return record.Missing(record.TypeInteger)
	}
	return record.IntegerValue(i)
}

// ParseDate parses a date in any supported layout. Date-time input is
// accepted and truncated to its calendar day. now anchors the 2-digit year pivot.
func ParseDate(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	// 4-digit year layouts first (unambiguous)
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	pivotYear := now.Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}

	if t, ok := parseDateTime(s, now); ok {
		return t, true
	}

	return time.Time{}, false
}

// ParseTimestamp parses a date-time, falling back to date-only layouts at
// midnight.
func ParseTimestamp(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, ok := parseDateTime(s, now); ok {
		return t, true
	}
	return ParseDate(s, now)
}

func parseDateTime(s string, now time.Time) (time.Time, bool) {
	pivotYear := now.Year() + TwoDigitYearPivot
	for _, layout := range dateTimeLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() > pivotYear {
			t = t.AddDate(-100, 0, 0)
		}
		if t.Location() != time.UTC {
			t = t.UTC()
		}
		return t, true
	}
	return time.Time{}, false
}

// ToDate coerces a cell to a date value.
func ToDate(s string, now time.Time) record.Value {
	t, ok := ParseDate(s, now)
	if !ok {
		return record.Missing(record.TypeDate)
	}
	return record.DateValue(t)
}

// ToTimestamp coerces a cell to a timestamp value.
func ToTimestamp(s string, now time.Time) record.Value {
	t, ok := ParseTimestamp(s, now)
	if !ok {
		return record.Missing(record.TypeTimestamp)
	}
	return record.TimestampValue(t)
}

// Coerce converts a cleaned, non-missing cell to typ. It never fails; input
// that cannot be represented becomes a missing value of typ.
func Coerce(s string, typ record.SemanticType, now time.Time) record.Value {
	switch typ {
	case record.TypeNumeric:
		return ToNumeric(s)
	case record.TypeInteger:
		return ToInteger(s)
	case record.TypeDate:
		return ToDate(s, now)
	case record.TypeTimestamp:
		return ToTimestamp(s, now)
	default:
		return record.TextValue(s)
	}
}
