package normalize

import (
	"testing"
	"time"

	"github.com/JonMunkholm/propstage/internal/record"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"positive integer", "123", "123", true},
		{"zero", "0", "0", true},
		{"negative integer", "-456", "-456", true},
		{"decimal number", "123.45", "123.45", true},
		{"leading decimal point", ".99", "0.99", true},
		{"negative leading decimal point", "-.5", "-0.5", true},
		{"trailing decimal point", "99.", "99", true},
		{"explicit positive sign", "+123", "123", true},
		{"dollar sign", "$1,234.56", "1234.56", true},
		{"euro sign", "€1234.56", "1234.56", true},
		{"pound sign", "£1234.56", "1234.56", true},
		{"thousands separator", "1,234,567.89", "1234567.89", true},
		{"accounting negative", "(123.45)", "-123.45", true},
		{"accounting negative with currency", "($1,234.56)", "-1234.56", true},
		{"accounting negative with spaces", "( 999.99 )", "-999.99", true},
		{"surrounded by whitespace", "  123.45  ", "123.45", true},
		{"percent", "5.25%", "0.0525", true},
		{"whole percent", "100%", "1", true},
		{"small percent", "0.5 %", "0.005", true},
		{"percent with thousands separator", "1,250%", "12.5", true},
		{"accounting negative percent", "(3.5%)", "-0.035", true},
		{"zero percent", "0%", "0", true},

		{"empty string", "", "", false},
		{"only whitespace", "   ", "", false},
		{"alphabetic", "abc", "", false},
		{"mixed alphanumeric", "12abc34", "", false},
		{"only currency symbol", "$", "", false},
		{"only currency and comma", "$,", "", false},
		{"multiple decimal points", "1.2.3", "", false},
		{"scientific notation", "1.5e10", "", false},
		{"double negative", "(-5)", "", false},
		{"empty parentheses", "()", "", false},
		{"only percent sign", "%", "", false},
		{"double percent sign", "5%%", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDecimal(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseDecimal(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParseDecimal(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestToInteger_TruncatesTowardZero(t *testing.T) {
	tests := []struct {
		input     string
		wantValid bool
		want      int64
	}{
		{"1998", true, 1998},
		{"1998.7", true, 1998},
		{"-3.9", true, -3},
		{"-0.5", true, 0},
		{"1,250", true, 1250},
		{"unknown", false, 0},
		{"99999999999999999999", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ToInteger(tt.input)
			if got.Valid != tt.wantValid {
				t.Fatalf("ToInteger(%q).Valid = %v, want %v", tt.input, got.Valid, tt.wantValid)
			}
			if got.Int != tt.want {
				t.Errorf("ToInteger(%q) = %d, want %d", tt.input, got.Int, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"ISO", "2024-01-15", "2024-01-15", true},
		{"ISO slash", "2024/01/15", "2024-01-15", true},
		{"US slash", "1/15/2024", "2024-01-15", true},
		{"US slash padded", "01/15/2024", "2024-01-15", true},
		{"US dash", "01-15-2024", "2024-01-15", true},
		{"US dot", "01.15.2024", "2024-01-15", true},
		{"month name", "Jan 15, 2024", "2024-01-15", true},
		{"long month name", "January 15, 2024", "2024-01-15", true},
		{"day month year", "15 Jan 2024", "2024-01-15", true},
		{"excel style", "15-Jan-2024", "2024-01-15", true},
		{"compact", "20240115", "2024-01-15", true},
		{"two digit year", "1/15/24", "2024-01-15", true},
		{"two digit year previous century", "1/15/99", "1999-01-15", true},
		{"date time truncated", "2024-01-15 13:45:00", "2024-01-15", true},
		{"RFC3339", "2024-01-15T13:45:00Z", "2024-01-15", true},

		{"empty", "", "", false},
		{"garbage", "not a date", "", false},
		{"invalid month", "13/45/2024", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input, testNow)
			if ok != tt.wantOK {
				t.Fatalf("ParseDate(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if s := got.Format("2006-01-02"); s != tt.want {
				t.Errorf("ParseDate(%q) = %s, want %s", tt.input, s, tt.want)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"2024-01-15 13:45:10", "2024-01-15 13:45:10"},
		{"2024-01-15T13:45:10", "2024-01-15 13:45:10"},
		{"1/15/2024 1:45 PM", "2024-01-15 13:45:00"},
		{"1/15/2024 13:45", "2024-01-15 13:45:00"},
		{"2024-01-15", "2024-01-15 00:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.input, testNow)
			if !ok {
				t.Fatalf("ParseTimestamp(%q) failed", tt.input)
			}
			if s := got.Format("2006-01-02 15:04:05"); s != tt.want {
				t.Errorf("ParseTimestamp(%q) = %s, want %s", tt.input, s, tt.want)
			}
		})
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  padded  ", "padded"},
		{`="00123"`, "00123"},
		{`=""`, ""},
		{"O'Brien", "O'Brien"},
		{`"quoted"`, `"quoted"`},
	}
	for _, tt := range tests {
		if got := CleanCell(tt.input); got != tt.want {
			t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// Coercion must never panic and must always return a value of the requested
// type, whatever the input.
func TestCoerce_NeverFails(t *testing.T) {
	inputs := []string{
		"", " ", "(", ")", "()", "-", "+", ".", "-.", "$", "€", "£", ",", "e", "1e",
		"((1))", "($)", "1/2/", "//", "0000-00-00", "99999999999999999999999999",
		"9223372036854775808", "-9223372036854775809", "\x00", "\xff\xfe", "日本",
		"2024-02-30", "24:61", "Jan", "1,2,3.4.5", "NaN", "Infinity",
	}
	types := []record.SemanticType{
		record.TypeText, record.TypeNumeric, record.TypeInteger, record.TypeDate, record.TypeTimestamp,
	}

	for _, in := range inputs {
		for _, typ := range types {
			v := Coerce(in, typ, testNow)
			if v.Type != typ {
				t.Errorf("Coerce(%q, %v).Type = %v", in, typ, v.Type)
			}
		}
	}
}
