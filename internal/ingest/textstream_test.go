package ingest

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"
)

func TestTextReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello,world")...),
			expected: "hello,world",
		},
		{
			name:     "file without BOM",
			input:    []byte("hello,world"),
			expected: "hello,world",
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "partial BOM at start is invalid UTF-8",
			input:    []byte{0xEF, 0xBB, 'a', 'b', 'c'},
			expected: "??abc",
		},
		{
			name:     "valid multibyte kept",
			input:    []byte("Zoë,Ünïcode,日本"),
			expected: "Zoë,Ünïcode,日本",
		},
		{
			name:     "invalid single byte replaced",
			input:    []byte{'h', 'e', 0x80, 'l', 'o'},
			expected: "he?lo",
		},
		{
			name:     "BOM and invalid byte",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte{'h', 'e', 0x80, 'l', 'o'}...),
			expected: "he?lo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := io.ReadAll(newTextReader(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

// Multi-byte runes split across underlying reads, and callers reading one
// byte at a time, must not corrupt valid UTF-8.
func TestTextReader_SplitReads(t *testing.T) {
	input := "\xEF\xBB\xBFcafé,€100,日本\n"

	r := iotest.OneByteReader(newTextReader(iotest.OneByteReader(bytes.NewReader([]byte(input)))))
	result, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "café,€100,日本\n"; string(result) != want {
		t.Errorf("got %q, want %q", string(result), want)
	}
}

func TestTextReader_PropagatesErrors(t *testing.T) {
	boom := iotest.ErrTimeout
	r := newTextReader(io.MultiReader(bytes.NewReader([]byte("abc")), iotest.ErrReader(boom)))

	result, err := io.ReadAll(r)
	if err != boom {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if string(result) != "abc" {
		t.Errorf("got %q, want abc", string(result))
	}
}
