package loader

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/JonMunkholm/propstage/internal/record"
)

// encodeCopyCSV writes set in PostgreSQL's COPY CSV format with NULL ''.
// A missing value is an empty unquoted field, which the server reads as NULL;
// a present empty string is written as "" so it stays an empty string.
func encodeCopyCSV(ctx context.Context, w io.Writer, set *record.NormalizedRecordSet) error {
	bw := bufio.NewWriterSize(w, 64*1024)
	for i, row := range set.Rows {
		if i%copyCtxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for c, v := range row {
			if c > 0 {
				if err := bw.WriteByte(','); err != nil {
					return err
				}
			}
			if v.IsMissing() {
				continue
			}
			if err := writeCopyField(bw, v.String()); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

const copyCtxCheckInterval = 1000

func writeCopyField(w *bufio.Writer, s string) error {
	if !needsQuote(s) {
		_, err := w.WriteString(s)
		return err
	}
	if err := w.WriteByte('"'); err != nil {
		return err
	}
	if _, err := w.WriteString(strings.ReplaceAll(s, `"`, `""`)); err != nil {
		return err
	}
	return w.WriteByte('"')
}

// needsQuote reports whether a field must be quoted. Empty strings are quoted
// to keep them distinct from NULL, and a leading backslash is quoted so a
// lone \. is never read as the end-of-data marker.
func needsQuote(s string) bool {
	if s == "" {
		return true
	}
	if s[0] == '\\' {
		return true
	}
	return strings.ContainsAny(s, ",\"\r\n")
}
