package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/JonMunkholm/propstage/internal/record"
)

// headerKeyPrefix keys the raw header of leaf column i in the footer's
// key/value metadata. Physical column names are c0..cN because raw headers
// are rarely valid parquet identifiers.
const headerKeyPrefix = "propstage.header."

const parquetParallelism = 4

// WriteParquet writes raw as a parquet file with every column an optional
// UTF-8 string; blank cells are stored as null. The file is written to a
// temporary name and renamed into place.
func WriteParquet(path string, raw *record.RawRecordSet) error {
	meta := make([]string, len(raw.Header))
	for i := range raw.Header {
		meta[i] = fmt.Sprintf("name=c%d, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", i)
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	pw, err := writer.NewCSVWriter(meta, fw, parquetParallelism)
	if err != nil {
		fw.Close()
		os.Remove(tmp)
		return fmt.Errorf("init parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i, h := range raw.Header {
		h := h // per-iteration copy; &h is retained (go.mod targets go1.21 loop semantics)
		pw.Footer.KeyValueMetadata = append(pw.Footer.KeyValueMetadata, &parquet.KeyValue{
			Key:   headerKeyPrefix + strconv.Itoa(i),
			Value: &h,
		})
	}

	writeErr := func() error {
		for i := range raw.Rows {
			rec := make([]*string, len(raw.Header))
			for c := range raw.Header {
				if v := raw.Cell(i, c); v != "" {
					rec[c] = &v
				}
			}
			if err := pw.WriteString(rec); err != nil {
				return fmt.Errorf("write row %d: %w", i+1, err)
			}
		}
		return pw.WriteStop()
	}()
	closeErr := fw.Close()

	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmp)
		return writeErr
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// readParquet reads a flat parquet file column by column. Files written by
// WriteParquet recover their raw headers from the footer metadata; other
// files use the schema's column names. Nulls become blank cells.
func readParquet(ctx context.Context, path string) (*record.RawRecordSet, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	pr, err := reader.NewParquetColumnReader(fr, parquetParallelism)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	defer pr.ReadStop()

	leaves := leafColumns(pr.Footer.Schema)
	exNames := make(map[*parquet.SchemaElement]string, len(leaves))
	for i, el := range pr.Footer.Schema {
		if i < len(pr.SchemaHandler.Infos) && pr.SchemaHandler.Infos[i] != nil {
			exNames[el] = pr.SchemaHandler.Infos[i].ExName
		}
	}
	headers := make(map[string]string)
	for _, kv := range pr.Footer.KeyValueMetadata {
		if kv != nil && kv.Value != nil {
			headers[kv.Key] = *kv.Value
		}
	}

	numRows := pr.GetNumRows()
	raw := &record.RawRecordSet{
		Header: make([]string, len(leaves)),
		Rows:   make([][]string, numRows),
	}
	for i := range raw.Rows {
		raw.Rows[i] = make([]string, len(leaves))
	}

	for c, leaf := range leaves {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if h, ok := headers[headerKeyPrefix+strconv.Itoa(c)]; ok {
			raw.Header[c] = h
		} else if ex := exNames[leaf]; ex != "" {
			raw.Header[c] = ex
		} else {
			raw.Header[c] = leaf.Name
		}

		values, _, _, err := pr.ReadColumnByIndex(int64(c), numRows)
		if err != nil {
			return nil, fmt.Errorf("read column %s: %w", raw.Header[c], err)
		}
		for i, v := range values {
			if int64(i) >= numRows {
				break
			}
			raw.Rows[i][c] = formatParquetValue(v, leaf)
		}
	}

	return raw, nil
}

func leafColumns(schema []*parquet.SchemaElement) []*parquet.SchemaElement {
	var leaves []*parquet.SchemaElement
	for i, el := range schema {
		if i == 0 || el == nil {
			continue // root
		}
		if el.NumChildren != nil && *el.NumChildren > 0 {
			continue
		}
		leaves = append(leaves, el)
	}
	return leaves
}

// formatParquetValue renders a physical parquet value as cell text, decoding
// the DATE and TIMESTAMP converted types that pandas and Arrow emit.
func formatParquetValue(v any, el *parquet.SchemaElement) string {
	if v == nil {
		return ""
	}
	if el.ConvertedType != nil {
		switch *el.ConvertedType {
		case parquet.ConvertedType_DATE:
			if d, ok := v.(int32); ok {
				return time.Unix(0, 0).UTC().AddDate(0, 0, int(d)).Format("2006-01-02")
			}
		case parquet.ConvertedType_TIMESTAMP_MILLIS:
			if ms, ok := v.(int64); ok {
				return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05.999")
			}
		case parquet.ConvertedType_TIMESTAMP_MICROS:
			if us, ok := v.(int64); ok {
				return time.UnixMicro(us).UTC().Format("2006-01-02 15:04:05.999999")
			}
		}
	}
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// MirrorPath returns the parquet mirror path for a source file: same
// directory and stem, .parquet extension.
func MirrorPath(f SourceFile) string {
	return filepath.Join(filepath.Dir(f.Path), f.Stem()+"."+string(FormatParquet))
}
