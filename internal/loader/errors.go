package loader

import "fmt"

// MissingKeyError is returned by InsertDeduplicated when the record set has
// no column matching the business key.
type MissingKeyError struct {
	Column string
	Table  string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("key column %q missing from record set for %s", e.Column, e.Table)
}

// SinkWriteError wraps a database failure during a load. The transaction has
// been rolled back when it is returned.
type SinkWriteError struct {
	Op            string // begin, truncate, copy, insert, commit
	Table         string
	RowsAttempted int64
	Err           error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("%s %s (%d rows attempted): %v", e.Op, e.Table, e.RowsAttempted, e.Err)
}

func (e *SinkWriteError) Unwrap() error {
	return e.Err
}
