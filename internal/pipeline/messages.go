package pipeline

// messages.go maps run errors to coded, user-facing messages for the CLI and
// the status API. Operators quote the code when reporting a failed run.
//
// # Codes
//
//	FILE001  No source files in the drop directory
//	FILE002  Source file has no header row
//	FILE003  Source file could not be read or parsed
//	COL001   Two headers collapse to the same column name
//	KEY001   Dedup key column missing from the data
//	KEY002   Dedup requested for a dataset without a unique key
//	DS001    Unknown dataset
//	RUN001   Another run holds the run slot
//	RUN002   Run cancelled
//	RUN003   Run timed out
//	DB001    Staging table does not exist
//	DB002    Column missing from the staging table
//	DB003    Value rejected by a column type
//	DB004    Unique constraint violation
//	DB005    Database unreachable
//	DB006    Database connection interrupted
//	DB009    Other database write failure
//	ERR000   Anything else; see the logs
//
// Typed errors are matched first with errors.As/errors.Is. Errors that lost
// their type (driver text, wrapped strings) fall back to case-insensitive
// substring patterns; the first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/propstage/internal/ingest"
	"github.com/JonMunkholm/propstage/internal/loader"
	"github.com/JonMunkholm/propstage/internal/normalize"
)

// UserMessage is a user-facing description of a failure.
type UserMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

// String renders "Message (Code: X). Action".
func (m UserMessage) String() string {
	if m.Code == "" {
		return ""
	}
	if m.Action == "" {
		return fmt.Sprintf("%s (Code: %s)", m.Message, m.Code)
	}
	return fmt.Sprintf("%s (Code: %s). %s", m.Message, m.Code, m.Action)
}

var (
	msgNoFiles = UserMessage{
		Code:    "FILE001",
		Message: "No source files found in the drop directory",
		Action:  "Check INGEST_DIR and that the export finished writing",
	}
	msgEmptyFile = UserMessage{
		Code:    "FILE002",
		Message: "The source file has no header row",
		Action:  "Re-export the file with column headers",
	}
	msgUnreadable = UserMessage{
		Code:    "FILE003",
		Message: "A source file could not be read",
		Action:  "Open the file to confirm it is a valid xlsx, parquet or csv",
	}
	msgDuplicateColumn = UserMessage{
		Code:    "COL001",
		Message: "Two headers map to the same column name",
		Action:  "Rename one of the headers or add a rename to the dataset",
	}
	msgMissingKey = UserMessage{
		Code:    "KEY001",
		Message: "The dedup key column is missing from the data",
		Action:  "Check the export includes the key column, or run in replace mode",
	}
	msgNoUniqueKey = UserMessage{
		Code:    "KEY002",
		Message: "This dataset has no unique key, so dedup mode cannot be used",
		Action:  "Use replace or append mode, or set unique_key for the dataset",
	}
	msgUnknownDataset = UserMessage{
		Code:    "DS001",
		Message: "Unknown dataset",
		Action:  "List datasets with GET /api/datasets or check PIPELINE_DATASET",
	}
	msgRunInProgress = UserMessage{
		Code:    "RUN001",
		Message: "Another run is in progress",
		Action:  "Wait for it to finish and try again",
	}
	msgCancelled = UserMessage{
		Code:    "RUN002",
		Message: "The run was cancelled",
		Action:  "Start a new run when ready",
	}
	msgTimeout = UserMessage{
		Code:    "RUN003",
		Message: "The run timed out",
		Action:  "Raise PIPELINE_RUN_TIMEOUT or load fewer files",
	}
	msgUndefinedTable = UserMessage{
		Code:    "DB001",
		Message: "The staging table does not exist",
		Action:  "Run propstage migrate",
	}
	msgUndefinedColumn = UserMessage{
		Code:    "DB002",
		Message: "The data has a column the staging table lacks",
		Action:  "Add the column with a migration or rename it in the dataset",
	}
	msgBadValue = UserMessage{
		Code:    "DB003",
		Message: "A value was rejected by the staging table's column type",
		Action:  "Check the dataset's column types against the table",
	}
	msgUniqueViolation = UserMessage{
		Code:    "DB004",
		Message: "A duplicate key value was rejected",
		Action:  "Use dedup mode for keyed tables",
	}
	msgConnRefused = UserMessage{
		Code:    "DB005",
		Message: "Unable to connect to the database",
		Action:  "Check DATABASE_URL and that the server is running",
	}
	msgConnReset = UserMessage{
		Code:    "DB006",
		Message: "The database connection was interrupted",
		Action:  "Try the run again",
	}
	msgSinkWrite = UserMessage{
		Code:    "DB009",
		Message: "Writing to the staging table failed",
		Action:  "Check the logs for the database error",
	}
	msgUnknown = UserMessage{
		Code:    "ERR000",
		Message: "An unexpected error occurred",
		Action:  "Check the logs for the run id",
	}
)

// errorPatterns are matched against the lowercased error text when no typed
// match applies. Every substring of a pattern must be present.
var errorPatterns = []struct {
	all []string
	msg UserMessage
}{
	{[]string{"connection refused"}, msgConnRefused},
	{[]string{"connection reset"}, msgConnReset},
	{[]string{"broken pipe"}, msgConnReset},
	{[]string{"column", "does not exist"}, msgUndefinedColumn},
	{[]string{"does not exist"}, msgUndefinedTable},
	{[]string{"duplicate key"}, msgUniqueViolation},
	{[]string{"violates unique"}, msgUniqueViolation},
	{[]string{"no unique", "on conflict"}, msgNoUniqueKey},
	{[]string{"invalid input syntax"}, msgBadValue},
	{[]string{"context canceled"}, msgCancelled},
	{[]string{"deadline exceeded"}, msgTimeout},
}

// pgCodes maps SQLSTATE codes to messages.
var pgCodes = map[string]UserMessage{
	"42P01": msgUndefinedTable,  // undefined_table
	"3F000": msgUndefinedTable,  // invalid_schema_name
	"42703": msgUndefinedColumn, // undefined_column
	"23505": msgUniqueViolation, // unique_violation
	"42P10": msgNoUniqueKey,     // invalid_column_reference: ON CONFLICT without a matching constraint
}

// Describe maps err to a user-facing message. It returns the zero
// UserMessage for a nil error.
func Describe(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var (
		unknownDataset *UnknownDatasetError
		dupColumn      *normalize.DuplicateColumnError
		missingKey     *loader.MissingKeyError
		readErr        *ingest.ReadError
		pgErr          *pgconn.PgError
		sinkErr        *loader.SinkWriteError
	)
	switch {
	case errors.Is(err, ErrRunInProgress):
		return msgRunInProgress
	case errors.As(err, &unknownDataset):
		return withDetail(msgUnknownDataset, unknownDataset.Key)
	case errors.Is(err, ErrNoUniqueKey):
		return msgNoUniqueKey
	case errors.Is(err, ingest.ErrNotFound):
		return msgNoFiles
	case errors.Is(err, ingest.ErrEmptyFile):
		return msgEmptyFile
	case errors.As(err, &dupColumn):
		return withDetail(msgDuplicateColumn, dupColumn.Column)
	case errors.As(err, &missingKey):
		return withDetail(msgMissingKey, missingKey.Column)
	case errors.As(err, &readErr):
		return withDetail(msgUnreadable, readErr.File)
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	case errors.As(err, &pgErr):
		if msg, ok := pgCodes[pgErr.Code]; ok {
			return msg
		}
		if strings.HasPrefix(pgErr.Code, "22") { // data_exception class
			return msgBadValue
		}
		return msgSinkWrite
	}

	text := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		if containsAll(text, p.all) {
			return p.msg
		}
	}
	if errors.As(err, &sinkErr) {
		return msgSinkWrite
	}
	return msgUnknown
}

// FormatUserError is Describe(err).String().
func FormatUserError(err error) string {
	return Describe(err).String()
}

func withDetail(m UserMessage, detail string) UserMessage {
	if detail != "" {
		m.Message = fmt.Sprintf("%s: %s", m.Message, detail)
	}
	return m
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
