package loader

import (
	"context"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sink opens transactions against the staging database.
type Sink interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is the part of a database transaction the loader uses.
type Tx interface {
	// Exec runs a statement and returns the number of rows affected.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)

	// CopyCSV streams r into a COPY ... FROM STDIN statement.
	CopyCSV(ctx context.Context, r io.Reader, sql string) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// PgSink is a Sink backed by a pgx connection pool.
type PgSink struct {
	pool *pgxpool.Pool
}

// NewPgSink wraps pool.
func NewPgSink(pool *pgxpool.Pool) *PgSink {
	return &PgSink{pool: pool}
}

// Begin starts a transaction on a pooled connection.
func (s *PgSink) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CopyCSV uses the connection's raw COPY protocol so the text stream from
// the encoder reaches the server unchanged.
func (t *pgTx) CopyCSV(ctx context.Context, r io.Reader, sql string) (int64, error) {
	tag, err := t.tx.Conn().PgConn().CopyFrom(ctx, r, sql)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// Target is a staging table.
type Target struct {
	Schema string
	Table  string
}

// String returns schema.table unquoted, for logs and messages.
func (t Target) String() string {
	if t.Schema == "" {
		return t.Table
	}
	return t.Schema + "." + t.Table
}

// Qualified returns the quoted identifier used in SQL.
func (t Target) Qualified() string {
	if t.Schema == "" {
		return quoteIdentifier(t.Table)
	}
	return quoteIdentifier(t.Schema) + "." + quoteIdentifier(t.Table)
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdentifiers(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}
