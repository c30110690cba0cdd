// Package migrations creates the staging schema, the staging tables and the
// run log. Migrations are embedded SQL files applied with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var FS embed.FS

const dir = "sql"

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

func setup() error {
	goose.SetBaseFS(FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	return nil
}

// Up applies all pending migrations and returns the resulting version.
func Up(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	return withDB(ctx, pool, func(db *sql.DB) (int64, error) {
		before, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return 0, fmt.Errorf("goose version: %w", err)
		}
		if err := goose.UpContext(ctx, db, dir); err != nil {
			return 0, fmt.Errorf("goose up: %w", err)
		}
		after, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return 0, fmt.Errorf("goose version: %w", err)
		}
		slog.Info("migrations applied", "from", before, "to", after)
		return after, nil
	})
}

// Down rolls back the most recent migration and returns the new version.
func Down(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	return withDB(ctx, pool, func(db *sql.DB) (int64, error) {
		if err := goose.DownContext(ctx, db, dir); err != nil {
			return 0, fmt.Errorf("goose down: %w", err)
		}
		return goose.GetDBVersionContext(ctx, db)
	})
}

// Version returns the current schema version.
func Version(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	return withDB(ctx, pool, func(db *sql.DB) (int64, error) {
		return goose.GetDBVersionContext(ctx, db)
	})
}

func withDB(ctx context.Context, pool *pgxpool.Pool, fn func(*sql.DB) (int64, error)) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := setup(); err != nil {
		return 0, err
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	return fn(db)
}
