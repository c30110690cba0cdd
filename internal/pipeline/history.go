package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/propstage/internal/ingest"
)

// HistoryStore records finished runs.
type HistoryStore interface {
	Record(ctx context.Context, run RunResult) error
	// Recent returns up to limit runs, newest first.
	Recent(ctx context.Context, limit int) ([]RunResult, error)
}

// DefaultHistoryLimit caps Recent when the caller passes no limit.
const DefaultHistoryLimit = 50

// MemoryHistory keeps the most recent runs in memory.
type MemoryHistory struct {
	mu   sync.RWMutex
	runs []RunResult
	max  int
}

// NewMemoryHistory returns a store holding at most capacity runs.
func NewMemoryHistory(capacity int) *MemoryHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryLimit
	}
	return &MemoryHistory{max: capacity}
}

func (h *MemoryHistory) Record(ctx context.Context, run RunResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs = append(h.runs, run)
	if over := len(h.runs) - h.max; over > 0 {
		h.runs = append(h.runs[:0:0], h.runs[over:]...)
	}
	return nil
}

func (h *MemoryHistory) Recent(ctx context.Context, limit int) ([]RunResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > len(h.runs) {
		limit = len(h.runs)
	}
	out := make([]RunResult, 0, limit)
	for i := len(h.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.runs[i])
	}
	return out, nil
}

// PgHistory stores runs in the etl_load_runs table created by the
// migrations.
type PgHistory struct {
	pool *pgxpool.Pool
}

// NewPgHistory returns a store over pool.
func NewPgHistory(pool *pgxpool.Pool) *PgHistory {
	return &PgHistory{pool: pool}
}

const insertRunSQL = `
INSERT INTO etl_load_runs (
	id, dataset, target_table, mode, selection, trigger, files,
	rows_read, rows_attempted, rows_loaded, status, error, error_code,
	started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

func (h *PgHistory) Record(ctx context.Context, run RunResult) error {
	files := run.Files
	if files == nil {
		files = []string{}
	}
	_, err := h.pool.Exec(ctx, insertRunSQL,
		pgtype.UUID{Bytes: run.ID, Valid: true},
		run.Dataset,
		toPgText(run.Table),
		string(run.Mode),
		string(run.Selection),
		string(run.Trigger),
		files,
		run.RowsRead,
		run.RowsAttempted,
		run.RowsLoaded,
		string(run.Status),
		toPgText(run.Error),
		toPgText(run.ErrorCode),
		pgtype.Timestamptz{Time: run.StartedAt, Valid: true},
		pgtype.Timestamptz{Time: run.FinishedAt, Valid: !run.FinishedAt.IsZero()},
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

const recentRunsSQL = `
SELECT id, dataset, target_table, mode, selection, trigger, files,
	rows_read, rows_attempted, rows_loaded, status, error, error_code,
	started_at, finished_at
FROM etl_load_runs
ORDER BY started_at DESC
LIMIT $1`

func (h *PgHistory) Recent(ctx context.Context, limit int) ([]RunResult, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := h.pool.Query(ctx, recentRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunResult
	for rows.Next() {
		var (
			run                      RunResult
			id                       pgtype.UUID
			table, errText, errCode  pgtype.Text
			mode, selection, trigger string
			status                   string
			started, finished        pgtype.Timestamptz
		)
		if err := rows.Scan(
			&id, &run.Dataset, &table, &mode, &selection, &trigger, &run.Files,
			&run.RowsRead, &run.RowsAttempted, &run.RowsLoaded, &status, &errText, &errCode,
			&started, &finished,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.ID = uuid.UUID(id.Bytes)
		run.Table = table.String
		run.Mode = Mode(mode)
		run.Selection = ingest.Selection(selection)
		run.Trigger = Trigger(trigger)
		run.Status = Status(status)
		run.Error = errText.String
		run.ErrorCode = errCode.String
		run.StartedAt = started.Time
		run.FinishedAt = finished.Time
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read runs: %w", err)
	}
	return runs, nil
}

func toPgText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
