// Package pipeline orchestrates a run: resolve the drop directory, normalize
// the raw rows against the dataset definition, and load the result into the
// dataset's staging table.
//
// A run is one synchronous, linear pass with no retries. Runs are serialized
// by a shared RunLimiter and recorded in a HistoryStore. The Scheduler and the
// Watcher start runs from cron specs and directory events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/propstage/internal/ingest"
	"github.com/JonMunkholm/propstage/internal/loader"
	"github.com/JonMunkholm/propstage/internal/logging"
	"github.com/JonMunkholm/propstage/internal/normalize"
	"github.com/JonMunkholm/propstage/internal/record"
	"github.com/JonMunkholm/propstage/internal/schema"
)

// Mode selects how a run writes to the staging table.
type Mode string

const (
	ModeReplace Mode = "replace" // truncate then COPY, one transaction
	ModeAppend  Mode = "append"  // COPY without truncate
	ModeDedup   Mode = "dedup"   // INSERT ... ON CONFLICT (unique key) DO NOTHING
)

// ParseMode parses a run mode. Blank selects replace.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeReplace, nil
	case ModeReplace, ModeAppend, ModeDedup:
		return m, nil
	default:
		return "", fmt.Errorf("unknown run mode %q (want replace, append or dedup)", s)
	}
}

// Trigger records what started a run.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerSchedule Trigger = "schedule"
	TriggerWatch    Trigger = "watch"
	TriggerAPI      Trigger = "api"
)

// Job is a request to run one dataset.
type Job struct {
	Dataset   string           `json:"dataset"`
	Selection ingest.Selection `json:"selection"`
	Mode      Mode             `json:"mode"`
	Trigger   Trigger          `json:"trigger"`
}

func (j Job) withDefaults() Job {
	if j.Selection == "" {
		j.Selection = ingest.SelectLatest
	}
	if j.Mode == "" {
		j.Mode = ModeReplace
	}
	if j.Trigger == "" {
		j.Trigger = TriggerManual
	}
	return j
}

// Status is the outcome of a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// RunResult describes a finished run.
type RunResult struct {
	ID            uuid.UUID        `json:"id"`
	Dataset       string           `json:"dataset"`
	Table         string           `json:"table,omitempty"`
	Mode          Mode             `json:"mode"`
	Selection     ingest.Selection `json:"selection"`
	Trigger       Trigger          `json:"trigger"`
	Files         []string         `json:"files"`
	RowsRead      int64            `json:"rows_read"`
	RowsAttempted int64            `json:"rows_attempted"`
	RowsLoaded    int64            `json:"rows_loaded"`
	Status        Status           `json:"status"`
	Error         string           `json:"error,omitempty"`
	ErrorCode     string           `json:"error_code,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
}

// Duration returns how long the run took.
func (r RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// UnknownDatasetError is returned for a job naming no registered dataset.
type UnknownDatasetError struct {
	Key string
}

func (e *UnknownDatasetError) Error() string {
	return fmt.Sprintf("unknown dataset %q", e.Key)
}

// ErrNoUniqueKey is returned for a dedup job on a dataset without a key.
var ErrNoUniqueKey = errors.New("dataset has no unique key")

// Options configures a Runner.
type Options struct {
	Resolver       ingest.Options // Dir, file label, formats, parquet mirror
	MissingMarkers []string       // nil selects normalize.DefaultMissingMarkers
	BatchSize      int            // rows per INSERT in dedup mode
	Timeout        time.Duration  // per-run deadline, 0 for none
	Limiter        *RunLimiter    // nil runs without serialization
	History        HistoryStore   // nil skips recording
	Logger         *slog.Logger
	Now            func() time.Time
}

// Runner executes jobs against one sink.
type Runner struct {
	sink   loader.Sink
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner creates a Runner writing through sink.
func NewRunner(sink loader.Sink, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		sink:   sink,
		opts:   opts,
		logger: logger,
		now:    now,
	}
}

// Run executes job. The returned RunResult is populated on failure too; its
// Status, Error and ErrorCode describe the failure. Typed errors from the
// resolver, normalizer and loader are returned unchanged for errors.As.
func (r *Runner) Run(ctx context.Context, job Job) (RunResult, error) {
	job = job.withDefaults()
	result := RunResult{
		ID:        uuid.New(),
		Dataset:   job.Dataset,
		Mode:      job.Mode,
		Selection: job.Selection,
		Trigger:   job.Trigger,
		StartedAt: r.now(),
	}

	ctx = logging.ContextWithRunID(ctx, result.ID.String())
	logger := logging.Enrich(ctx, r.logger).With(
		"dataset", job.Dataset,
		"mode", string(job.Mode),
		"selection", string(job.Selection),
		"trigger", string(job.Trigger),
	)

	if r.opts.Limiter != nil {
		if err := r.opts.Limiter.Acquire(ctx); err != nil {
			logger.Warn("run rejected", "error", err)
			return result, err
		}
		defer r.opts.Limiter.Release()
	}

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	logger.Info("run started")
	err := r.execute(ctx, job, &result, logger)
	result.FinishedAt = r.now()

	if err != nil {
		msg := Describe(err)
		result.Status = StatusFailed
		result.Error = err.Error()
		result.ErrorCode = msg.Code
		logger.Error("run failed",
			"error", err,
			"code", msg.Code,
			"duration", result.Duration(),
		)
	} else {
		result.Status = StatusSucceeded
		logger.Info("run finished",
			"table", result.Table,
			"files", len(result.Files),
			"rows_read", result.RowsRead,
			"rows_loaded", result.RowsLoaded,
			"duration", result.Duration(),
		)
	}

	if r.opts.History != nil {
		// A timed-out run is still recorded.
		if herr := r.opts.History.Record(context.WithoutCancel(ctx), result); herr != nil {
			logger.Warn("record run history failed", "error", herr)
		}
	}
	return result, err
}

func (r *Runner) execute(ctx context.Context, job Job, result *RunResult, logger *slog.Logger) error {
	if _, err := ParseMode(string(job.Mode)); err != nil {
		return err
	}
	if _, err := ingest.ParseSelection(string(job.Selection)); err != nil {
		return err
	}
	ds, ok := schema.Get(job.Dataset)
	if !ok {
		return &UnknownDatasetError{Key: job.Dataset}
	}
	result.Table = ds.QualifiedTable()

	if job.Mode == ModeDedup && ds.UniqueKey == "" {
		return fmt.Errorf("dedup %s: %w", ds.Key, ErrNoUniqueKey)
	}
	valueFuncs, err := ds.ValueFuncs()
	if err != nil {
		return err
	}

	resolverOpts := r.opts.Resolver
	resolverOpts.ColumnKey = normalize.ColumnKey(ds.Renames)
	resolverOpts.Logger = logger
	resolver := ingest.NewResolver(resolverOpts)

	var raw *record.RawRecordSet
	switch job.Selection {
	case ingest.SelectAll:
		files, set, err := resolver.ResolveAll(ctx)
		if err != nil {
			return err
		}
		for _, f := range files {
			result.Files = append(result.Files, f.Name())
		}
		raw = set
	default:
		file, set, err := resolver.ResolveLatest(ctx)
		if err != nil {
			return err
		}
		result.Files = []string{file.Name()}
		raw = set
	}
	result.RowsRead = int64(raw.Len())

	normalizer := normalize.New(normalize.Options{
		MissingMarkers: r.opts.MissingMarkers,
		ValueFuncs:     valueFuncs,
		Now:            r.now,
		Logger:         logger,
	})
	set, err := normalizer.Normalize(raw, ds.Types, ds.Renames)
	if err != nil {
		return err
	}

	ld := loader.New(r.sink, loader.Options{BatchSize: r.opts.BatchSize, Logger: logger})
	target := loader.Target{Schema: ds.Schema, Table: ds.Table}

	var lr loader.LoadResult
	switch job.Mode {
	case ModeDedup:
		lr, err = ld.InsertDeduplicated(ctx, set, ds.UniqueKey, target)
	case ModeAppend:
		lr, err = ld.Load(ctx, set, target, loader.ModeAppend)
	default:
		lr, err = ld.Load(ctx, set, target, loader.ModeReplace)
	}
	result.RowsAttempted = lr.RowsAttempted
	result.RowsLoaded = lr.RowsLoaded
	return err
}
