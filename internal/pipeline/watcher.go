package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/JonMunkholm/propstage/internal/ingest"
)

// DefaultDebounce is how long the watcher waits for the directory to go
// quiet before starting a run.
const DefaultDebounce = 500 * time.Millisecond

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	Dir      string
	Formats  []ingest.Format // file types that trigger a run; default xlsx
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher starts a run when source files land in the drop directory.
//
// Bursts of events are coalesced: a run starts once no matching event has
// arrived for the debounce interval. Events raised while a run executes, and
// for one debounce interval after it, are dropped, since the run itself
// renames files and writes the parquet mirror.
type Watcher struct {
	fsw      *fsnotify.Watcher
	runner   JobRunner
	job      Job
	formats  []ingest.Format
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher starts watching opts.Dir. Call Watch to process events and
// Close when done if Watch is never called.
func NewWatcher(runner JobRunner, job Job, opts WatcherOptions) (*Watcher, error) {
	if len(opts.Formats) == 0 {
		opts.Formats = ingest.DefaultLatestFormats
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(opts.Dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", opts.Dir, err)
	}

	job.Trigger = TriggerWatch
	return &Watcher{
		fsw:      fsw,
		runner:   runner,
		job:      job,
		formats:  opts.Formats,
		debounce: opts.Debounce,
		logger:   logger.With("dir", opts.Dir),
	}, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Watch processes events until ctx is done, then closes the watcher.
func (w *Watcher) Watch(ctx context.Context) error {
	defer w.fsw.Close()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var quietUntil time.Time
	w.logger.Info("watching for source files", "formats", w.formats, "debounce", w.debounce)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped")
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) || time.Now().Before(quietUntil) {
				continue
			}
			w.logger.Debug("source file event", "file", filepath.Base(event.Name), "op", event.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("watcher event overflow, scheduling run", "error", err)
				timer.Reset(w.debounce)
				continue
			}
			w.logger.Error("watcher error", "error", err)

		case <-timer.C:
			w.run(ctx)
			quietUntil = time.Now().Add(w.debounce)
		}
	}
}

func (w *Watcher) run(ctx context.Context) {
	result, err := w.runner.Run(ctx, w.job)
	switch {
	case errors.Is(err, ErrRunInProgress):
		w.logger.Warn("watch run skipped", "reason", err)
	case err != nil:
		w.logger.Warn("watch run failed", "run_id", result.ID, "code", Describe(err).Code)
	default:
		w.logger.Info("watch run finished", "run_id", result.ID, "rows", result.RowsLoaded)
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
		return false
	}
	format, ok := ingest.FormatOf(name)
	return ok && slices.Contains(w.formats, format)
}
