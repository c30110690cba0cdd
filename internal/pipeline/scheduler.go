package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobRunner runs one job. *Runner implements it.
type JobRunner interface {
	Run(ctx context.Context, job Job) (RunResult, error)
}

// ScheduledJob describes one cron entry.
type ScheduledJob struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Job  Job       `json:"job"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitempty"`
}

// Scheduler starts runs from cron specs. Specs use the standard five-field
// syntax or descriptors such as @daily and @every 1h.
type Scheduler struct {
	cron   *cron.Cron
	runner JobRunner
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]scheduled
}

type scheduled struct {
	id   cron.EntryID
	spec string
	job  Job
}

// NewScheduler creates a scheduler over runner.
func NewScheduler(runner JobRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:  runner,
		logger:  logger,
		ctx:     context.Background(),
		entries: make(map[string]scheduled),
	}
}

// Add schedules job under name, replacing an existing entry with that name.
func (s *Scheduler) Add(name, spec string, job Job) error {
	job.Trigger = TriggerSchedule

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, func() { s.fire(name, job) })
	if err != nil {
		return fmt.Errorf("schedule %s: invalid spec %q: %w", name, spec, err)
	}
	if prev, ok := s.entries[name]; ok {
		s.cron.Remove(prev.id)
	}
	s.entries[name] = scheduled{id: id, spec: spec, job: job}
	s.logger.Info("scheduled run", "name", name, "spec", spec, "dataset", job.Dataset, "mode", string(job.Mode))
	return nil
}

// Remove drops the entry with name. It reports whether one existed.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if ok {
		s.cron.Remove(e.id)
		delete(s.entries, name)
	}
	return ok
}

// Entries lists scheduled jobs sorted by name.
func (s *Scheduler) Entries() []ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduledJob, 0, len(s.entries))
	for name, e := range s.entries {
		entry := s.cron.Entry(e.id)
		out = append(out, ScheduledJob{
			Name: name,
			Spec: e.spec,
			Job:  e.job,
			Next: entry.Next,
			Prev: entry.Prev,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins firing entries. Runs receive ctx; cancelling it cancels the
// runs in flight but does not stop the scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	n := len(s.entries)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "entries", n)
}

// Stop stops firing and waits for running jobs to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) fire(name string, job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	result, err := s.runner.Run(ctx, job)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Warn("scheduled run skipped", "name", name, "reason", err)
	case err != nil:
		s.logger.Warn("scheduled run failed", "name", name, "run_id", result.ID, "code", Describe(err).Code)
	default:
		s.logger.Info("scheduled run finished", "name", name, "run_id", result.ID, "rows", result.RowsLoaded)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
