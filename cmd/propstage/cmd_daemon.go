package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/propstage/internal/ingest"
	"github.com/JonMunkholm/propstage/internal/pipeline"
	"github.com/JonMunkholm/propstage/internal/web"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline on a cron schedule",
	Long: `Runs the configured job on PIPELINE_SCHEDULE (or --cron) until interrupted.
Specs use five cron fields or descriptors such as @daily and @every 6h.
A tick that finds the previous run still going is skipped.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDaemon(cmd, daemonParts{schedule: true})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the pipeline when files land in the drop directory",
	Long: `Watches INGEST_DIR and starts a run once new source files stop changing for
INGEST_WATCH_DEBOUNCE. Files written by the run itself do not retrigger it.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDaemon(cmd, daemonParts{watch: true})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the status API",
	Long: `Serves /healthz and the /api routes (runs, datasets, schedules, status) on
SERVER_HOST:SERVER_PORT. POST /api/runs triggers a run and waits for it.
Add --watch or --cron to run the watcher or scheduler in the same process.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDaemon(cmd, daemonParts{serve: true})
	},
}

func init() {
	for _, c := range []*cobra.Command{scheduleCmd, watchCmd, serveCmd} {
		addJobFlags(c)
		c.Flags().String("cron", "", "cron spec (default PIPELINE_SCHEDULE)")
	}
	scheduleCmd.Flags().Bool("serve", false, "also serve the status API")
	watchCmd.Flags().Bool("serve", false, "also serve the status API")
	serveCmd.Flags().Bool("watch", false, "also watch the drop directory")
}

type daemonParts struct {
	schedule bool
	watch    bool
	serve    bool
}

func runDaemon(cmd *cobra.Command, parts daemonParts) error {
	if v, _ := cmd.Flags().GetBool("serve"); v {
		parts.serve = true
	}
	if v, _ := cmd.Flags().GetBool("watch"); v {
		parts.watch = true
	}

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	job, err := a.jobFromFlags(cmd)
	if err != nil {
		return err
	}
	spec := a.cfg.Pipeline.Schedule
	if v, _ := cmd.Flags().GetString("cron"); v != "" {
		spec = v
	}
	if spec != "" {
		parts.schedule = true
	} else if parts.schedule {
		return errors.New("no schedule: set PIPELINE_SCHEDULE or --cron")
	}

	if err := a.connect(cmd.Context()); err != nil {
		return errors.New(pipeline.FormatUserError(err))
	}
	defer a.close()

	runner, limiter, err := a.runner()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())

	if parts.watch {
		opts, err := a.cfg.ResolverOptions()
		if err != nil {
			return err
		}
		watcher, err := pipeline.NewWatcher(runner, job, pipeline.WatcherOptions{
			Dir:      opts.Dir,
			Formats:  watchFormats(opts, job),
			Debounce: a.cfg.Ingest.WatchDebounce,
			Logger:   a.logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return watcher.Watch(ctx) })
	}

	var scheduler *pipeline.Scheduler
	if parts.schedule {
		scheduler = pipeline.NewScheduler(runner, a.logger)
		if err := scheduler.Add("default", spec, job); err != nil {
			return err
		}
		scheduler.Start(ctx)
		g.Go(func() error {
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			return scheduler.Stop(stopCtx)
		})
	}

	if parts.serve {
		srvOpts := web.Options{
			Runner:         runner,
			History:        pipeline.NewPgHistory(a.pool),
			Limiter:        limiter,
			DefaultJob:     job,
			Ping:           a.pool.Ping,
			TrustedProxies: a.cfg.Server.TrustedProxies,
			APIKeys:        a.cfg.Server.APIKeys,
			Logger:         a.logger,
		}
		if scheduler != nil {
			srvOpts.Schedules = scheduler
		}
		srv := web.NewServer(srvOpts)
		g.Go(func() error {
			return srv.Start(a.cfg.Server.Addr(), a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.IdleTimeout)
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.logger.Info("propstage running",
		"schedule", spec,
		"watch", parts.watch,
		"serve", parts.serve,
		"dataset", job.Dataset,
		"mode", string(job.Mode),
	)
	err = g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if derr := limiter.WaitForDrain(drainCtx); derr != nil {
		a.logger.Warn("run still active at shutdown", "error", derr)
	}
	a.logger.Info("propstage stopped")
	if err != nil {
		return fmt.Errorf("daemon: %w", err)
	}
	return nil
}

// watchFormats are the formats that feed the job's selection.
func watchFormats(opts ingest.Options, job pipeline.Job) []ingest.Format {
	if job.Selection == ingest.SelectAll {
		return opts.AllFormats
	}
	return opts.LatestFormats
}
