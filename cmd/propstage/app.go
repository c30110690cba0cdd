package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/propstage/internal/config"
	"github.com/JonMunkholm/propstage/internal/ingest"
	"github.com/JonMunkholm/propstage/internal/loader"
	"github.com/JonMunkholm/propstage/internal/logging"
	"github.com/JonMunkholm/propstage/internal/pipeline"
	"github.com/JonMunkholm/propstage/internal/schema"
)

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// loadApp reads the dotenv file, loads and validates configuration, sets up
// logging and applies the dataset override file.
func loadApp(cmd *cobra.Command) (*app, error) {
	envFile, _ := cmd.Root().PersistentFlags().GetString("env-file")
	// Overload lets the file win over variables already set in the shell.
	if err := godotenv.Overload(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	logger.Debug("configuration loaded", "config", cfg.String())

	if cfg.Pipeline.SchemaFile != "" {
		datasets, err := schema.LoadFile(cfg.Pipeline.SchemaFile)
		if err != nil {
			return nil, err
		}
		logger.Info("dataset overrides loaded", "file", cfg.Pipeline.SchemaFile, "count", len(datasets))
	}

	return &app{cfg: cfg, logger: logger}, nil
}

// connect opens and pings the connection pool.
func (a *app) connect(ctx context.Context) error {
	poolConfig, err := pgxpool.ParseConfig(a.cfg.Database.ConnString())
	if err != nil {
		return fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.MaxConns = int32(a.cfg.Database.MaxConns)
	poolConfig.MinConns = int32(a.cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = a.cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = a.cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to database", "host", poolConfig.ConnConfig.Host, "name", poolConfig.ConnConfig.Database)
	return nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// runner builds the pipeline runner over the pool.
func (a *app) runner() (*pipeline.Runner, *pipeline.RunLimiter, error) {
	resolverOpts, err := a.cfg.ResolverOptions()
	if err != nil {
		return nil, nil, err
	}
	limiter := pipeline.NewRunLimiter(pipeline.DefaultMaxConcurrentRuns, a.cfg.Pipeline.MaxWaitTime)
	runner := pipeline.NewRunner(loader.NewPgSink(a.pool), pipeline.Options{
		Resolver:       resolverOpts,
		MissingMarkers: a.cfg.Pipeline.MissingMarkers,
		BatchSize:      a.cfg.Pipeline.BatchSize,
		Timeout:        a.cfg.Pipeline.RunTimeout,
		Limiter:        limiter,
		History:        pipeline.NewPgHistory(a.pool),
		Logger:         a.logger,
	})
	return runner, limiter, nil
}

// jobFromFlags starts from the configured job and applies --dataset,
// --mode and --selection when given.
func (a *app) jobFromFlags(cmd *cobra.Command) (pipeline.Job, error) {
	job, err := a.cfg.DefaultJob()
	if err != nil {
		return job, err
	}
	if cmd.Flags().Changed("dataset") {
		job.Dataset, _ = cmd.Flags().GetString("dataset")
	}
	if cmd.Flags().Changed("mode") {
		s, _ := cmd.Flags().GetString("mode")
		if job.Mode, err = pipeline.ParseMode(s); err != nil {
			return job, err
		}
	}
	if cmd.Flags().Changed("selection") {
		s, _ := cmd.Flags().GetString("selection")
		if job.Selection, err = ingest.ParseSelection(s); err != nil {
			return job, err
		}
	}
	return job, nil
}

func addJobFlags(cmd *cobra.Command) {
	cmd.Flags().String("dataset", "", "dataset key (default PIPELINE_DATASET)")
	cmd.Flags().String("mode", "", "load mode: replace, append or dedup (default PIPELINE_MODE)")
	cmd.Flags().String("selection", "", "file selection: latest or all (default PIPELINE_SELECTION)")
}
