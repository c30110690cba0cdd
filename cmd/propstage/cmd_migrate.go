package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/propstage/internal/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the staging schema",
	Long:  "Creates the stg schema, the staging tables and the etl_load_runs run log.",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  migrateRunner(migrations.Up),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE:  migrateRunner(migrations.Down),
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE:  migrateRunner(migrations.Version),
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

func migrateRunner(fn func(context.Context, *pgxpool.Pool) (int64, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		if err := a.connect(cmd.Context()); err != nil {
			return err
		}
		defer a.close()

		version, err := fn(cmd.Context(), a.pool)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
		return nil
	}
}
