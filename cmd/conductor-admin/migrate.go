package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/dxpops/conductor/internal/bootstrap"
	"github.com/dxpops/conductor/internal/migrate"
	"github.com/spf13/cobra"
)

const defaultMigrationTimeout = 5 * time.Minute

func newMigrateCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres audit schema",
		Long:  "Apply or inspect database migrations. Connection settings come from the DB_* environment.",
	}
	cmd.PersistentFlags().DurationVar(&timeout, "migration-timeout", defaultMigrationTimeout, "Overall migration timeout")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd.Context(), timeout, func(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
				return bootstrap.RunMigrations(ctx, db, logger)
			})
		},
	}, &cobra.Command{
		Use:   "status",
		Short: "List migrations and when they were applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd.Context(), timeout, func(ctx context.Context, db *sql.DB, _ *slog.Logger) error {
				migrations, err := migrate.Status(ctx, db)
				if err != nil {
					return fmt.Errorf("migration status: %w", err)
				}
				return printMigrations(cmd.OutOrStdout(), migrations)
			})
		},
	})
	return cmd
}

func withDB(ctx context.Context, timeout time.Duration, fn func(context.Context, *sql.DB, *slog.Logger) error) error {
	logger := slog.Default()
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.Warn("close database failed", "error", cerr)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx, db, logger)
}

func printMigrations(w io.Writer, migrations []migrate.Migration) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "VERSION\tAPPLIED\n"); err != nil {
		return err
	}
	for _, m := range migrations {
		applied := "pending"
		if m.Applied() {
			applied = m.AppliedAt.Format(time.RFC3339)
		}
		if err := writef(tw, "%s\t%s\n", m.Version, applied); err != nil {
			return err
		}
	}
	return tw.Flush()
}
