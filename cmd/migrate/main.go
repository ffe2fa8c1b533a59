// Command migrate applies, rolls back, and reports the status of the
// auth store's Postgres schema (auth_snapshots, auth_outbox) using the
// goose-based runner in internal/database.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/baileys-auth-store/internal/database"
	"github.com/vitaliisemenov/baileys-auth-store/internal/database/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the auth store's Postgres schema",
	}

	root.AddCommand(
		upCommand(logger),
		downCommand(logger),
		statusCommand(logger),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func connectPool(ctx context.Context, logger *slog.Logger) (*postgres.PostgresPool, error) {
	cfg := postgres.LoadFromEnv()
	pool := postgres.NewPostgresPool(cfg, logger)
	if err := pool.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return pool, nil
}

func upCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connectPool(ctx, logger)
			if err != nil {
				return err
			}
			defer pool.Disconnect(ctx)
			return database.RunMigrations(ctx, pool, logger)
		},
	}
}

func downCommand(logger *slog.Logger) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the given number of migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connectPool(ctx, logger)
			if err != nil {
				return err
			}
			defer pool.Disconnect(ctx)
			return database.RunMigrationsDown(ctx, pool, steps, logger)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func statusCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connectPool(ctx, logger)
			if err != nil {
				return err
			}
			defer pool.Disconnect(ctx)
			return database.GetMigrationStatus(ctx, pool, logger)
		},
	}
}
