//go:build integration
// +build integration

package database

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	dbpostgres "github.com/vitaliisemenov/baileys-auth-store/internal/database/postgres"
)

// startContainer boots a real Postgres instance via testcontainers-go,
// mirroring the teacher's own test/integration/infra.go container-lifecycle
// pattern, and returns a connected PostgresPool pointed at it.
func startContainer(t *testing.T) *dbpostgres.PostgresPool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("baileys_auth_store_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := dbpostgres.DefaultConfig()
	cfg.Host = host
	cfg.Port = port.Int()
	cfg.Database = "baileys_auth_store_test"
	cfg.User = "test"
	cfg.Password = "test"

	pool := dbpostgres.NewPostgresPool(cfg, slog.Default())
	require.NoError(t, pool.Connect(ctx))
	t.Cleanup(func() { _ = pool.Disconnect(ctx) })

	return pool
}

func tableExists(t *testing.T, dsn, table string) bool {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	var exists bool
	err = db.QueryRow(`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
	require.NoError(t, err)
	return exists
}

func TestRunMigrations_CreatesAuthTables(t *testing.T) {
	pool := startContainer(t)
	ctx := context.Background()

	require.NoError(t, RunMigrations(ctx, pool, slog.Default()))

	dsn := pool.GetConfig().DSN()
	require.True(t, tableExists(t, dsn, "auth_snapshots"))
	require.True(t, tableExists(t, dsn, "auth_outbox"))
}

func TestRunMigrations_IsIdempotent(t *testing.T) {
	pool := startContainer(t)
	ctx := context.Background()

	require.NoError(t, RunMigrations(ctx, pool, slog.Default()))
	require.NoError(t, RunMigrations(ctx, pool, slog.Default()), "re-running goose.Up against an up-to-date schema must be a no-op, not an error")
}

func TestRunMigrationsDown_DropsTheLatestMigration(t *testing.T) {
	pool := startContainer(t)
	ctx := context.Background()

	require.NoError(t, RunMigrations(ctx, pool, slog.Default()))
	require.NoError(t, RunMigrationsDown(ctx, pool, 1, slog.Default()))

	dsn := pool.GetConfig().DSN()
	require.False(t, tableExists(t, dsn, "auth_outbox"), "rolling back one step should drop the last-applied migration's table")
	require.True(t, tableExists(t, dsn, "auth_snapshots"), "earlier migrations must survive a single-step rollback")
}

func TestGetMigrationStatus_SucceedsAfterMigrating(t *testing.T) {
	pool := startContainer(t)
	ctx := context.Background()

	require.NoError(t, RunMigrations(ctx, pool, slog.Default()))
	require.NoError(t, GetMigrationStatus(ctx, pool, slog.Default()))
}
