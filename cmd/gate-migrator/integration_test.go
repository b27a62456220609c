package main

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupPostgresContainer(ctx context.Context, t *testing.T) (*postgrescontainer.PostgresContainer, string) {
	t.Helper()

	pgContainer, err := postgrescontainer.Run(ctx,
		"postgres:15-alpine",
		postgrescontainer.WithDatabase("testdb"),
		postgrescontainer.WithUsername("testuser"),
		postgrescontainer.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(120*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	return pgContainer, connStr
}

// TestMigrationUpCreatesAutopkgtestResultsTable runs gate-migrator's up
// command against a real PostgreSQL instance and confirms the shared
// results-cache table and its unique key exist afterward.
func TestMigrationUpCreatesAutopkgtestResultsTable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	_, connStr := setupPostgresContainer(ctx, t)

	cfg := &Config{DatabaseURL: connStr, MigrationTable: "schema_migrations"}

	runner, err := NewMigrationRunner(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = runner.Close() })

	require.NoError(t, runner.Up())

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(ctx,
		`INSERT INTO autopkgtest_results (trigger, source, arch, status, version, run_id, recorded_at)
		 VALUES ('foo/1.0', 'foo', 'amd64', 'PASS', '1.0', 'run-1', 1700000000)`)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx,
		`INSERT INTO autopkgtest_results (trigger, source, arch, status, version, run_id, recorded_at)
		 VALUES ('foo/1.0', 'foo', 'amd64', 'FAIL', '1.0', 'run-2', 1700000001)
		 ON CONFLICT (trigger, source, arch) DO UPDATE SET status = EXCLUDED.status`)
	require.NoError(t, err, "unique key on (trigger, source, arch) must support upsert")

	var status string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT status FROM autopkgtest_results WHERE trigger = 'foo/1.0'`).Scan(&status))
	require.Equal(t, "FAIL", status)
}

// TestMigrationDownDropsAutopkgtestResultsTable confirms the down migration
// reverses the up migration cleanly.
func TestMigrationDownDropsAutopkgtestResultsTable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	_, connStr := setupPostgresContainer(ctx, t)

	cfg := &Config{DatabaseURL: connStr, MigrationTable: "schema_migrations"}

	runner, err := NewMigrationRunner(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = runner.Close() })

	require.NoError(t, runner.Up())
	require.NoError(t, runner.Down()) // rolls back 002_create_api_keys
	require.NoError(t, runner.Down()) // rolls back 001_create_autopkgtest_results

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(ctx, `SELECT 1 FROM autopkgtest_results`)
	require.Error(t, err, "table should not exist after down migration")
}
