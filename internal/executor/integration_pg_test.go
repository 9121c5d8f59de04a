package executor

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marketlens/marketlens/internal/guard"
)

// mustSetupPg starts a disposable Postgres with the warehouse schema and seed
// rows, and returns a pool sized like production.
func mustSetupPg(t *testing.T, ctx context.Context) *sql.DB {
	t.Helper()

	container, err := postgres.Run(ctx,
		"postgres:15.3-alpine",
		postgres.WithInitScripts(filepath.Join("testdata", "init.sql")),
		postgres.WithDatabase("marketlens"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			// The container restarts itself once after init, so wait for the
			// readiness line twice.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Open(connStr, 5, 10*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestExecutorIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test, requires docker")
	}

	ctx := context.Background()
	db := mustSetupPg(t, ctx)
	e := New(db, 30*time.Second, false)

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, e.Ping(ctx))
	})

	t.Run("rows come back as normalized maps", func(t *testing.T) {
		stmt := guard.GuardedSql{Text: "SELECT ts, symbol, utilization FROM public.market_data " +
			"WHERE protocol='aave' AND symbol='USDC' ORDER BY ts DESC LIMIT 1"}

		rows, err := e.Execute(ctx, stmt)

		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "2026-08-01T01:00:00Z", rows[0]["ts"])
		assert.Equal(t, "USDC", rows[0]["symbol"])
		// lib/pq hands numerics back as strings
		assert.Equal(t, "0.7634", rows[0]["utilization"])
	})

	t.Run("aggregate over seed data", func(t *testing.T) {
		stmt := guard.GuardedSql{Text: "SELECT day, SUM(volume_usd) AS volume_usd " +
			"FROM public.dex_volumes_daily GROUP BY day ORDER BY day DESC LIMIT 1"}

		rows, err := e.Execute(ctx, stmt)

		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "13900000.25", rows[0]["volume_usd"])
	})

	t.Run("empty result", func(t *testing.T) {
		stmt := guard.GuardedSql{Text: "SELECT ts FROM public.token_prices_minutely WHERE symbol='DOGE' LIMIT 5"}

		rows, err := e.Execute(ctx, stmt)

		require.NoError(t, err)
		assert.Len(t, rows, 0)
	})

	t.Run("statement timeout cancels a slow query", func(t *testing.T) {
		fast := New(db, 200*time.Millisecond, false)
		stmt := guard.GuardedSql{Text: "SELECT pg_sleep(2)"}

		_, err := fast.Execute(ctx, stmt)

		var ee *Error
		require.ErrorAs(t, err, &ee)
		assert.Contains(t, ee.Message, "statement timeout")
	})

	t.Run("driver error carries the statement", func(t *testing.T) {
		stmt := guard.GuardedSql{Text: "SELECT FROM WHERE"}

		_, err := e.Execute(ctx, stmt)

		var ee *Error
		require.ErrorAs(t, err, &ee)
		assert.Contains(t, ee.Message, "syntax error")
		assert.Equal(t, stmt.Text, ee.SQL)
	})
}
