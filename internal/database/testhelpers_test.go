package database

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// warehouseTables lists every table the schema creates, children first
var warehouseTables = []string{
	"etl_run_audit",
	"fact_volatility_30d",
	"fact_returns_daily",
	"fact_prices_daily",
	"dim_security",
}

// testWarehouse is a migrated warehouse running in a throwaway container
type testWarehouse struct {
	*DB
}

// newTestWarehouse starts postgres, connects and applies the embedded schema.
// The container is terminated when the test finishes.
func newTestWarehouse(t *testing.T) *testWarehouse {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("market_data"),
		tcpostgres.WithUsername("etl"),
		tcpostgres.WithPassword("etl"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := New(dsn)
	require.NoError(t, err, "connect to warehouse")
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(), "apply schema")
	return &testWarehouse{DB: db}
}

// Reset empties every warehouse table
func (w *testWarehouse) Reset(t *testing.T) {
	t.Helper()
	_, err := w.conn.Exec("TRUNCATE TABLE " + strings.Join(warehouseTables, ", ") + " CASCADE")
	require.NoError(t, err, "truncate warehouse")
}

// Raw exposes the pool for assertions the repository does not cover
func (w *testWarehouse) Raw() *sql.DB {
	return w.conn
}
