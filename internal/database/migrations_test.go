package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := newTestWarehouse(t)

	t.Run("all tables exist", func(t *testing.T) {
		expectedTables := []string{
			"dim_security",
			"fact_prices_daily",
			"fact_returns_daily",
			"fact_volatility_30d",
			"etl_run_audit",
		}

		for _, tableName := range expectedTables {
			var exists bool
			err := testDB.Raw().QueryRow(`
				SELECT EXISTS (
					SELECT FROM information_schema.tables
					WHERE table_schema = 'public'
					AND table_name = $1
				)
			`, tableName).Scan(&exists)

			require.NoError(t, err, "failed to check table existence for %s", tableName)
			assert.True(t, exists, "table %s should exist", tableName)
		}
	})

	t.Run("fact_prices_daily table has correct columns", func(t *testing.T) {
		expectedColumns := map[string]string{
			"symbol":       "character varying",
			"trading_date": "date",
			"open":         "numeric",
			"high":         "numeric",
			"low":          "numeric",
			"close":        "numeric",
			"volume":       "bigint",
			"provenance":   "character varying",
			"ingested_at":  "timestamp with time zone",
		}

		for colName, expectedType := range expectedColumns {
			var actualType string
			err := testDB.Raw().QueryRow(`
				SELECT data_type
				FROM information_schema.columns
				WHERE table_name = 'fact_prices_daily' AND column_name = $1
			`, colName).Scan(&actualType)

			require.NoError(t, err, "column %s should exist in fact_prices_daily table", colName)
			assert.Equal(t, expectedType, actualType, "column %s should have type %s", colName, expectedType)
		}
	})

	t.Run("etl_run_audit table has correct columns", func(t *testing.T) {
		expectedColumns := []string{
			"run_id", "started_at", "finished_at", "status", "symbols",
			"extracted_rows", "loaded_prices", "dq_null_violations",
			"dq_duplicate_violations", "dq_nonpositive_price", "message",
		}

		for _, colName := range expectedColumns {
			var exists bool
			err := testDB.Raw().QueryRow(`
				SELECT EXISTS (
					SELECT FROM information_schema.columns
					WHERE table_name = 'etl_run_audit' AND column_name = $1
				)
			`, colName).Scan(&exists)

			require.NoError(t, err)
			assert.True(t, exists, "column %s should exist in etl_run_audit table", colName)
		}
	})

	t.Run("derived tables have correct columns", func(t *testing.T) {
		expected := map[string][]string{
			"fact_returns_daily":  {"symbol", "trading_date", "daily_return"},
			"fact_volatility_30d": {"symbol", "trading_date", "vol_30d"},
		}

		for table, columns := range expected {
			for _, colName := range columns {
				var exists bool
				err := testDB.Raw().QueryRow(`
					SELECT EXISTS (
						SELECT FROM information_schema.columns
						WHERE table_name = $1 AND column_name = $2
					)
				`, table, colName).Scan(&exists)

				require.NoError(t, err)
				assert.True(t, exists, "column %s should exist in %s table", colName, table)
			}
		}
	})

	t.Run("indexes exist", func(t *testing.T) {
		expectedIndexes := []struct {
			table string
			index string
		}{
			{"fact_prices_daily", "idx_fact_prices_daily_date"},
			{"etl_run_audit", "idx_etl_run_audit_started_at"},
		}

		for _, idx := range expectedIndexes {
			var exists bool
			err := testDB.Raw().QueryRow(`
				SELECT EXISTS (
					SELECT FROM pg_indexes
					WHERE tablename = $1 AND indexname = $2
				)
			`, idx.table, idx.index).Scan(&exists)

			require.NoError(t, err)
			assert.True(t, exists, "index %s should exist on table %s", idx.index, idx.table)
		}
	})

	t.Run("natural keys are primary keys", func(t *testing.T) {
		for _, table := range []string{"dim_security", "fact_prices_daily", "fact_returns_daily", "fact_volatility_30d", "etl_run_audit"} {
			var hasPK bool
			err := testDB.Raw().QueryRow(`
				SELECT EXISTS (
					SELECT FROM pg_constraint c
					JOIN pg_class t ON c.conrelid = t.oid
					WHERE t.relname = $1
					AND c.contype = 'p'
				)
			`, table).Scan(&hasPK)
			require.NoError(t, err)
			assert.True(t, hasPK, "%s should have a primary key", table)
		}
	})

	t.Run("fact tables reference dim_security", func(t *testing.T) {
		for _, table := range []string{"fact_prices_daily", "fact_returns_daily", "fact_volatility_30d"} {
			var hasFK bool
			err := testDB.Raw().QueryRow(`
				SELECT EXISTS (
					SELECT FROM pg_constraint c
					JOIN pg_class t ON c.conrelid = t.oid
					WHERE t.relname = $1
					AND c.contype = 'f'
				)
			`, table).Scan(&hasFK)
			require.NoError(t, err)
			assert.True(t, hasFK, "%s should have foreign key to dim_security", table)
		}
	})

	t.Run("migrate is repeatable", func(t *testing.T) {
		assert.NoError(t, testDB.Migrate())
	})
}
