package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/market-data-etl/internal/config"
)

func TestResolveDates(t *testing.T) {
	now := time.Date(2024, 1, 16, 3, 0, 0, 0, time.UTC)
	cfg := config.PipelineConfig{StartDate: "2024-01-01", EndDate: "2024-01-31"}
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name    string
		flags   runFlags
		start   time.Time
		end     time.Time
		wantErr bool
	}{
		{"default is yesterday", runFlags{}, day(15), day(15), false},
		{"single date", runFlags{Date: "2024-01-10"}, day(10), day(10), false},
		{"range", runFlags{Start: "2024-01-08", End: "2024-01-12"}, day(8), day(12), false},
		{"backfill uses config", runFlags{Backfill: true}, day(1), day(31), false},
		{"date and range", runFlags{Date: "2024-01-10", Start: "2024-01-08", End: "2024-01-12"}, time.Time{}, time.Time{}, true},
		{"date and backfill", runFlags{Date: "2024-01-10", Backfill: true}, time.Time{}, time.Time{}, true},
		{"start without end", runFlags{Start: "2024-01-08"}, time.Time{}, time.Time{}, true},
		{"inverted range", runFlags{Start: "2024-01-12", End: "2024-01-08"}, time.Time{}, time.Time{}, true},
		{"bad date", runFlags{Date: "01/10/2024"}, time.Time{}, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := resolveDates(tt.flags, cfg, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}

	t.Run("backfill without config range", func(t *testing.T) {
		_, _, err := resolveDates(runFlags{Backfill: true}, config.PipelineConfig{}, now)
		assert.Error(t, err)
	})

	t.Run("yesterday is computed in UTC", func(t *testing.T) {
		local := time.Date(2024, 1, 16, 23, 30, 0, 0, time.FixedZone("UTC-5", -5*3600))
		start, _, err := resolveDates(runFlags{}, cfg, local)
		require.NoError(t, err)
		assert.Equal(t, day(16), start)
	})
}

func TestRunExitCodes(t *testing.T) {
	ctx := context.Background()
	missing := filepath.Join(t.TempDir(), "missing.yml")

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no command", nil, ExitUsageError},
		{"unknown command", []string{"frobnicate"}, ExitUsageError},
		{"help", []string{"help"}, ExitSuccess},
		{"unknown flag", []string{"run", "--nope"}, ExitUsageError},
		{"missing config file", []string{"run", "--config", missing}, ExitConfigError},
		{"migrate missing config", []string{"migrate", "--config", missing}, ExitConfigError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, tt.code, run(ctx, tt.args, &stdout, &stderr))
		})
	}
}
