package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/guregu/null/v6"

	"github.com/trogers1052/market-data-etl/internal/models"
)

const runColumns = `
	run_id, started_at, finished_at, status, symbols, extracted_rows, loaded_prices,
	dq_null_violations, dq_duplicate_violations, dq_nonpositive_price, message
`

// StartRun records a run as RUNNING. Repeating the call while the run is
// RUNNING changes nothing; a finished run is reset to RUNNING with fresh
// counters so its row always describes the latest attempt.
func (db *DB) StartRun(ctx context.Context, runID string, symbols int) error {
	query := `
		INSERT INTO etl_run_audit (run_id, started_at, status, symbols)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id) DO UPDATE SET
			started_at = EXCLUDED.started_at,
			finished_at = NULL,
			status = EXCLUDED.status,
			symbols = EXCLUDED.symbols,
			extracted_rows = 0,
			loaded_prices = 0,
			dq_null_violations = 0,
			dq_duplicate_violations = 0,
			dq_nonpositive_price = 0,
			message = NULL
		WHERE etl_run_audit.status <> $3
	`
	_, err := db.conn.ExecContext(ctx, query, runID, time.Now().UTC(), models.RunStatusRunning, symbols)
	if err != nil {
		return fmt.Errorf("failed to start run %s: %w", runID, err)
	}
	return nil
}

// FinishRun sets the terminal status, counters and message of a run. An empty
// message is stored as NULL.
func (db *DB) FinishRun(ctx context.Context, runID, status string, metrics models.RunMetrics, message string) error {
	if status != models.RunStatusSuccess && status != models.RunStatusFailed {
		return fmt.Errorf("invalid terminal status %q for run %s", status, runID)
	}

	query := `
		UPDATE etl_run_audit SET
			finished_at = $2,
			status = $3,
			symbols = $4,
			extracted_rows = $5,
			loaded_prices = $6,
			dq_null_violations = $7,
			dq_duplicate_violations = $8,
			dq_nonpositive_price = $9,
			message = $10
		WHERE run_id = $1
	`
	result, err := db.conn.ExecContext(ctx, query,
		runID, time.Now().UTC(), status,
		metrics.Symbols, metrics.ExtractedRows, metrics.LoadedPrices,
		metrics.DQNullViolations, metrics.DQDuplicateViolations, metrics.DQNonPositivePrice,
		null.NewString(message, message != ""),
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	return nil
}

// GetRun retrieves one audit row
func (db *DB) GetRun(ctx context.Context, runID string) (*models.RunAudit, error) {
	query := `SELECT ` + runColumns + ` FROM etl_run_audit WHERE run_id = $1`

	run, err := scanRun(db.conn.QueryRowContext(ctx, query, runID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recently started runs first
func (db *DB) ListRuns(ctx context.Context, limit int) ([]*models.RunAudit, error) {
	query := `SELECT ` + runColumns + ` FROM etl_run_audit ORDER BY started_at DESC LIMIT $1`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.RunAudit
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.RunAudit, error) {
	var r models.RunAudit
	var finishedAt null.Time
	var message null.String

	err := row.Scan(
		&r.RunID, &r.StartedAt, &finishedAt, &r.Status,
		&r.Symbols, &r.ExtractedRows, &r.LoadedPrices,
		&r.DQNullViolations, &r.DQDuplicateViolations, &r.DQNonPositivePrice,
		&message,
	)
	if err != nil {
		return nil, err
	}

	r.FinishedAt = finishedAt.Ptr()
	r.Message = message.Ptr()
	return &r, nil
}
