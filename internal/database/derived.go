package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trogers1052/market-data-etl/internal/models"
)

// UpsertReturns writes daily returns keyed by (symbol, trading_date)
func (db *DB) UpsertReturns(ctx context.Context, rows []models.ReturnRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO fact_returns_daily (symbol, trading_date, daily_return)
		VALUES ($1, $2, $3)
		ON CONFLICT (symbol, trading_date) DO UPDATE SET
			daily_return = EXCLUDED.daily_return
	`
	err := db.withPreparedTx(ctx, query, func(stmt *sql.Stmt) error {
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.Symbol, models.TruncateDate(r.TradingDate), r.DailyReturn); err != nil {
				return fmt.Errorf("failed to upsert return for %s: %w", r.Symbol, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// UpsertVolatility writes rolling volatility keyed by (symbol, trading_date)
func (db *DB) UpsertVolatility(ctx context.Context, rows []models.VolatilityRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO fact_volatility_30d (symbol, trading_date, vol_30d)
		VALUES ($1, $2, $3)
		ON CONFLICT (symbol, trading_date) DO UPDATE SET
			vol_30d = EXCLUDED.vol_30d
	`
	err := db.withPreparedTx(ctx, query, func(stmt *sql.Stmt) error {
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.Symbol, models.TruncateDate(r.TradingDate), r.Vol30d); err != nil {
				return fmt.Errorf("failed to upsert volatility for %s: %w", r.Symbol, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// GetReturns returns the daily returns of a symbol within a date range, oldest first
func (db *DB) GetReturns(ctx context.Context, symbol string, start, end time.Time) ([]models.ReturnRow, error) {
	query := `
		SELECT symbol, trading_date, daily_return
		FROM fact_returns_daily
		WHERE symbol = $1 AND trading_date >= $2 AND trading_date <= $3
		ORDER BY trading_date ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, symbol, models.TruncateDate(start), models.TruncateDate(end))
	if err != nil {
		return nil, fmt.Errorf("failed to get returns: %w", err)
	}
	defer rows.Close()

	var out []models.ReturnRow
	for rows.Next() {
		var r models.ReturnRow
		if err := rows.Scan(&r.Symbol, &r.TradingDate, &r.DailyReturn); err != nil {
			return nil, fmt.Errorf("failed to scan return: %w", err)
		}
		r.TradingDate = models.TruncateDate(r.TradingDate)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetVolatility returns the rolling volatility of a symbol within a date range, oldest first
func (db *DB) GetVolatility(ctx context.Context, symbol string, start, end time.Time) ([]models.VolatilityRow, error) {
	query := `
		SELECT symbol, trading_date, vol_30d
		FROM fact_volatility_30d
		WHERE symbol = $1 AND trading_date >= $2 AND trading_date <= $3
		ORDER BY trading_date ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, symbol, models.TruncateDate(start), models.TruncateDate(end))
	if err != nil {
		return nil, fmt.Errorf("failed to get volatility: %w", err)
	}
	defer rows.Close()

	var out []models.VolatilityRow
	for rows.Next() {
		var r models.VolatilityRow
		if err := rows.Scan(&r.Symbol, &r.TradingDate, &r.Vol30d); err != nil {
			return nil, fmt.Errorf("failed to scan volatility: %w", err)
		}
		r.TradingDate = models.TruncateDate(r.TradingDate)
		out = append(out, r)
	}
	return out, rows.Err()
}
