package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/trogers1052/market-data-etl/internal/models"
)

const priceColumns = `symbol, trading_date, open, high, low, close, volume, provenance, ingested_at`

// UpsertPrices writes cleaned rows to fact_prices_daily keyed by (symbol, trading_date).
// A conflicting row is replaced and its ingested_at refreshed. Returns the number of rows submitted.
func (db *DB) UpsertPrices(ctx context.Context, rows []models.PriceRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO fact_prices_daily (symbol, trading_date, open, high, low, close, volume, provenance, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, trading_date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			provenance = EXCLUDED.provenance,
			ingested_at = EXCLUDED.ingested_at
	`
	err := db.withPreparedTx(ctx, query, func(stmt *sql.Stmt) error {
		now := time.Now().UTC()
		for _, r := range rows {
			provenance := r.Provenance
			if provenance == "" {
				provenance = models.ProvenancePrimary
			}
			_, err := stmt.ExecContext(ctx,
				r.Symbol.String,
				models.TruncateDate(r.Date.Time),
				decimal.NewFromFloat(r.Open.Float64),
				decimal.NewFromFloat(r.High.Float64),
				decimal.NewFromFloat(r.Low.Float64),
				decimal.NewFromFloat(r.Close.Float64),
				r.VolumeInt(),
				provenance,
				now,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert price for %s on %s: %w",
					r.Symbol.String, r.Date.Time.Format(models.DateLayout), err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// GetPriceHistory returns up to limit of the most recent rows per symbol dated
// on or before through, ordered by symbol then date ascending
func (db *DB) GetPriceHistory(ctx context.Context, symbols []string, through time.Time, limit int) ([]*models.PriceDaily, error) {
	if len(symbols) == 0 || limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT ` + priceColumns + `
		FROM (
			SELECT ` + priceColumns + `,
			       ROW_NUMBER() OVER (PARTITION BY symbol ORDER BY trading_date DESC) AS rn
			FROM fact_prices_daily
			WHERE symbol = ANY($1) AND trading_date <= $2
		) history
		WHERE rn <= $3
		ORDER BY symbol ASC, trading_date ASC
	`
	return scanPrices(db.conn.QueryContext(ctx, query, pq.Array(symbols), models.TruncateDate(through), limit))
}

// GetPricesRange returns the rows of a symbol with start <= trading_date <= end, oldest first
func (db *DB) GetPricesRange(ctx context.Context, symbol string, start, end time.Time) ([]*models.PriceDaily, error) {
	query := `
		SELECT ` + priceColumns + `
		FROM fact_prices_daily
		WHERE symbol = $1 AND trading_date >= $2 AND trading_date <= $3
		ORDER BY trading_date ASC
	`
	return scanPrices(db.conn.QueryContext(ctx, query, symbol, models.TruncateDate(start), models.TruncateDate(end)))
}

// GetPrice returns the row of a symbol for one date
func (db *DB) GetPrice(ctx context.Context, symbol string, date time.Time) (*models.PriceDaily, error) {
	query := `
		SELECT ` + priceColumns + `
		FROM fact_prices_daily
		WHERE symbol = $1 AND trading_date = $2
	`
	var p models.PriceDaily
	err := db.conn.QueryRowContext(ctx, query, symbol, models.TruncateDate(date)).Scan(
		&p.Symbol, &p.TradingDate, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume, &p.Provenance, &p.IngestedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: price for %s on %s", ErrNotFound, symbol, date.Format(models.DateLayout))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price: %w", err)
	}
	p.TradingDate = models.TruncateDate(p.TradingDate)
	return &p, nil
}

func scanPrices(rows *sql.Rows, err error) ([]*models.PriceDaily, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	var prices []*models.PriceDaily
	for rows.Next() {
		var p models.PriceDaily
		err := rows.Scan(
			&p.Symbol, &p.TradingDate, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume, &p.Provenance, &p.IngestedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		p.TradingDate = models.TruncateDate(p.TradingDate)
		prices = append(prices, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prices: %w", err)
	}
	return prices, nil
}
