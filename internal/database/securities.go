package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups that match no row
var ErrNotFound = errors.New("not found")

// withPreparedTx runs fn against a statement prepared inside one transaction.
// The transaction is committed only if fn succeeds.
func (db *DB) withPreparedTx(ctx context.Context, query string, fn func(stmt *sql.Stmt) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpsertSecurities registers symbols in dim_security. Existing symbols are left untouched.
func (db *DB) UpsertSecurities(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	query := `
		INSERT INTO dim_security (symbol)
		VALUES ($1)
		ON CONFLICT (symbol) DO NOTHING
	`
	return db.withPreparedTx(ctx, query, func(stmt *sql.Stmt) error {
		for _, symbol := range symbols {
			if _, err := stmt.ExecContext(ctx, symbol); err != nil {
				return fmt.Errorf("failed to insert security %s: %w", symbol, err)
			}
		}
		return nil
	})
}

// GetSecurities returns every registered symbol in alphabetical order
func (db *DB) GetSecurities(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT symbol FROM dim_security ORDER BY symbol ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get securities: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, symbol)
	}
	return symbols, rows.Err()
}
