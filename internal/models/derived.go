package models

import "time"

// ReturnRow is the daily close-to-close return of a symbol
type ReturnRow struct {
	Symbol      string    `json:"symbol"`
	TradingDate time.Time `json:"trading_date"`
	DailyReturn float64   `json:"daily_return"`
}

// VolatilityRow is the trailing-window standard deviation of daily returns
type VolatilityRow struct {
	Symbol      string    `json:"symbol"`
	TradingDate time.Time `json:"trading_date"`
	Vol30d      float64   `json:"vol_30d"`
}

// ViolationCounts holds data-quality counters for a price batch
type ViolationCounts struct {
	NullViolations      int `json:"null_violations"`
	DuplicateViolations int `json:"duplicate_violations"`
	NonPositivePrice    int `json:"nonpositive_price"`
}

// Total returns the sum of all counters
func (v ViolationCounts) Total() int {
	return v.NullViolations + v.DuplicateViolations + v.NonPositivePrice
}
