// Package transform derives return and volatility series from price batches.
//
// Every function sorts its own copy of the input by (symbol, date) ascending,
// so "previous observation" always means the prior row for the same symbol in
// that order, not the prior calendar day.
package transform

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/trogers1052/market-data-etl/internal/models"
)

// DefaultVolatilityWindow is the trailing return count used for fact_volatility_30d
const DefaultVolatilityWindow = 30

type closeObs struct {
	symbol string
	date   models.PriceKey
	close  float64
}

// DailyReturns computes close[i]/close[i-1] - 1 per symbol. The first
// observation of each symbol produces no row. Rows without a symbol, date or
// close are ignored.
func DailyReturns(batch models.PriceBatch) []models.ReturnRow {
	var out []models.ReturnRow
	for _, series := range groupBySymbol(batch) {
		for i := 1; i < len(series); i++ {
			out = append(out, models.ReturnRow{
				Symbol:      series[i].symbol,
				TradingDate: series[i].date.Date,
				DailyReturn: series[i].close/series[i-1].close - 1,
			})
		}
	}
	return out
}

// RollingVolatility returns the sample standard deviation of the trailing
// window daily returns for each symbol. A row is only emitted once window
// returns exist for the symbol, i.e. from the (window+1)-th price onward.
// Windows below 2 have no sample deviation and yield nil.
func RollingVolatility(batch models.PriceBatch, window int) []models.VolatilityRow {
	if window < 2 {
		return nil
	}

	var out []models.VolatilityRow
	for _, series := range groupBySymbol(batch) {
		if len(series) <= window {
			continue
		}
		rets := make([]float64, 0, len(series)-1)
		for i := 1; i < len(series); i++ {
			rets = append(rets, series[i].close/series[i-1].close-1)
			if len(rets) < window {
				continue
			}
			out = append(out, models.VolatilityRow{
				Symbol:      series[i].symbol,
				TradingDate: series[i].date.Date,
				Vol30d:      stat.StdDev(rets[len(rets)-window:], nil),
			})
		}
	}
	return out
}

// ReturnsOnDate keeps only return rows dated on the given day
func ReturnsOnDate(rows []models.ReturnRow, day time.Time) []models.ReturnRow {
	day = models.TruncateDate(day)
	var out []models.ReturnRow
	for _, r := range rows {
		if r.TradingDate.Equal(day) {
			out = append(out, r)
		}
	}
	return out
}

// VolatilityOnDate keeps only volatility rows dated on the given day
func VolatilityOnDate(rows []models.VolatilityRow, day time.Time) []models.VolatilityRow {
	day = models.TruncateDate(day)
	var out []models.VolatilityRow
	for _, r := range rows {
		if r.TradingDate.Equal(day) {
			out = append(out, r)
		}
	}
	return out
}

// groupBySymbol returns per-symbol close series, symbols in ascending order
// and each series sorted by date ascending
func groupBySymbol(batch models.PriceBatch) [][]closeObs {
	obs := make([]closeObs, 0, len(batch.Rows))
	for _, r := range batch.Rows {
		if !r.Symbol.Valid || !r.Date.Valid || !r.Close.Valid {
			continue
		}
		obs = append(obs, closeObs{symbol: r.Symbol.String, date: r.Key(), close: r.Close.Float64})
	}

	sort.SliceStable(obs, func(i, j int) bool {
		if obs[i].symbol != obs[j].symbol {
			return obs[i].symbol < obs[j].symbol
		}
		return obs[i].date.Date.Before(obs[j].date.Date)
	})

	var groups [][]closeObs
	for i := 0; i < len(obs); {
		j := i
		for j < len(obs) && obs[j].symbol == obs[i].symbol {
			j++
		}
		groups = append(groups, obs[i:j])
		i = j
	}
	return groups
}
