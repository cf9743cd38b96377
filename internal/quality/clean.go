package quality

import (
	"math"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"

	"github.com/trogers1052/market-data-etl/internal/models"
)

// Clean returns a corrected copy of the batch. It never fails: rows that
// cannot be repaired are dropped.
//
// Steps, in order:
//   - drop rows with a null symbol, date or close
//   - keep only the last occurrence of each (symbol, date)
//   - coerce prices and volume, treating NaN, Inf and negative volume as missing
//   - drop rows whose close is now missing
//   - drop rows with any price missing or <= 0 at the warehouse price scale
//   - fill missing volume with 0
//
// Surviving rows keep their relative input order.
func Clean(batch models.PriceBatch) models.PriceBatch {
	out := models.PriceBatch{Columns: append([]string(nil), batch.Columns...)}

	present := make([]models.PriceRow, 0, len(batch.Rows))
	for _, r := range batch.Rows {
		if !r.Symbol.Valid || !r.Date.Valid || !r.Close.Valid {
			continue
		}
		present = append(present, r)
	}

	last := make(map[models.PriceKey]int, len(present))
	for i, r := range present {
		last[r.Key()] = i
	}

	for i, r := range present {
		if last[r.Key()] != i {
			continue
		}

		r.Date = null.TimeFrom(models.TruncateDate(r.Date.Time))
		r.Open = coercePrice(r.Open)
		r.High = coercePrice(r.High)
		r.Low = coercePrice(r.Low)
		r.Close = coercePrice(r.Close)
		r.Volume = coerceVolume(r.Volume)

		if !r.Close.Valid {
			continue
		}
		if !positive(r.Open) || !positive(r.High) || !positive(r.Low) || !positive(r.Close) {
			continue
		}

		out.Rows = append(out.Rows, r)
	}

	return out
}

func coercePrice(f null.Float) null.Float {
	if !f.Valid || math.IsNaN(f.Float64) || math.IsInf(f.Float64, 0) {
		return null.Float{}
	}
	return f
}

func coerceVolume(f null.Float) null.Float {
	if !f.Valid || math.IsNaN(f.Float64) || math.IsInf(f.Float64, 0) || f.Float64 < 0 {
		return null.FloatFrom(0)
	}
	return null.FloatFrom(math.Trunc(f.Float64))
}

// positive reports whether the price survives rounding to the stored scale
func positive(f null.Float) bool {
	return f.Valid && decimal.NewFromFloat(f.Float64).Round(models.PriceScale).IsPositive()
}
