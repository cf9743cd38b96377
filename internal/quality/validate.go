// Package quality implements data-quality checks and cleaning for price batches.
//
// Both Validate and Clean treat rows as ordered: duplicates are resolved in
// input order, so callers that want the most authoritative row to win must
// place it last (sort by symbol, then date, then ascending authority).
package quality

import (
	"errors"
	"fmt"
	"strings"

	"github.com/trogers1052/market-data-etl/internal/models"
)

// ErrMissingColumns is returned when a batch schema lacks required columns
var ErrMissingColumns = errors.New("missing required columns")

// Validate counts data-quality violations in the batch without modifying it.
// Per-row problems are counted; only a schema-level gap is an error.
func Validate(batch models.PriceBatch) (models.ViolationCounts, error) {
	var counts models.ViolationCounts

	var missing []string
	for _, col := range models.RequiredColumns {
		if !batch.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return counts, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	seen := make(map[models.PriceKey]bool, len(batch.Rows))
	for _, r := range batch.Rows {
		if hasNull(r) {
			counts.NullViolations++
		}

		key := r.Key()
		if seen[key] {
			counts.DuplicateViolations++
		}
		seen[key] = true

		if hasNonPositivePrice(r) {
			counts.NonPositivePrice++
		}
	}

	return counts, nil
}

func hasNull(r models.PriceRow) bool {
	return !r.Symbol.Valid || !r.Date.Valid ||
		!r.Open.Valid || !r.High.Valid || !r.Low.Valid || !r.Close.Valid ||
		!r.Volume.Valid
}

// hasNonPositivePrice ignores missing prices; those are null violations
func hasNonPositivePrice(r models.PriceRow) bool {
	for _, p := range []struct {
		valid bool
		v     float64
	}{
		{r.Open.Valid, r.Open.Float64},
		{r.High.Valid, r.High.Float64},
		{r.Low.Valid, r.Low.Float64},
		{r.Close.Valid, r.Close.Float64},
	} {
		if p.valid && p.v <= 0 {
			return true
		}
	}
	return false
}
