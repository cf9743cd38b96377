package extract

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/trogers1052/market-data-etl/internal/models"
)

// SyntheticEpoch anchors every synthetic walk. A date's bar is the point the
// walk reaches on that date, so consecutive dates move and reruns agree.
var SyntheticEpoch = time.Date(2000, 1, 3, 0, 0, 0, 0, time.UTC)

// SyntheticGenerator produces a reproducible random-walk price series per
// symbol. It stands in for the primary source when that source is down.
type SyntheticGenerator struct {
	seed int64
}

// NewSyntheticGenerator creates a generator with the given base seed
func NewSyntheticGenerator(seed int64) *SyntheticGenerator {
	return &SyntheticGenerator{seed: seed}
}

// Seed returns the per-symbol seed: the base seed plus a stable hash of the symbol
func (g *SyntheticGenerator) Seed(symbol string) uint64 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return uint64(g.seed) + uint64(h.Sum32()%10_000)
}

// Generate returns bars for every weekday in [start, end]. The same symbol
// and range always produce the same rows.
func (g *SyntheticGenerator) Generate(symbol string, start, end time.Time) models.PriceBatch {
	seed := g.Seed(symbol)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	var dates []time.Time
	for d := models.TruncateDate(start); !d.After(models.TruncateDate(end)); d = d.AddDate(0, 0, 1) {
		if models.IsTradingDate(d) {
			dates = append(dates, d)
		}
	}

	batch := models.NewPriceBatch()
	price := 50 + rng.Float64()*450
	for _, d := range dates {
		price *= math.Exp(rng.NormFloat64() * 0.015)
		closePrice := price
		openPrice := closePrice * (1 + rng.NormFloat64()*0.002)
		high := math.Max(openPrice, closePrice) * (1 + rng.Float64()*0.01)
		low := math.Min(openPrice, closePrice) * (1 - rng.Float64()*0.01)
		volume := 100_000 + rng.Int64N(4_900_000)

		row := models.NewPriceRow(symbol, d, openPrice, high, low, closePrice, volume)
		row.Provenance = models.ProvenanceSynthetic
		batch.Rows = append(batch.Rows, row)
	}
	return batch
}

// Bar returns the synthetic rows for a single date, taken from the walk that
// starts at SyntheticEpoch. Dates before the epoch start their own walk.
func (g *SyntheticGenerator) Bar(symbol string, date time.Time) models.PriceBatch {
	date = models.TruncateDate(date)
	start := SyntheticEpoch
	if date.Before(start) {
		start = date
	}
	return g.Generate(symbol, start, date).FilterDate(date)
}
