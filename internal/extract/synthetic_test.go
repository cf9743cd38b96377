package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/market-data-etl/internal/models"
)

func TestSyntheticGenerator(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // Monday
	end := time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC)  // Sunday

	t.Run("is reproducible per symbol", func(t *testing.T) {
		a := NewSyntheticGenerator(42).Generate("aapl.us", start, end)
		b := NewSyntheticGenerator(42).Generate("aapl.us", start, end)
		assert.Equal(t, a, b)
	})

	t.Run("differs across symbols", func(t *testing.T) {
		g := NewSyntheticGenerator(42)
		a := g.Generate("aapl.us", start, start)
		b := g.Generate("msft.us", start, start)
		require.Len(t, a.Rows, 1)
		require.Len(t, b.Rows, 1)
		assert.NotEqual(t, a.Rows[0].Close.Float64, b.Rows[0].Close.Float64)
	})

	t.Run("weekdays only", func(t *testing.T) {
		batch := NewSyntheticGenerator(42).Generate("aapl.us", start, end)
		require.Len(t, batch.Rows, 10)
		for _, r := range batch.Rows {
			assert.True(t, models.IsTradingDate(r.Date.Time))
		}
	})

	t.Run("weekend range is empty", func(t *testing.T) {
		saturday := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, 0, NewSyntheticGenerator(42).Generate("aapl.us", saturday, saturday).Len())
	})

	t.Run("bars are internally consistent", func(t *testing.T) {
		batch := NewSyntheticGenerator(7).Generate("spy.us", start, end)
		for _, r := range batch.Rows {
			assert.Greater(t, r.Low.Float64, 0.0)
			assert.LessOrEqual(t, r.Low.Float64, r.Open.Float64)
			assert.LessOrEqual(t, r.Low.Float64, r.Close.Float64)
			assert.GreaterOrEqual(t, r.High.Float64, r.Open.Float64)
			assert.GreaterOrEqual(t, r.High.Float64, r.Close.Float64)
			assert.GreaterOrEqual(t, r.VolumeInt(), int64(100_000))
			assert.Less(t, r.VolumeInt(), int64(5_000_000))
			assert.Equal(t, models.ProvenanceSynthetic, r.Provenance)
		}
	})

	t.Run("bar is a point on the walk from the epoch", func(t *testing.T) {
		g := NewSyntheticGenerator(42)
		date := time.Date(2000, 1, 14, 0, 0, 0, 0, time.UTC)

		walk := g.Generate("aapl.us", SyntheticEpoch, date)
		bar := g.Bar("aapl.us", date)
		require.Equal(t, 1, bar.Len())
		assert.Equal(t, walk.Rows[len(walk.Rows)-1], bar.Rows[0])
	})

	t.Run("bar before the epoch still has a row", func(t *testing.T) {
		date := time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC) // Friday
		assert.Equal(t, 1, NewSyntheticGenerator(42).Bar("aapl.us", date).Len())
	})

	t.Run("bar on a weekend is empty", func(t *testing.T) {
		saturday := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, 0, NewSyntheticGenerator(42).Bar("aapl.us", saturday).Len())
	})

	t.Run("seed combines base and symbol hash", func(t *testing.T) {
		g := NewSyntheticGenerator(42)
		assert.Equal(t, g.Seed("aapl.us"), g.Seed("aapl.us"))
		assert.GreaterOrEqual(t, g.Seed("aapl.us"), uint64(42))
		assert.Less(t, g.Seed("aapl.us"), uint64(42+10_000))
	})
}
