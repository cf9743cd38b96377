package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// DateLayout is the calendar date layout used in file paths, run ids and events
const DateLayout = "2006-01-02"

// Required price batch columns
const (
	ColumnSymbol = "symbol"
	ColumnDate   = "date"
	ColumnOpen   = "open"
	ColumnHigh   = "high"
	ColumnLow    = "low"
	ColumnClose  = "close"
	ColumnVolume = "volume"
)

// RequiredColumns lists the columns every price batch must carry, in file order
var RequiredColumns = []string{
	ColumnSymbol, ColumnDate, ColumnOpen, ColumnHigh, ColumnLow, ColumnClose, ColumnVolume,
}

// Provenance constants
const (
	ProvenancePrimary   = "primary"
	ProvenanceSynthetic = "synthetic"
)

// PriceRow is one end-of-day bar. Fields are nullable because batches are
// validated and cleaned after extraction, not before.
type PriceRow struct {
	Symbol     null.String `json:"symbol"`
	Date       null.Time   `json:"date"`
	Open       null.Float  `json:"open"`
	High       null.Float  `json:"high"`
	Low        null.Float  `json:"low"`
	Close      null.Float  `json:"close"`
	Volume     null.Float  `json:"volume"`
	Provenance string      `json:"provenance,omitempty"`
}

// NewPriceRow builds a fully populated row
func NewPriceRow(symbol string, date time.Time, open, high, low, close float64, volume int64) PriceRow {
	return PriceRow{
		Symbol: null.StringFrom(symbol),
		Date:   null.TimeFrom(TruncateDate(date)),
		Open:   null.FloatFrom(open),
		High:   null.FloatFrom(high),
		Low:    null.FloatFrom(low),
		Close:  null.FloatFrom(close),
		Volume: null.FloatFrom(float64(volume)),
	}
}

// Key returns the natural key of the row. Null fields participate as empty values.
func (r PriceRow) Key() PriceKey {
	k := PriceKey{SymbolValid: r.Symbol.Valid, DateValid: r.Date.Valid}
	if r.Symbol.Valid {
		k.Symbol = r.Symbol.String
	}
	if r.Date.Valid {
		k.Date = TruncateDate(r.Date.Time)
	}
	return k
}

// VolumeInt returns the volume as an integer count, zero when missing
func (r PriceRow) VolumeInt() int64 {
	if !r.Volume.Valid {
		return 0
	}
	return int64(r.Volume.Float64)
}

// PriceKey is the (symbol, date) natural key of a PriceRow
type PriceKey struct {
	Symbol      string
	SymbolValid bool
	Date        time.Time
	DateValid   bool
}

// PriceBatch is an ordered collection of price rows together with the
// columns its producer supplied.
type PriceBatch struct {
	Columns []string   `json:"columns"`
	Rows    []PriceRow `json:"rows"`
}

// NewPriceBatch returns a batch carrying all required columns
func NewPriceBatch(rows ...PriceRow) PriceBatch {
	cols := make([]string, len(RequiredColumns))
	copy(cols, RequiredColumns)
	return PriceBatch{Columns: cols, Rows: rows}
}

// Len returns the number of rows in the batch
func (b PriceBatch) Len() int {
	return len(b.Rows)
}

// HasColumn reports whether the batch schema includes the named column
func (b PriceBatch) HasColumn(name string) bool {
	for _, c := range b.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Symbols returns the distinct non-null symbols in the batch, in first-seen order
func (b PriceBatch) Symbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range b.Rows {
		if !r.Symbol.Valid || seen[r.Symbol.String] {
			continue
		}
		seen[r.Symbol.String] = true
		out = append(out, r.Symbol.String)
	}
	return out
}

// FilterDate returns the rows dated exactly on the given calendar day
func (b PriceBatch) FilterDate(date time.Time) PriceBatch {
	day := TruncateDate(date)
	out := PriceBatch{Columns: b.Columns}
	for _, r := range b.Rows {
		if r.Date.Valid && TruncateDate(r.Date.Time).Equal(day) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// Concat appends the rows of other batches. The resulting schema is the
// intersection of the input schemas so a missing column is never hidden.
func Concat(batches ...PriceBatch) PriceBatch {
	if len(batches) == 0 {
		return NewPriceBatch()
	}
	out := PriceBatch{Columns: batches[0].Columns}
	for i, b := range batches {
		if i > 0 {
			var cols []string
			for _, c := range out.Columns {
				if b.HasColumn(c) {
					cols = append(cols, c)
				}
			}
			out.Columns = cols
		}
		out.Rows = append(out.Rows, b.Rows...)
	}
	return out
}

// TruncateDate strips the clock from t, keeping its calendar day in UTC
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsTradingDate reports whether the date falls on a weekday
func IsTradingDate(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
