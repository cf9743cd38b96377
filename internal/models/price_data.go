package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places fact_prices_daily keeps for prices
const PriceScale = 6

// PriceDaily is a row of fact_prices_daily as stored in the warehouse
type PriceDaily struct {
	Symbol      string          `json:"symbol"`
	TradingDate time.Time       `json:"trading_date"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      int64           `json:"volume"`
	Provenance  string          `json:"provenance"`
	IngestedAt  time.Time       `json:"ingested_at"`
}

// ToPriceRow converts a warehouse row back into a batch row
func (p *PriceDaily) ToPriceRow() PriceRow {
	row := NewPriceRow(p.Symbol, p.TradingDate,
		p.Open.InexactFloat64(), p.High.InexactFloat64(), p.Low.InexactFloat64(), p.Close.InexactFloat64(),
		p.Volume)
	row.Provenance = p.Provenance
	return row
}

// PriceHistoryBatch converts warehouse rows into a price batch
func PriceHistoryBatch(prices []*PriceDaily) PriceBatch {
	rows := make([]PriceRow, 0, len(prices))
	for _, p := range prices {
		rows = append(rows, p.ToPriceRow())
	}
	return NewPriceBatch(rows...)
}
