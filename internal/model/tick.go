package model

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Observers expect numeric JSON for prices, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Tick is a single price observation for a symbol.
// Ticks are never stored; they are consumed by the aggregator immediately.
type Tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	TS     int64           `json:"ts"` // unix seconds
}

// Time returns the tick timestamp as UTC time.
func (t Tick) Time() time.Time {
	return time.Unix(t.TS, 0).UTC()
}

// Valid reports whether the tick can be aggregated.
func (t Tick) Valid() bool {
	return t.Symbol != "" && t.Price.IsPositive() && t.TS > 0
}
