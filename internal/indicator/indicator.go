// Package indicator provides incremental technical indicators.
//
// Every indicator holds only its recurrence state and updates in O(1) per
// price. Prices are float64; the pipeline converts candle closes once at
// the boundary.
package indicator

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the configured name (e.g. "EMA20", "RSI14", "MACD").
	Name() string

	// Update feeds the next committed price (a candle close).
	Update(price float64)

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Emit writes the current output values into dst. Indicators that are
	// not ready write nothing. Multi-output indicators write several keys.
	Emit(dst map[string]float64)

	// Peek writes what Emit would write if price were committed next,
	// WITHOUT mutating internal state. Used for forming candles.
	Peek(price float64, dst map[string]float64)
}
