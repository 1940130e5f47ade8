package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is a candle window length in seconds (e.g. 300 = 5 minutes).
type Timeframe int

// Seconds returns the window length as int64 for timestamp arithmetic.
func (tf Timeframe) Seconds() int64 { return int64(tf) }

// Duration returns the window length as a time.Duration.
func (tf Timeframe) Duration() time.Duration { return time.Duration(tf) * time.Second }

// Align returns the start of the window containing ts.
func (tf Timeframe) Align(ts int64) int64 {
	s := int64(tf)
	return ts - ts%s
}

// Label returns the wire name: "1m", "5m", "1h", or "30s".
func (tf Timeframe) Label() string {
	switch {
	case tf%3600 == 0:
		return strconv.Itoa(int(tf/3600)) + "h"
	case tf%60 == 0:
		return strconv.Itoa(int(tf/60)) + "m"
	default:
		return strconv.Itoa(int(tf)) + "s"
	}
}

func (tf Timeframe) String() string { return tf.Label() }

// ParseTimeframe parses a label produced by Label, or a bare second count.
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timeframe")
	}
	mult := 1
	switch s[len(s)-1] {
	case 'h':
		mult, s = 3600, s[:len(s)-1]
	case 'm':
		mult, s = 60, s[:len(s)-1]
	case 's':
		s = s[:len(s)-1]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", s)
	}
	return Timeframe(n * mult), nil
}

// Candle is an OHLC aggregate for one symbol over one timeframe window.
// Once Final is set the candle is immutable.
type Candle struct {
	Symbol      string          `json:"-"`
	Timeframe   Timeframe       `json:"-"`
	PeriodStart int64           `json:"time"` // unix seconds, aligned to Timeframe
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	TickCount   int64           `json:"volume"` // tick count doubles as volume
	Final       bool            `json:"final"`
}

// NewCandle opens a candle from its first price.
func NewCandle(symbol string, tf Timeframe, periodStart int64, price decimal.Decimal) Candle {
	return Candle{
		Symbol:      symbol,
		Timeframe:   tf,
		PeriodStart: periodStart,
		Open:        price,
		High:        price,
		Low:         price,
		Close:       price,
		TickCount:   1,
	}
}

// Apply folds one more price into a forming candle.
func (c *Candle) Apply(price decimal.Decimal) {
	if price.GreaterThan(c.High) {
		c.High = price
	}
	if price.LessThan(c.Low) {
		c.Low = price
	}
	c.Close = price
	c.TickCount++
}

// End returns the exclusive end of the candle window.
func (c Candle) End() int64 {
	return c.PeriodStart + c.Timeframe.Seconds()
}

// Green reports whether the candle closed above its open.
func (c Candle) Green() bool {
	return c.Close.GreaterThan(c.Open)
}

// Key returns "symbol:label", the per-series map key.
func (c Candle) Key() string {
	return SeriesKey(c.Symbol, c.Timeframe)
}

// SeriesKey builds the key of a (symbol, timeframe) series.
func SeriesKey(symbol string, tf Timeframe) string {
	return symbol + ":" + tf.Label()
}

// OHLC is a compact candle view attached to live signals.
type OHLC struct {
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Timestamp int64           `json:"timestamp"`
}

// OHLCOf extracts the OHLC view of c.
func OHLCOf(c Candle) *OHLC {
	return &OHLC{Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Timestamp: c.PeriodStart}
}
