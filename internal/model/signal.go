package model

import (
	"github.com/shopspring/decimal"
)

// Direction is the side of a binary signal.
type Direction string

const (
	Call Direction = "CALL"
	Put  Direction = "PUT"
)

// Valid reports whether d is CALL or PUT.
func (d Direction) Valid() bool { return d == Call || d == Put }

// Wins reports whether closing at price beats base in direction d.
// Equal prices are a loss for both sides.
func (d Direction) Wins(price, base decimal.Decimal) bool {
	switch d {
	case Call:
		return price.GreaterThan(base)
	case Put:
		return price.LessThan(base)
	}
	return false
}

// Result is the outcome of one gale trade or of a whole sequence.
type Result string

const (
	ResultWin     Result = "WIN"
	ResultLoss    Result = "LOSS"
	ResultLossMax Result = "LOSS_MAX"
)

// GaleEntry records one evaluated trade inside a sequence.
type GaleEntry struct {
	Level     int             `json:"level"`
	Result    Result          `json:"result"`
	Price     decimal.Decimal `json:"price"`
	Stake     decimal.Decimal `json:"stake"`
	Timestamp int64           `json:"timestamp"`
}

// StrategySignal is what a Strategy returns for a qualifying setup.
type StrategySignal struct {
	Direction  Direction          `json:"direction"`
	Confidence float64            `json:"confidence"` // 0..1
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Signal is the observer-facing snapshot of an active sequence.
// The gale manager produces a fresh copy for every event; callers may
// keep it without synchronisation.
type Signal struct {
	Symbol       string             `json:"symbol"`
	Timeframe    string             `json:"timeframe"`
	Direction    Direction          `json:"direction"`
	Confidence   float64            `json:"confidence"`
	EntryPrice   decimal.Decimal    `json:"entry_price"`
	CurrentPrice decimal.Decimal    `json:"current_price"`
	GeneratedAt  int64              `json:"generated_at"`
	ExpiresAt    int64              `json:"expires_at"`
	SequenceID   string             `json:"sequence_id"`
	GaleLevel    int                `json:"gale_level"`
	Stake        decimal.Decimal    `json:"stake"`
	Invested     decimal.Decimal    `json:"total_invested"`
	GaleCycle    []GaleEntry        `json:"gale_cycle"`
	Completed    bool               `json:"completed"`
	FinalResult  Result             `json:"final_result,omitempty"`
	Indicators   map[string]float64 `json:"indicators,omitempty"`
	CurrentOHLC  *OHLC              `json:"current_ohlc,omitempty"`

	ProgressPercent float64 `json:"progress_percent"`
	TimeRemaining   int64   `json:"time_remaining"`
	IsWinning       bool    `json:"is_winning"`
	Expired         bool    `json:"expired"`
}
