package gale

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"trading-signalsv1/internal/model"
)

// Sequence is one gale run for a (symbol, direction): created on a
// qualifying signal, escalated level by level while losing.
// Owned exclusively by the Manager.
type Sequence struct {
	ID         string
	Symbol     string
	Direction  model.Direction
	Timeframe  model.Timeframe
	Confidence float64
	Indicators map[string]float64

	Level         int
	BasePrice     decimal.Decimal // entry of the current level
	CurrentPrice  decimal.Decimal
	StartTime     int64 // generatedAt of level 0
	GeneratedAt   int64 // start of the period being traded
	ExpiresAt     int64 // end of the period being traded
	TotalInvested decimal.Decimal
	Trades        []model.GaleEntry
	OHLC          *model.OHLC

	Active      bool
	FinalResult model.Result
	removeAt    time.Time // display deadline once completed

	ladder *Ladder // the ladder in force when the sequence started
}

// evalStart is the periodStart of the candle that decides the current level.
func (s *Sequence) evalStart() int64 {
	return s.ExpiresAt - s.Timeframe.Seconds()
}

// Snapshot renders the observer view with live fields computed at now.
func (s *Sequence) Snapshot(now time.Time) model.Signal {
	trades := make([]model.GaleEntry, len(s.Trades))
	copy(trades, s.Trades)

	var inds map[string]float64
	if len(s.Indicators) > 0 {
		inds = make(map[string]float64, len(s.Indicators))
		for k, v := range s.Indicators {
			inds[k] = v
		}
	}

	sig := model.Signal{
		Symbol:       s.Symbol,
		Timeframe:    s.Timeframe.Label(),
		Direction:    s.Direction,
		Confidence:   s.Confidence,
		EntryPrice:   s.BasePrice,
		CurrentPrice: s.CurrentPrice,
		GeneratedAt:  s.GeneratedAt,
		ExpiresAt:    s.ExpiresAt,
		SequenceID:   s.ID,
		GaleLevel:    s.Level,
		Stake:        s.ladder.Stake(s.Level),
		Invested:     s.TotalInvested,
		GaleCycle:    trades,
		Completed:    !s.Active,
		FinalResult:  s.FinalResult,
		Indicators:   inds,
		CurrentOHLC:  s.OHLC,
		IsWinning:    s.Direction.Wins(s.CurrentPrice, s.BasePrice),
	}

	ts := now.Unix()
	total := float64(s.Timeframe.Seconds())
	elapsed := float64(ts - s.GeneratedAt)
	progress := math.Min(100, math.Max(0, elapsed/total*100))
	sig.ProgressPercent = math.Round(progress*10) / 10
	sig.TimeRemaining = s.ExpiresAt - ts
	if sig.TimeRemaining < 0 {
		sig.TimeRemaining = 0
	}
	sig.Expired = ts >= s.ExpiresAt
	return sig
}
