package model

import (
	"context"
)

// ── Port Interfaces ──
// These interfaces decouple the pipeline from concrete feeds, stores and
// strategies. The pipeline runs with any subset of them wired.

// TickSource fetches the latest quote for a symbol. Implementations own
// their transport retry policy; the poller owns the per-symbol cooldown.
type TickSource interface {
	// Name identifies the source in logs and metrics.
	Name() string

	// Fetch returns the current tick for symbol. It must honour ctx.
	Fetch(ctx context.Context, symbol string) (Tick, error)
}

// HistoryLoader returns finalized candles used to seed history and
// indicators at startup, oldest first. An empty result is not an error.
type HistoryLoader interface {
	LoadHistory(ctx context.Context, symbol string, tf Timeframe, count int) ([]Candle, error)
}

// CandleSink receives every closed candle (e.g. for persistence).
// Write must not block the caller.
type CandleSink interface {
	Write(c Candle)
}

// Strategy turns a closed-candle history into an optional directional signal.
// It must be pure and synchronous; history ends at the most recent close.
type Strategy interface {
	Name() string
	Evaluate(history []Candle) (StrategySignal, bool)
}

// ControlStore persists operator control state across restarts.
type ControlStore interface {
	// Save stores the state. Scanning is never restored as active.
	Save(ctx context.Context, st BotStatus) error

	// Load returns the stored state; ok is false when nothing was saved.
	Load(ctx context.Context) (st BotStatus, ok bool, err error)
}
