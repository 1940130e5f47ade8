// Package pipeline owns all mutable trading state: candle aggregation,
// indicator engines, the gale manager, strategy and control state.
//
// A single goroutine (Run) executes every mutation. Tick batches, control
// commands, observer attachment and display sweeps are submitted to it
// as closures, so state is never shared and every published batch is
// causally ordered.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trading-signalsv1/internal/gale"
	"trading-signalsv1/internal/hub"
	"trading-signalsv1/internal/indicator"
	"trading-signalsv1/internal/marketdata/agg"
	"trading-signalsv1/internal/model"
)

var (
	// ErrStopped is returned once Run has exited.
	ErrStopped = errors.New("pipeline: stopped")
	// ErrInvalidConfig is returned for out-of-range control parameters.
	ErrInvalidConfig = errors.New("pipeline: invalid config")
	// ErrUnknownSymbol is returned for a symbol outside the configured set.
	ErrUnknownSymbol = errors.New("pipeline: unknown symbol")
	// ErrAlreadyScanning is returned by StartScanning when active.
	ErrAlreadyScanning = errors.New("pipeline: scanning already active")
	// ErrNotScanning is returned by StopScanning when inactive.
	ErrNotScanning = errors.New("pipeline: scanning not active")
)

// Metrics receives pipeline counters. Implemented by internal/metrics.
type Metrics interface {
	TickProcessed(symbol string)
	TickRejected(symbol, reason string)
	CandleClosed(symbol string, tf model.Timeframe)
	SignalEmitted(symbol string, dir model.Direction)
	SignalBlocked(reason string)
	GaleResult(result model.Result, level int)
	ActiveSequences(n int)
}

type nopMetrics struct{}

func (nopMetrics) TickProcessed(string)                  {}
func (nopMetrics) TickRejected(string, string)           {}
func (nopMetrics) CandleClosed(string, model.Timeframe)  {}
func (nopMetrics) SignalEmitted(string, model.Direction) {}
func (nopMetrics) SignalBlocked(string)                  {}
func (nopMetrics) GaleResult(model.Result, int)          {}
func (nopMetrics) ActiveSequences(int)                   {}

// Config configures an Engine.
type Config struct {
	Symbols         []string
	ActiveSymbol    string
	Timeframes      []model.Timeframe
	SignalTimeframe model.Timeframe
	HistorySize     int
	Indicators      []indicator.Spec

	Strategy   model.Strategy
	Martingale model.Martingale
	Payout     decimal.Decimal

	IndependentDirections bool
	DisplayDelay          time.Duration
	EvalGapLimit          int

	SweepInterval time.Duration // default 1s
	QueueSize     int           // default 64

	Sink  model.CandleSink   // optional, receives closed candles
	Store model.ControlStore // optional, persists control state

	Now     func() time.Time
	Logger  zerolog.Logger
	Metrics Metrics
}

// Engine is the pipeline state owner.
type Engine struct {
	cfg      Config
	agg      *agg.Aggregator
	bank     *indicator.Bank
	gale     *gale.Manager
	hub      *hub.Hub
	strategy model.Strategy
	status   model.BotStatus
	metrics  Metrics
	log      zerolog.Logger

	cmds chan func()
	done chan struct{}
}

// New validates cfg and builds an idle engine publishing to h.
// Scanning always starts disabled.
func New(cfg Config, h *hub.Hub) (*Engine, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	bank, err := indicator.NewBank(cfg.Indicators)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	ladder, err := ladderFor(cfg.Martingale, cfg.Payout)
	if err != nil {
		return nil, err
	}
	gm, err := gale.NewManager(gale.Config{
		Ladder:                ladder,
		IndependentDirections: cfg.IndependentDirections,
		DisplayDelay:          cfg.DisplayDelay,
		EvalGapLimit:          cfg.EvalGapLimit,
		Now:                   cfg.Now,
		Logger:                cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		agg:      agg.New(cfg.Timeframes, cfg.HistorySize, cfg.Symbols...),
		bank:     bank,
		gale:     gm,
		hub:      h,
		strategy: cfg.Strategy,
		metrics:  cfg.Metrics,
		log:      cfg.Logger.With().Str("component", "pipeline").Logger(),
		cmds:     make(chan func(), cfg.QueueSize),
		done:     make(chan struct{}),
		status: model.BotStatus{
			ActiveSymbol:    cfg.ActiveSymbol,
			SelectedSymbols: []string{cfg.ActiveSymbol},
			Symbols:         append([]string(nil), cfg.Symbols...),
			Martingale:      cfg.Martingale,
		},
	}
	e.agg.OnDroppedTick = func(symbol string, err error) {
		reason := "invalid"
		switch {
		case errors.Is(err, agg.ErrStaleTick):
			reason = "stale"
		case errors.Is(err, agg.ErrDuplicateTick):
			reason = "duplicate"
		case errors.Is(err, agg.ErrUnknownSymbol):
			reason = "unknown_symbol"
		}
		e.metrics.TickRejected(symbol, reason)
		e.log.Debug().Err(err).Str("symbol", symbol).Msg("tick dropped")
	}
	e.agg.OnCandleClosed = func(c model.Candle) {
		e.metrics.CandleClosed(c.Symbol, c.Timeframe)
		if cfg.Sink != nil {
			cfg.Sink.Write(c)
		}
	}
	return e, nil
}

func validateConfig(cfg *Config) error {
	switch {
	case len(cfg.Symbols) == 0:
		return fmt.Errorf("%w: no symbols", ErrInvalidConfig)
	case !slices.Contains(cfg.Symbols, cfg.ActiveSymbol):
		return fmt.Errorf("%w: active symbol %q not in %v", ErrUnknownSymbol, cfg.ActiveSymbol, cfg.Symbols)
	case len(cfg.Timeframes) == 0:
		return fmt.Errorf("%w: no timeframes", ErrInvalidConfig)
	case !slices.Contains(cfg.Timeframes, cfg.SignalTimeframe):
		return fmt.Errorf("%w: signal timeframe %s not aggregated", ErrInvalidConfig, cfg.SignalTimeframe)
	case cfg.Strategy == nil:
		return fmt.Errorf("%w: strategy required", ErrInvalidConfig)
	case !cfg.Payout.IsPositive():
		return fmt.Errorf("%w: payout must be positive", ErrInvalidConfig)
	}
	if err := validateMartingale(cfg.Martingale); err != nil {
		return err
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 500
	}
	if len(cfg.Indicators) == 0 {
		cfg.Indicators = indicator.DefaultSpecs(20, 50, 14, 12, 26, 9)
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	return nil
}

// Run executes submitted commands until ctx is cancelled. It also sweeps
// completed gale sequences whose display delay has passed.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	sweep := time.NewTicker(e.cfg.SweepInterval)
	defer sweep.Stop()

	e.log.Info().Strs("symbols", e.cfg.Symbols).Str("active", e.status.ActiveSymbol).
		Str("signal_tf", e.cfg.SignalTimeframe.Label()).Str("strategy", e.strategy.Name()).
		Msg("pipeline started")

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("pipeline stopped")
			return
		case fn := <-e.cmds:
			fn()
		case <-sweep.C:
			if n := e.gale.Sweep(); n > 0 {
				e.log.Debug().Int("removed", n).Msg("swept completed sequences")
				e.metrics.ActiveSequences(e.gale.Len())
			}
		}
	}
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.done }

// do runs fn on the engine goroutine and waits for it to finish.
func (e *Engine) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}
	select {
	case e.cmds <- cmd:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitBatch processes ticks strictly in the given order. It returns once
// every tick has been processed and its events published.
func (e *Engine) SubmitBatch(ctx context.Context, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	return e.do(ctx, func() {
		for _, t := range ticks {
			e.processTick(t)
		}
	})
}

// Seed loads closed-candle history for every (symbol, timeframe) and
// warms the indicator engines with it. Must be called before Run.
// Load failures are logged and leave the series empty.
func (e *Engine) Seed(ctx context.Context, loader model.HistoryLoader) {
	if loader == nil {
		return
	}
	for _, sym := range e.cfg.Symbols {
		for _, tf := range e.agg.Timeframes() {
			candles, err := loader.LoadHistory(ctx, sym, tf, e.cfg.HistorySize)
			if err != nil {
				e.log.Warn().Err(err).Str("symbol", sym).Str("tf", tf.Label()).Msg("history load failed")
				continue
			}
			n := e.agg.Seed(sym, tf, candles)
			hist := e.agg.History(sym, tf)
			prices := make([]float64, len(hist))
			for i, c := range hist {
				prices[i] = c.Close.InexactFloat64()
			}
			e.bank.For(sym, tf).Seed(prices)
			e.log.Info().Str("symbol", sym).Str("tf", tf.Label()).Int("candles", n).Msg("history seeded")
		}
	}
}

func ladderFor(m model.Martingale, payout decimal.Decimal) (*gale.Ladder, error) {
	l, err := gale.NewLadder(decimal.NewFromFloat(m.InitialStake), payout, decimal.NewFromFloat(m.Multiplier), m.MaxGales)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return l, nil
}
