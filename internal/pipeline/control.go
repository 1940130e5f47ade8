package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"trading-signalsv1/internal/gale"
	"trading-signalsv1/internal/hub"
	"trading-signalsv1/internal/model"
)

// Martingale bounds accepted by Configure.
const (
	MaxGalesLimit   = 10
	MinInitialStake = 0.01
	MaxInitialStake = 100000
	MinMultiplier   = 1
	MaxMultiplier   = 10
)

func validateMartingale(m model.Martingale) error {
	switch {
	case m.MaxGales < 0 || m.MaxGales > MaxGalesLimit:
		return fmt.Errorf("%w: max_gales %d outside 0..%d", ErrInvalidConfig, m.MaxGales, MaxGalesLimit)
	case m.InitialStake < MinInitialStake || m.InitialStake > MaxInitialStake:
		return fmt.Errorf("%w: initial_stake %v outside %v..%v", ErrInvalidConfig, m.InitialStake, MinInitialStake, MaxInitialStake)
	case m.Multiplier < MinMultiplier || m.Multiplier > MaxMultiplier:
		return fmt.Errorf("%w: multiplier %v outside %v..%v", ErrInvalidConfig, m.Multiplier, MinMultiplier, MaxMultiplier)
	}
	return nil
}

// Restore applies persisted control state (symbols and martingale) from
// cfg.Store. Scanning stays disabled. Must be called before Run.
func (e *Engine) Restore(ctx context.Context) error {
	if e.cfg.Store == nil {
		return nil
	}
	st, ok, err := e.cfg.Store.Load(ctx)
	if err != nil || !ok {
		return err
	}

	if slices.Contains(e.cfg.Symbols, st.ActiveSymbol) {
		e.status.ActiveSymbol = st.ActiveSymbol
	}
	if sel, err := e.checkSymbols(st.SelectedSymbols); err == nil {
		e.status.SelectedSymbols = sel
	}
	if validateMartingale(st.Martingale) == nil {
		if l, err := ladderFor(st.Martingale, e.cfg.Payout); err == nil {
			e.gale.SetLadder(l)
			e.status.Martingale = st.Martingale
		}
	}
	e.log.Info().Str("active", e.status.ActiveSymbol).Strs("selected", e.status.SelectedSymbols).
		Int("max_gales", e.status.Martingale.MaxGales).Msg("control state restored")
	return nil
}

// Status returns the current control state.
func (e *Engine) Status(ctx context.Context) (model.BotStatus, error) {
	var st model.BotStatus
	err := e.do(ctx, func() { st = e.snapshotStatus() })
	return st, err
}

// StartScanning enables signal generation and evaluates the strategy right
// away on the last closed signal-timeframe candle of the active symbol.
func (e *Engine) StartScanning(ctx context.Context) error {
	return e.control(ctx, func() ([]model.Event, error) {
		if e.status.ScanningActive {
			return nil, ErrAlreadyScanning
		}
		e.status.ScanningActive = true
		e.log.Info().Str("symbol", e.status.ActiveSymbol).Msg("scanning started")
		return e.immediateSignal(), nil
	})
}

// immediateSignal runs maybeSignal on the newest closed candle of the
// active symbol when the period it would trade has not ended yet.
func (e *Engine) immediateSignal() []model.Event {
	sym, tf := e.status.ActiveSymbol, e.cfg.SignalTimeframe
	h := e.agg.History(sym, tf)
	if len(h) == 0 {
		return nil
	}
	last := h[len(h)-1]
	if e.cfg.Now().Unix() >= last.End()+tf.Seconds() {
		return nil
	}
	if cur, ok := e.agg.Current(sym, tf); ok && cur.PeriodStart != last.End() {
		return nil
	}
	return e.maybeSignal(last)
}

// StopScanning disables signal generation and cancels every sequence.
func (e *Engine) StopScanning(ctx context.Context) error {
	return e.control(ctx, func() ([]model.Event, error) {
		if !e.status.ScanningActive {
			return nil, ErrNotScanning
		}
		e.status.ScanningActive = false
		events := e.gale.CancelAll(model.ReasonScanningStopped)
		e.metrics.ActiveSequences(e.gale.Len())
		e.log.Info().Int("cancelled", len(events)).Msg("scanning stopped")
		return events, nil
	})
}

// SetSelectedSymbols replaces the set of symbols polled besides the active one.
func (e *Engine) SetSelectedSymbols(ctx context.Context, symbols []string) error {
	if symbols == nil {
		symbols = []string{}
	}
	return e.Configure(ctx, symbols, nil)
}

// SetMartingale validates m and rebuilds the stake ladder. Running
// sequences keep the ladder they started with.
func (e *Engine) SetMartingale(ctx context.Context, m model.Martingale) error {
	return e.Configure(ctx, nil, &m)
}

// Configure replaces the selected symbols and/or the martingale settings.
// A nil argument leaves that part unchanged; an empty non-nil symbol list
// is rejected. Both parts are validated before either is applied, and one
// bot_status is published for the whole change.
func (e *Engine) Configure(ctx context.Context, symbols []string, m *model.Martingale) error {
	var l *gale.Ladder
	if m != nil {
		if err := validateMartingale(*m); err != nil {
			return err
		}
		var err error
		if l, err = ladderFor(*m, e.cfg.Payout); err != nil {
			return err
		}
	}
	return e.control(ctx, func() ([]model.Event, error) {
		var sel []string
		if symbols != nil {
			var err error
			if sel, err = e.checkSymbols(symbols); err != nil {
				return nil, err
			}
		}
		if sel != nil {
			e.status.SelectedSymbols = sel
		}
		if m != nil {
			e.gale.SetLadder(l)
			e.status.Martingale = *m
			e.log.Info().Int("max_gales", m.MaxGales).Float64("stake", m.InitialStake).
				Float64("multiplier", m.Multiplier).Msg("martingale updated")
		}
		return nil, nil
	})
}

// ChangeActiveSymbol switches the traded symbol. Sequences of the previous
// symbol are cancelled with reason symbol_changed and never resolved.
func (e *Engine) ChangeActiveSymbol(ctx context.Context, symbol string) error {
	return e.control(ctx, func() ([]model.Event, error) {
		if !slices.Contains(e.cfg.Symbols, symbol) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
		}
		old := e.status.ActiveSymbol
		if old == symbol {
			return nil, nil
		}
		events := e.gale.Cancel(old, model.ReasonSymbolChanged)
		e.status.ActiveSymbol = symbol
		e.metrics.ActiveSequences(e.gale.Len())
		e.log.Info().Str("from", old).Str("to", symbol).Int("cancelled", len(events)).Msg("active symbol changed")
		return events, nil
	})
}

// ActiveSignals returns snapshots of every tracked sequence.
func (e *Engine) ActiveSignals(ctx context.Context) ([]model.Signal, error) {
	var out []model.Signal
	err := e.do(ctx, func() { out = e.gale.Signals() })
	return out, err
}

// Stats returns the gale outcome counters.
func (e *Engine) Stats(ctx context.Context) (gale.Stats, error) {
	var st gale.Stats
	err := e.do(ctx, func() { st = e.gale.Stats() })
	return st, err
}

// CandleCounts returns the closed-candle history length per symbol and
// timeframe label.
func (e *Engine) CandleCounts(ctx context.Context) (map[string]map[string]int, error) {
	out := make(map[string]map[string]int)
	err := e.do(ctx, func() {
		for _, sym := range e.agg.Symbols() {
			per := make(map[string]int)
			for _, tf := range e.agg.Timeframes() {
				per[tf.Label()] = len(e.agg.History(sym, tf))
			}
			out[sym] = per
		}
	})
	return out, err
}

// PolledSymbols returns selected ∪ active, sorted.
func (e *Engine) PolledSymbols(ctx context.Context) ([]string, error) {
	var out []string
	err := e.do(ctx, func() {
		out = append(out, e.status.SelectedSymbols...)
		if !slices.Contains(out, e.status.ActiveSymbol) {
			out = append(out, e.status.ActiveSymbol)
		}
		sort.Strings(out)
	})
	return out, err
}

// Attach registers obs with the hub after replaying current state to it.
func (e *Engine) Attach(ctx context.Context, obs hub.Observer) error {
	var err error
	if derr := e.do(ctx, func() { err = e.hub.Attach(obs, e.replay()) }); derr != nil {
		return derr
	}
	return err
}

// control runs op on the engine goroutine. On success its events plus a
// bot_status are published together and the new state is persisted.
func (e *Engine) control(ctx context.Context, op func() ([]model.Event, error)) error {
	var (
		opErr error
		st    model.BotStatus
	)
	err := e.do(ctx, func() {
		events, err := op()
		if err != nil {
			opErr = err
			return
		}
		st = e.snapshotStatus()
		e.hub.Publish(append(events, model.BotStatusEvent{Status: st}))
	})
	if err != nil {
		return err
	}
	if opErr != nil {
		return opErr
	}
	if e.cfg.Store != nil {
		if err := e.cfg.Store.Save(ctx, st); err != nil {
			e.log.Warn().Err(err).Msg("persist control state")
		}
	}
	return nil
}

func (e *Engine) snapshotStatus() model.BotStatus {
	st := e.status
	st.SelectedSymbols = append([]string(nil), e.status.SelectedSymbols...)
	st.Symbols = append([]string(nil), e.status.Symbols...)
	return st
}

// checkSymbols validates a non-empty subset of the configured symbols and
// returns it deduplicated in input order.
func (e *Engine) checkSymbols(symbols []string) ([]string, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: at least one symbol required", ErrInvalidConfig)
	}
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if !slices.Contains(e.cfg.Symbols, s) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, s)
		}
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out, nil
}

// replay builds the initial state sent to a newly attached observer.
func (e *Engine) replay() []model.Event {
	var events []model.Event
	tfs := e.agg.Timeframes()
	for _, sym := range e.agg.Symbols() {
		for _, tf := range tfs {
			candles := e.agg.History(sym, tf)
			if cur, ok := e.agg.Current(sym, tf); ok {
				candles = append(candles, cur)
			}
			events = append(events, model.InitCandlesEvent{Symbol: sym, Timeframe: tf, Candles: candles})
		}
	}
	for _, sym := range e.agg.Symbols() {
		for _, tf := range tfs {
			if eng, ok := e.bank.Lookup(sym, tf); ok {
				events = append(events, model.InitIndicatorsEvent{Symbol: sym, Timeframe: tf, Values: eng.CurrentValues()})
			}
		}
	}
	for _, s := range e.gale.Signals() {
		events = append(events, model.SignalEvent{Signal: s})
	}
	return append(events, model.BotStatusEvent{Status: e.snapshotStatus()})
}
