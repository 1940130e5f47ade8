package pipeline

import (
	"errors"

	"trading-signalsv1/internal/gale"
	"trading-signalsv1/internal/model"
)

// processTick folds one tick into state and publishes its causal batch:
// candle_closed, candle per timeframe, indicators, gale events, signal.
func (e *Engine) processTick(t model.Tick) {
	closed, err := e.agg.ProcessTick(t)
	if err != nil {
		return // counted by OnDroppedTick
	}
	e.metrics.TickProcessed(t.Symbol)

	tfs := e.agg.Timeframes()
	events := make([]model.Event, 0, 3*len(tfs)+2)

	for _, tf := range tfs {
		if c, ok := closed[tf]; ok {
			events = append(events, model.CandleEvent{Candle: c})
		}
	}

	forming := make(map[model.Timeframe]model.Candle, len(tfs))
	for _, tf := range tfs {
		cur, _ := e.agg.Current(t.Symbol, tf)
		forming[tf] = cur
		events = append(events, model.CandleEvent{Candle: cur})
	}

	for _, tf := range tfs {
		eng := e.bank.For(t.Symbol, tf)
		if c, ok := closed[tf]; ok {
			events = append(events, model.IndicatorsEvent{
				Symbol:    t.Symbol,
				Timeframe: tf,
				Time:      c.PeriodStart,
				Values:    eng.Update(c.Close.InexactFloat64()),
			})
		}
		cur := forming[tf]
		events = append(events, model.IndicatorsEvent{
			Symbol:    t.Symbol,
			Timeframe: tf,
			Time:      cur.PeriodStart,
			Live:      true,
			Values:    eng.Peek(cur.Close.InexactFloat64()),
		})
	}

	sigTF := e.cfg.SignalTimeframe
	e.gale.UpdatePrice(t.Symbol, t.Price, model.OHLCOf(forming[sigTF]))

	if c, ok := closed[sigTF]; ok {
		events = append(events, e.evaluate(c)...)
		events = append(events, e.maybeSignal(c)...)
	}

	e.hub.Publish(events)
}

// evaluate resolves the gale sequences of c's symbol on a signal-timeframe close.
func (e *Engine) evaluate(c model.Candle) []model.Event {
	events := e.gale.Evaluate(c, func(periodStart int64) (model.Candle, bool) {
		return e.agg.Closed(c.Symbol, c.Timeframe, periodStart)
	})
	for _, ev := range events {
		if r, ok := ev.(model.GaleResultEvent); ok {
			e.metrics.GaleResult(r.Result, r.Level)
		}
	}
	if len(events) > 0 {
		e.metrics.ActiveSequences(e.gale.Len())
	}
	return events
}

// maybeSignal runs the strategy on a signal-timeframe close of the active
// symbol while scanning, and opens a sequence for a qualifying signal.
// Returns the signal event, preceded by the cancellation of a replaced
// pending sequence if any.
func (e *Engine) maybeSignal(c model.Candle) []model.Event {
	if !e.status.ScanningActive || c.Symbol != e.status.ActiveSymbol {
		return nil
	}

	ss, ok := e.strategy.Evaluate(e.agg.History(c.Symbol, c.Timeframe))
	if !ok {
		return nil
	}

	inds := e.bank.For(c.Symbol, c.Timeframe).CurrentValues()
	for k, v := range ss.Indicators {
		inds[k] = v
	}
	ss.Indicators = inds

	sig, events, err := e.gale.Start(c, ss)
	if err != nil {
		reason := "invalid"
		switch {
		case errors.Is(err, gale.ErrSequenceActive):
			reason = "sequence_active"
		case errors.Is(err, gale.ErrDisplaying):
			reason = "displaying"
		default:
			e.log.Warn().Err(err).Str("symbol", c.Symbol).Msg("signal rejected")
		}
		e.metrics.SignalBlocked(reason)
		return nil
	}

	e.metrics.SignalEmitted(sig.Symbol, sig.Direction)
	e.metrics.ActiveSequences(e.gale.Len())
	e.log.Info().Str("symbol", sig.Symbol).Str("dir", string(sig.Direction)).
		Float64("confidence", sig.Confidence).Str("entry", sig.EntryPrice.String()).
		Str("seq", sig.SequenceID).Msg("signal generated")
	return append(events, model.SignalEvent{Signal: sig})
}
