// Package agg turns a tick stream into one forming candle per
// (symbol, timeframe) and a bounded history of closed candles.
package agg

import (
	"errors"
	"fmt"
	"sort"

	"trading-signalsv1/internal/model"
	"trading-signalsv1/internal/ringbuf"
)

var (
	// ErrInvalidTick is returned for a non-positive price or timestamp.
	ErrInvalidTick = errors.New("agg: invalid tick")
	// ErrUnknownSymbol is returned for ticks of an untracked symbol.
	ErrUnknownSymbol = errors.New("agg: unknown symbol")
	// ErrStaleTick is returned for a tick older than the forming window.
	ErrStaleTick = errors.New("agg: stale tick")
	// ErrDuplicateTick is returned for a tick repeating the previous
	// tick of its symbol (same timestamp and price), e.g. a cached quote
	// polled twice.
	ErrDuplicateTick = errors.New("agg: duplicate tick")
)

// series holds the forming candle and closed history of one (symbol, tf).
type series struct {
	current model.Candle
	started bool
	history *ringbuf.Ring[model.Candle]
}

// Aggregator builds multi-timeframe candles from ticks.
// Not goroutine-safe: the pipeline engine is its only caller.
type Aggregator struct {
	tfs         []model.Timeframe // ascending
	historySize int

	// states[symbol][tfIdx]
	states map[string][]*series
	// last applied tick per symbol
	last map[string]model.Tick

	// Hooks (optional, set externally)
	OnDroppedTick  func(symbol string, err error)
	OnCandleClosed func(c model.Candle)
}

// New creates an aggregator for the given timeframes, tracking symbols.
// historySize bounds the closed-candle history per (symbol, tf).
func New(tfs []model.Timeframe, historySize int, symbols ...string) *Aggregator {
	sorted := append([]model.Timeframe(nil), tfs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	a := &Aggregator{
		tfs:         sorted,
		historySize: historySize,
		states:      make(map[string][]*series, len(symbols)),
		last:        make(map[string]model.Tick, len(symbols)),
	}
	for _, s := range symbols {
		a.Track(s)
	}
	return a
}

// Track starts aggregation for a symbol. Tracking twice is a no-op.
func (a *Aggregator) Track(symbol string) {
	if _, ok := a.states[symbol]; ok {
		return
	}
	ss := make([]*series, len(a.tfs))
	for i := range ss {
		ss[i] = &series{history: ringbuf.New[model.Candle](a.historySize)}
	}
	a.states[symbol] = ss
}

// Timeframes returns the configured timeframes, ascending.
func (a *Aggregator) Timeframes() []model.Timeframe {
	return append([]model.Timeframe(nil), a.tfs...)
}

// Symbols returns the tracked symbols, sorted.
func (a *Aggregator) Symbols() []string {
	out := make([]string, 0, len(a.states))
	for s := range a.states {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ProcessTick folds one tick into every timeframe of its symbol.
// The returned map holds the candles finalized by this tick, keyed by
// timeframe; it is nil when nothing closed. A rejected tick leaves all
// state untouched.
func (a *Aggregator) ProcessTick(t model.Tick) (map[model.Timeframe]model.Candle, error) {
	if !t.Price.IsPositive() || t.TS <= 0 {
		return nil, a.drop(t.Symbol, fmt.Errorf("%w: symbol=%s price=%s ts=%d", ErrInvalidTick, t.Symbol, t.Price, t.TS))
	}
	ss, ok := a.states[t.Symbol]
	if !ok {
		return nil, a.drop(t.Symbol, fmt.Errorf("%w: %s", ErrUnknownSymbol, t.Symbol))
	}

	if prev, ok := a.last[t.Symbol]; ok && prev.TS == t.TS && prev.Price.Equal(t.Price) {
		return nil, a.drop(t.Symbol, fmt.Errorf("%w: symbol=%s ts=%d", ErrDuplicateTick, t.Symbol, t.TS))
	}

	// Reject before mutating any timeframe.
	for i, tf := range a.tfs {
		st := ss[i]
		if st.started && tf.Align(t.TS) < st.current.PeriodStart {
			return nil, a.drop(t.Symbol, fmt.Errorf("%w: symbol=%s ts=%d window=%d", ErrStaleTick, t.Symbol, t.TS, st.current.PeriodStart))
		}
	}

	var closed map[model.Timeframe]model.Candle
	for i, tf := range a.tfs {
		st := ss[i]
		windowStart := tf.Align(t.TS)

		if st.started && st.current.PeriodStart == windowStart {
			st.current.Apply(t.Price)
			continue
		}

		if st.started {
			done := st.current
			done.Final = true
			st.history.Push(done)
			if closed == nil {
				closed = make(map[model.Timeframe]model.Candle, len(a.tfs))
			}
			closed[tf] = done
			if a.OnCandleClosed != nil {
				a.OnCandleClosed(done)
			}
		}

		st.current = model.NewCandle(t.Symbol, tf, windowStart, t.Price)
		st.started = true
	}
	a.last[t.Symbol] = t
	return closed, nil
}

func (a *Aggregator) drop(symbol string, err error) error {
	if a.OnDroppedTick != nil {
		a.OnDroppedTick(symbol, err)
	}
	return err
}

// Current returns the forming candle of a series.
func (a *Aggregator) Current(symbol string, tf model.Timeframe) (model.Candle, bool) {
	st := a.series(symbol, tf)
	if st == nil || !st.started {
		return model.Candle{}, false
	}
	return st.current, true
}

// History returns the closed candles of a series, oldest first.
func (a *Aggregator) History(symbol string, tf model.Timeframe) []model.Candle {
	st := a.series(symbol, tf)
	if st == nil {
		return nil
	}
	return st.history.Slice()
}

// Closed returns the closed candle of a series starting at periodStart.
func (a *Aggregator) Closed(symbol string, tf model.Timeframe, periodStart int64) (model.Candle, bool) {
	st := a.series(symbol, tf)
	if st == nil {
		return model.Candle{}, false
	}
	// Newest first: evaluation always looks at recent periods.
	for i := st.history.Len() - 1; i >= 0; i-- {
		c, _ := st.history.At(i)
		if c.PeriodStart == periodStart {
			return c, true
		}
		if c.PeriodStart < periodStart {
			break
		}
	}
	return model.Candle{}, false
}

// Seed appends historical candles to a series before live ticks arrive.
// Candles that are misaligned, out of order, duplicated, or not older
// than the forming candle are skipped. Returns the number accepted.
func (a *Aggregator) Seed(symbol string, tf model.Timeframe, candles []model.Candle) int {
	a.Track(symbol)
	st := a.series(symbol, tf)
	if st == nil {
		return 0
	}

	last := int64(-1)
	if c, ok := st.history.Last(); ok {
		last = c.PeriodStart
	}
	n := 0
	for _, c := range candles {
		if c.PeriodStart <= last || c.PeriodStart%tf.Seconds() != 0 || !c.Close.IsPositive() {
			continue
		}
		if st.started && c.PeriodStart >= st.current.PeriodStart {
			break
		}
		c.Symbol, c.Timeframe, c.Final = symbol, tf, true
		st.history.Push(c)
		last = c.PeriodStart
		n++
	}
	return n
}

func (a *Aggregator) series(symbol string, tf model.Timeframe) *series {
	ss, ok := a.states[symbol]
	if !ok {
		return nil
	}
	for i, t := range a.tfs {
		if t == tf {
			return ss[i]
		}
	}
	return nil
}
