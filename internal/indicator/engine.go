package indicator

import (
	"fmt"
	"strconv"

	"trading-signalsv1/internal/model"
)

// Spec describes one indicator instance.
type Spec struct {
	Kind   string // "EMA", "SMA", "SMMA", "RSI", "MACD"
	Name   string // output name; derived from Kind+Period when empty
	Period int
	Fast   int // MACD only
	Slow   int // MACD only
	Signal int // MACD only
}

// DefaultSpecs returns the standard set: two EMAs, RSI and MACD.
func DefaultSpecs(emaFast, emaSlow, rsi, macdFast, macdSlow, macdSignal int) []Spec {
	return []Spec{
		{Kind: "EMA", Period: emaFast},
		{Kind: "EMA", Period: emaSlow},
		{Kind: "RSI", Period: rsi},
		{Kind: "MACD", Name: "MACD", Fast: macdFast, Slow: macdSlow, Signal: macdSignal},
	}
}

func (s Spec) name() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Kind + strconv.Itoa(s.Period)
}

func (s Spec) build() (Indicator, error) {
	name := s.name()
	if s.Kind != "MACD" && s.Period <= 0 {
		return nil, fmt.Errorf("indicator %s: period must be positive", name)
	}
	switch s.Kind {
	case "EMA":
		return NewEMA(name, s.Period), nil
	case "SMA":
		return NewSMA(name, s.Period), nil
	case "SMMA":
		return NewSMMA(name, s.Period), nil
	case "RSI":
		return NewRSI(name, s.Period), nil
	case "MACD":
		if s.Fast <= 0 || s.Slow <= 0 || s.Signal <= 0 || s.Fast >= s.Slow {
			return nil, fmt.Errorf("indicator %s: invalid MACD periods %d/%d/%d", name, s.Fast, s.Slow, s.Signal)
		}
		return NewMACD(name, s.Fast, s.Slow, s.Signal), nil
	}
	return nil, fmt.Errorf("indicator %s: unknown kind %q", name, s.Kind)
}

// Engine keeps a named set of indicators current for one price series.
// Not safe for concurrent use; the owning goroutine calls every method.
type Engine struct {
	inds []Indicator
}

// NewEngine builds an engine from specs. Output names must be unique.
func NewEngine(specs []Spec) (*Engine, error) {
	e := &Engine{inds: make([]Indicator, 0, len(specs))}
	seen := make(map[string]bool, len(specs))
	outs := make(map[string]float64, 4)
	for _, s := range specs {
		ind, err := s.build()
		if err != nil {
			return nil, err
		}
		// Collect output names by peeking on a fresh instance.
		clear(outs)
		ind.Peek(1, outs)
		if len(outs) == 0 {
			outs[ind.Name()] = 0
		}
		for k := range outs {
			if seen[k] {
				return nil, fmt.Errorf("indicator: duplicate output name %q", k)
			}
			seen[k] = true
		}
		e.inds = append(e.inds, ind)
	}
	return e, nil
}

// Update commits price to every indicator and returns the ready values.
func (e *Engine) Update(price float64) map[string]float64 {
	out := make(map[string]float64, len(e.inds)+2)
	for _, ind := range e.inds {
		ind.Update(price)
		ind.Emit(out)
	}
	return out
}

// Peek returns the values every indicator would have after price,
// without mutating state.
func (e *Engine) Peek(price float64) map[string]float64 {
	out := make(map[string]float64, len(e.inds)+2)
	for _, ind := range e.inds {
		ind.Peek(price, out)
	}
	return out
}

// CurrentValues returns the committed values of ready indicators.
func (e *Engine) CurrentValues() map[string]float64 {
	out := make(map[string]float64, len(e.inds)+2)
	for _, ind := range e.inds {
		ind.Emit(out)
	}
	return out
}

// Seed commits historical prices, oldest first.
func (e *Engine) Seed(prices []float64) {
	for _, p := range prices {
		for _, ind := range e.inds {
			ind.Update(p)
		}
	}
}

// Bank holds one Engine per (symbol, timeframe) series, created lazily.
type Bank struct {
	specs   []Spec
	engines map[string]*Engine
}

// NewBank validates specs and returns an empty bank.
func NewBank(specs []Spec) (*Bank, error) {
	if _, err := NewEngine(specs); err != nil {
		return nil, err
	}
	return &Bank{specs: specs, engines: make(map[string]*Engine)}, nil
}

// For returns the engine of a series, creating it on first use.
func (b *Bank) For(symbol string, tf model.Timeframe) *Engine {
	key := model.SeriesKey(symbol, tf)
	e, ok := b.engines[key]
	if !ok {
		// specs were validated in NewBank
		e, _ = NewEngine(b.specs)
		b.engines[key] = e
	}
	return e
}

// Lookup returns the engine of a series if it exists.
func (b *Bank) Lookup(symbol string, tf model.Timeframe) (*Engine, bool) {
	e, ok := b.engines[model.SeriesKey(symbol, tf)]
	return e, ok
}
