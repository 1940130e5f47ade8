// Package strategy provides the reference directional strategies and the
// wrappers the pipeline applies around them.
//
// A strategy receives the closed-candle history of one (symbol, timeframe)
// series, oldest first, and may return a CALL or PUT signal. Strategies
// are pure: the same history always yields the same answer.
package strategy

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"trading-signalsv1/internal/model"
)

// Factory builds a strategy from its numeric parameters. Missing
// parameters take the strategy's defaults.
type Factory func(params map[string]float64) (model.Strategy, error)

var registry = map[string]Factory{
	"ema_trend":  func(p map[string]float64) (model.Strategy, error) { return NewEMATrend(p) },
	"momentum":   func(p map[string]float64) (model.Strategy, error) { return NewMomentum(p) },
	"macd_cross": func(p map[string]float64) (model.Strategy, error) { return NewMACDCross(p) },
}

// Names lists the registered strategy names, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Build creates the named strategy.
func Build(name string, params map[string]float64) (model.Strategy, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown strategy %q (have %v)", name, Names())
	}
	return f(params)
}

// Options are the wrappers applied around a built strategy.
type Options struct {
	MinHistory   int
	RequireColor bool
}

// New builds the named strategy and applies opts.
func New(name string, params map[string]float64, opts Options) (model.Strategy, error) {
	s, err := Build(name, params)
	if err != nil {
		return nil, err
	}
	if opts.RequireColor {
		s = ColorConsistent(s)
	}
	if opts.MinHistory > 0 {
		s = MinHistory(s, opts.MinHistory)
	}
	return s, nil
}

// ColorConsistent only lets a signal through when it agrees with the colour
// of the last closed candle: green allows CALL, anything else allows PUT.
func ColorConsistent(s model.Strategy) model.Strategy {
	return colorConsistent{inner: s}
}

type colorConsistent struct{ inner model.Strategy }

func (c colorConsistent) Name() string { return c.inner.Name() }

func (c colorConsistent) Evaluate(history []model.Candle) (model.StrategySignal, bool) {
	sig, ok := c.inner.Evaluate(history)
	if !ok || len(history) == 0 {
		return model.StrategySignal{}, false
	}
	last := history[len(history)-1]
	want := model.Put
	if last.Green() {
		want = model.Call
	}
	if sig.Direction != want {
		log.Debug().Str("strategy", c.inner.Name()).Str("symbol", last.Symbol).
			Str("dir", string(sig.Direction)).Msg("signal filtered by candle colour")
		return model.StrategySignal{}, false
	}
	return sig, true
}

// MinHistory suppresses evaluation until at least n candles are available.
func MinHistory(s model.Strategy, n int) model.Strategy {
	return minHistory{inner: s, n: n}
}

type minHistory struct {
	inner model.Strategy
	n     int
}

func (m minHistory) Name() string { return m.inner.Name() }

func (m minHistory) Evaluate(history []model.Candle) (model.StrategySignal, bool) {
	if len(history) < m.n {
		return model.StrategySignal{}, false
	}
	return m.inner.Evaluate(history)
}

// param returns params[key] or def.
func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

func closes(history []model.Candle) []float64 {
	out := make([]float64, len(history))
	for i, c := range history {
		out[i] = c.Close.InexactFloat64()
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
