package strategy

import (
	"fmt"

	"trading-signalsv1/internal/model"
)

// Momentum signals in the direction of a run of same-coloured candles:
// `run` green closes in a row give CALL, `run` red closes give PUT.
// Confidence grows by `step` for every candle beyond the minimum run.
type Momentum struct {
	run           int
	step          float64
	minConfidence float64
}

// NewMomentum reads run, step and min_confidence. Defaults: 3, 0.1, 0.6.
func NewMomentum(params map[string]float64) (*Momentum, error) {
	m := &Momentum{
		run:           int(param(params, "run", 3)),
		step:          param(params, "step", 0.1),
		minConfidence: param(params, "min_confidence", 0.6),
	}
	if m.run < 1 {
		return nil, fmt.Errorf("strategy: momentum run must be >= 1, got %d", m.run)
	}
	return m, nil
}

func (m *Momentum) Name() string { return "momentum" }

func (m *Momentum) Evaluate(history []model.Candle) (model.StrategySignal, bool) {
	if len(history) < m.run {
		return model.StrategySignal{}, false
	}

	last := history[len(history)-1]
	up := last.Green()
	down := last.Close.LessThan(last.Open)
	if !up && !down {
		return model.StrategySignal{}, false
	}

	streak := 0
	for i := len(history) - 1; i >= 0; i-- {
		c := history[i]
		if (up && !c.Green()) || (down && !c.Close.LessThan(c.Open)) {
			break
		}
		streak++
	}
	if streak < m.run {
		return model.StrategySignal{}, false
	}

	dir := model.Put
	if up {
		dir = model.Call
	}
	return model.StrategySignal{
		Direction:  dir,
		Confidence: clamp01(m.minConfidence + float64(streak-m.run)*m.step),
		Indicators: map[string]float64{"streak": float64(streak)},
	}, true
}
