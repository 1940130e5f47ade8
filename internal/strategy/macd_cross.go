package strategy

import (
	"fmt"
	"math"

	"trading-signalsv1/internal/indicator"
	"trading-signalsv1/internal/model"
)

// MACDCross signals when the MACD histogram changes sign with at least
// min_histogram magnitude: negative to positive is CALL, the reverse PUT.
type MACDCross struct {
	fast, slow, signal int
	minHist            float64
	minConfidence      float64
}

// NewMACDCross reads fast, slow, signal, min_histogram and min_confidence.
// Defaults: 12, 26, 9, 0.0001, 0.7.
func NewMACDCross(params map[string]float64) (*MACDCross, error) {
	m := &MACDCross{
		fast:          int(param(params, "fast", 12)),
		slow:          int(param(params, "slow", 26)),
		signal:        int(param(params, "signal", 9)),
		minHist:       param(params, "min_histogram", 0.0001),
		minConfidence: param(params, "min_confidence", 0.7),
	}
	if m.fast <= 0 || m.slow <= m.fast || m.signal <= 0 {
		return nil, fmt.Errorf("strategy: macd_cross needs 0 < fast < slow and signal > 0, got %d/%d/%d", m.fast, m.slow, m.signal)
	}
	return m, nil
}

func (m *MACDCross) Name() string { return "macd_cross" }

func (m *MACDCross) Evaluate(history []model.Candle) (model.StrategySignal, bool) {
	if len(history) < 2 {
		return model.StrategySignal{}, false
	}
	macd := indicator.NewMACD("", m.fast, m.slow, m.signal)
	var prevHist float64
	for i, p := range closes(history) {
		if i == len(history)-1 {
			_, _, prevHist = macd.Line()
		}
		macd.Update(p)
	}
	line, sig, hist := macd.Line()

	if math.Abs(hist) <= m.minHist {
		return model.StrategySignal{}, false
	}
	var dir model.Direction
	switch {
	case prevHist < 0 && hist > 0:
		dir = model.Call
	case prevHist > 0 && hist < 0:
		dir = model.Put
	default:
		return model.StrategySignal{}, false
	}
	return model.StrategySignal{
		Direction:  dir,
		Confidence: math.Max(m.minConfidence, clamp01(math.Abs(hist)*1000)),
		Indicators: map[string]float64{
			"macd":           line,
			"signal_line":    sig,
			"histogram":      hist,
			"prev_histogram": prevHist,
		},
	}, true
}
