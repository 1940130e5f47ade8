package strategy

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"trading-signalsv1/internal/indicator"
	"trading-signalsv1/internal/model"
)

// EMATrend implements an EMA crossover strategy.
//
// CALL: fast EMA crosses above slow EMA.
// PUT: fast EMA crosses below slow EMA.
//
// The RSI filter drops a CALL when overbought and a PUT when oversold.
type EMATrend struct {
	fastPeriod    int
	slowPeriod    int
	rsiPeriod     int
	overbought    float64
	oversold      float64
	minConfidence float64
}

// NewEMATrend reads fast, slow, rsi_period, overbought, oversold and
// min_confidence from params. Defaults: 9, 21, 14, 70, 30, 0.5.
func NewEMATrend(params map[string]float64) (*EMATrend, error) {
	s := &EMATrend{
		fastPeriod:    int(param(params, "fast", 9)),
		slowPeriod:    int(param(params, "slow", 21)),
		rsiPeriod:     int(param(params, "rsi_period", 14)),
		overbought:    param(params, "overbought", 70),
		oversold:      param(params, "oversold", 30),
		minConfidence: param(params, "min_confidence", 0.5),
	}
	if s.fastPeriod <= 0 || s.slowPeriod <= s.fastPeriod {
		return nil, fmt.Errorf("strategy: ema_trend needs 0 < fast < slow, got %d/%d", s.fastPeriod, s.slowPeriod)
	}
	if s.rsiPeriod <= 0 || s.oversold >= s.overbought {
		return nil, fmt.Errorf("strategy: ema_trend rsi filter invalid (period %d, %v/%v)", s.rsiPeriod, s.oversold, s.overbought)
	}
	return s, nil
}

func (s *EMATrend) Name() string { return "ema_trend" }

func (s *EMATrend) Evaluate(history []model.Candle) (model.StrategySignal, bool) {
	if len(history) < 2 {
		return model.StrategySignal{}, false
	}
	fast := indicator.NewEMA("", s.fastPeriod)
	slow := indicator.NewEMA("", s.slowPeriod)
	rsi := indicator.NewRSI("", s.rsiPeriod)

	prices := closes(history)
	var prevFast, prevSlow float64
	for i, p := range prices {
		if i == len(prices)-1 {
			prevFast, prevSlow = fast.Value(), slow.Value()
		}
		fast.Update(p)
		slow.Update(p)
		rsi.Update(p)
	}
	curFast, curSlow := fast.Value(), slow.Value()

	var dir model.Direction
	switch {
	case prevFast <= prevSlow && curFast > curSlow:
		dir = model.Call
	case prevFast >= prevSlow && curFast < curSlow:
		dir = model.Put
	default:
		return model.StrategySignal{}, false
	}

	inds := map[string]float64{"ema_fast": curFast, "ema_slow": curSlow}
	if rsi.Ready() {
		r := rsi.Value()
		inds["rsi"] = r
		if dir == model.Call && r > s.overbought {
			log.Debug().Str("strategy", s.Name()).Float64("rsi", r).Msg("golden cross filtered by RSI")
			return model.StrategySignal{}, false
		}
		if dir == model.Put && r < s.oversold {
			log.Debug().Str("strategy", s.Name()).Float64("rsi", r).Msg("death cross filtered by RSI")
			return model.StrategySignal{}, false
		}
	}

	spread := 0.0
	if curSlow != 0 {
		spread = math.Abs(curFast-curSlow) / curSlow
	}
	return model.StrategySignal{
		Direction:  dir,
		Confidence: math.Max(s.minConfidence, clamp01(spread*1000)),
		Indicators: inds,
	}, true
}
