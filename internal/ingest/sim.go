package ingest

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-signalsv1/internal/model"
)

// Starting prices for the simulated walk.
var simStart = map[string]float64{
	"EURUSD": 1.0850,
	"EURJPY": 161.20,
	"GBPUSD": 1.2650,
	"USDJPY": 149.50,
	"AUDUSD": 0.6550,
	"BTCUSD": 65000,
}

// Sim is a random-walk quote source for offline runs and the tickserver.
type Sim struct {
	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	step   float64 // max relative move per fetch
	now    func() time.Time
}

// NewSim creates a walk seeded with seed. step defaults to 0.001 (±0.1%).
func NewSim(seed int64, step float64, now func() time.Time) *Sim {
	if step <= 0 {
		step = 0.001
	}
	if now == nil {
		now = time.Now
	}
	return &Sim{
		rng:    rand.New(rand.NewSource(seed)),
		prices: make(map[string]float64),
		step:   step,
		now:    now,
	}
}

// Name implements model.TickSource.
func (s *Sim) Name() string { return "sim" }

// Fetch advances symbol's walk by one step and returns the new quote.
func (s *Sim) Fetch(ctx context.Context, symbol string) (model.Tick, error) {
	if err := ctx.Err(); err != nil {
		return model.Tick{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prices[symbol]
	if !ok {
		p = simStart[symbol]
		if p == 0 {
			p = 1.0
		}
	}
	p *= 1 + (s.rng.Float64()*2-1)*s.step
	if p <= 0 {
		p = s.prices[symbol]
	}
	s.prices[symbol] = p

	return model.Tick{
		Symbol: symbol,
		Price:  decimal.NewFromFloat(p).Round(5),
		TS:     s.now().Unix(),
	}, nil
}
