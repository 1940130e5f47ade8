package indicator

// EMA calculates Exponential Moving Average.
// Seeded by the first price, so it is ready after one update.
type EMA struct {
	name       string
	period     int
	multiplier float64
	current    float64
	seeded     bool
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(name string, period int) *EMA {
	return &EMA{
		name:       name,
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return e.name }

func (e *EMA) Update(price float64) {
	e.current = e.next(price)
	e.seeded = true
}

// next returns the EMA after price without committing it.
func (e *EMA) next(price float64) float64 {
	if !e.seeded {
		return price
	}
	// EMA = price*k + EMA_prev*(1-k)
	return price*e.multiplier + e.current*(1-e.multiplier)
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.seeded }

// PeekValue returns what Value() would be after price, without mutating state.
func (e *EMA) PeekValue(price float64) float64 { return e.next(price) }

func (e *EMA) Emit(dst map[string]float64) {
	if e.seeded {
		dst[e.name] = e.current
	}
}

func (e *EMA) Peek(price float64, dst map[string]float64) {
	dst[e.name] = e.next(price)
}

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.seeded = false
}
