package indicator

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// The first value is the simple average of `period` price changes; it is
// undefined before that.
type RSI struct {
	name      string
	period    int
	count     int // prices seen
	prevClose float64
	avgGain   float64
	avgLoss   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(name string, period int) *RSI {
	return &RSI{name: name, period: period}
}

func (r *RSI) Name() string { return r.name }

func (r *RSI) Update(price float64) {
	r.count++
	if r.count == 1 {
		r.prevClose = price
		return
	}

	gain, loss := split(price - r.prevClose)
	r.prevClose = price

	if r.count <= r.period+1 {
		// Accumulation phase: build initial averages
		r.avgGain += gain
		r.avgLoss += loss
		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
		}
		return
	}

	// Wilder's smoothing: avg = (avg*(period-1) + sample) / period
	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
}

func (r *RSI) Ready() bool { return r.count > r.period }

// Value returns the current RSI, or 0 when not ready.
func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 0
	}
	return rsiOf(r.avgGain, r.avgLoss)
}

func (r *RSI) Emit(dst map[string]float64) {
	if r.Ready() {
		dst[r.name] = r.Value()
	}
}

// Peek previews the RSI after price. Before the seed completes it writes
// a value only when price is exactly the sample that completes it.
func (r *RSI) Peek(price float64, dst map[string]float64) {
	switch {
	case r.count == 0 || r.count < r.period:
		return
	case r.count == r.period:
		gain, loss := split(price - r.prevClose)
		p := float64(r.period)
		dst[r.name] = rsiOf((r.avgGain+gain)/p, (r.avgLoss+loss)/p)
	default:
		gain, loss := split(price - r.prevClose)
		p := float64(r.period)
		dst[r.name] = rsiOf((r.avgGain*(p-1)+gain)/p, (r.avgLoss*(p-1)+loss)/p)
	}
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiOf(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
