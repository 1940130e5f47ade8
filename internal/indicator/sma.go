package indicator

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
type SMA struct {
	name    string
	period  int
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	sum     float64
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(name string, period int) *SMA {
	return &SMA{
		name:   name,
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMA) Name() string { return s.name }

func (s *SMA) Update(price float64) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}

	s.buf[s.idx] = price
	s.sum += price
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }

func (s *SMA) Emit(dst map[string]float64) {
	if s.Ready() {
		dst[s.name] = s.current
	}
}

// Peek previews the SMA with price replacing the oldest window value.
// Writes nothing unless price would complete or extend a full window.
func (s *SMA) Peek(price float64, dst map[string]float64) {
	switch {
	case s.count+1 < s.period:
		return
	case s.count < s.period:
		dst[s.name] = (s.sum + price) / float64(s.period)
	default:
		dst[s.name] = (s.sum - s.buf[s.idx] + price) / float64(s.period)
	}
}
