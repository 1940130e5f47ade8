package indicator

// SMMA calculates Smoothed Moving Average (Wilder-style smoothing).
// First value is SMA(period), then SMMA = (prev*(period-1) + price) / period.
type SMMA struct {
	name    string
	period  int
	count   int
	sum     float64
	current float64
}

// NewSMMA creates a new SMMA indicator with the given period.
func NewSMMA(name string, period int) *SMMA {
	return &SMMA{name: name, period: period}
}

func (s *SMMA) Name() string { return s.name }

func (s *SMMA) Update(price float64) {
	s.count++

	if s.count <= s.period {
		// Accumulate for initial SMA seed
		s.sum += price
		if s.count == s.period {
			s.current = s.sum / float64(s.period)
		}
		return
	}

	s.current = (s.current*float64(s.period-1) + price) / float64(s.period)
}

func (s *SMMA) Value() float64 { return s.current }
func (s *SMMA) Ready() bool    { return s.count >= s.period }

func (s *SMMA) Emit(dst map[string]float64) {
	if s.Ready() {
		dst[s.name] = s.current
	}
}

func (s *SMMA) Peek(price float64, dst map[string]float64) {
	switch {
	case s.count+1 < s.period:
		return
	case s.count < s.period:
		dst[s.name] = (s.sum + price) / float64(s.period)
	default:
		dst[s.name] = (s.current*float64(s.period-1) + price) / float64(s.period)
	}
}
