package indicator

// MACD composes a fast and a slow EMA into a MACD line, then smooths that
// line with a third EMA (signal). Histogram = MACD − signal.
//
// Outputs are written under name, name+"_signal" and name+"_hist".
type MACD struct {
	name   string
	fast   *EMA
	slow   *EMA
	signal *EMA
}

// NewMACD creates a MACD(fast, slow, signal), typically (12, 26, 9).
func NewMACD(name string, fast, slow, signal int) *MACD {
	return &MACD{
		name:   name,
		fast:   NewEMA("", fast),
		slow:   NewEMA("", slow),
		signal: NewEMA("", signal),
	}
}

func (m *MACD) Name() string { return m.name }

func (m *MACD) Update(price float64) {
	m.fast.Update(price)
	m.slow.Update(price)
	m.signal.Update(m.fast.Value() - m.slow.Value())
}

func (m *MACD) Ready() bool { return m.signal.Ready() }

// Line returns the MACD line, signal line and histogram.
func (m *MACD) Line() (macd, signal, hist float64) {
	macd = m.fast.Value() - m.slow.Value()
	signal = m.signal.Value()
	return macd, signal, macd - signal
}

func (m *MACD) Emit(dst map[string]float64) {
	if !m.Ready() {
		return
	}
	macd, signal, hist := m.Line()
	m.write(dst, macd, signal, hist)
}

func (m *MACD) Peek(price float64, dst map[string]float64) {
	macd := m.fast.PeekValue(price) - m.slow.PeekValue(price)
	signal := m.signal.PeekValue(macd)
	m.write(dst, macd, signal, macd-signal)
}

func (m *MACD) write(dst map[string]float64, macd, signal, hist float64) {
	dst[m.name] = macd
	dst[m.name+"_signal"] = signal
	dst[m.name+"_hist"] = hist
}
