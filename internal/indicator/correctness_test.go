package indicator

import (
	"math"
	"testing"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_SeededByFirstPrice(t *testing.T) {
	// k = 2/(3+1) = 0.5
	// 10 → 10, 11 → 10.5, 12 → 11.25
	ema := NewEMA("EMA3", 3)
	if ema.Ready() {
		t.Fatal("EMA must not be ready before any price")
	}

	expected := []float64{10, 10.5, 11.25}
	for i, p := range []float64{10, 11, 12} {
		ema.Update(p)
		if !ema.Ready() {
			t.Fatalf("price %d: EMA should be ready after first price", i)
		}
		assertClose(t, "EMA(3)", ema.Value(), expected[i], 1e-9)
	}
}

func TestEMA_Peek_DoesNotMutate(t *testing.T) {
	ema := NewEMA("EMA3", 3)
	ema.Update(10)
	ema.Update(11)
	before := ema.Value()

	got := ema.PeekValue(20)
	assertClose(t, "peek", got, 15.25, 1e-9)
	assertClose(t, "value after peek", ema.Value(), before, 0)
}

// ────────────────────────────────────────────────────────────
// RSI Correctness
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period3(t *testing.T) {
	// Prices 1,2,3,2 → changes +1,+1,-1
	// seed: avgGain=2/3, avgLoss=1/3 → RS=2 → RSI=66.667
	// price 3 → +1: avgGain=(2/3*2+1)/3=7/9, avgLoss=(1/3*2)/3=2/9 → RS=3.5 → RSI=77.778
	rsi := NewRSI("RSI3", 3)
	prices := []float64{1, 2, 3}
	for _, p := range prices {
		rsi.Update(p)
		if rsi.Ready() {
			t.Fatal("RSI must be undefined before period changes exist")
		}
	}
	out := map[string]float64{}
	rsi.Emit(out)
	if _, ok := out["RSI3"]; ok {
		t.Fatal("not-ready RSI must not emit")
	}

	rsi.Update(2)
	if !rsi.Ready() {
		t.Fatal("RSI should be ready after period+1 prices")
	}
	assertClose(t, "RSI seed", rsi.Value(), 100-100/3.0, 1e-6)

	rsi.Update(3)
	assertClose(t, "RSI wilder", rsi.Value(), 100-100/4.5, 1e-6)
}

func TestRSI_AllUp_Is100(t *testing.T) {
	rsi := NewRSI("RSI5", 5)
	for i := 0; i < 10; i++ {
		rsi.Update(float64(100 + i))
	}
	assertClose(t, "RSI all up", rsi.Value(), 100, 0)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	rsi := NewRSI("RSI5", 5)
	for i := 0; i < 10; i++ {
		rsi.Update(float64(100 - i))
	}
	assertClose(t, "RSI all down", rsi.Value(), 0, 1e-9)
}

func TestRSI_Peek_MatchesUpdate(t *testing.T) {
	for _, warm := range []int{3, 4, 8} { // completing the seed, and after it
		a, b := NewRSI("R", 4), NewRSI("R", 4)
		for i := 0; i < warm; i++ {
			p := 10 + math.Sin(float64(i))
			a.Update(p)
			b.Update(p)
		}
		peek := map[string]float64{}
		a.Peek(12.5, peek)
		b.Update(12.5)

		if warm+1 <= 4 {
			if len(peek) != 0 {
				t.Errorf("warm=%d: peek should be empty before seed completes", warm)
			}
			continue
		}
		assertClose(t, "peek vs update", peek["R"], b.Value(), 1e-9)
		if a.count != warm {
			t.Errorf("warm=%d: peek mutated count", warm)
		}
	}
}

// ────────────────────────────────────────────────────────────
// MACD Correctness
// ────────────────────────────────────────────────────────────

func TestMACD_Correctness(t *testing.T) {
	// fast k=2/3, slow k=0.4, signal k=2/3
	// 10: fast=10 slow=10 macd=0 signal=0
	// 13: fast=12 slow=11.2 macd=0.8 signal=0.5333 hist=0.2667
	m := NewMACD("MACD", 2, 4, 2)
	m.Update(10)
	macd, signal, hist := m.Line()
	assertClose(t, "macd0", macd, 0, 1e-9)
	assertClose(t, "signal0", signal, 0, 1e-9)
	assertClose(t, "hist0", hist, 0, 1e-9)

	m.Update(13)
	macd, signal, hist = m.Line()
	assertClose(t, "macd1", macd, 0.8, 1e-9)
	assertClose(t, "signal1", signal, 0.8*2/3, 1e-9)
	assertClose(t, "hist1", hist, 0.8/3, 1e-9)

	out := map[string]float64{}
	m.Emit(out)
	for _, k := range []string{"MACD", "MACD_signal", "MACD_hist"} {
		if _, ok := out[k]; !ok {
			t.Errorf("missing output %s", k)
		}
	}
}

func TestMACD_Peek_MatchesUpdate(t *testing.T) {
	a, b := NewMACD("M", 3, 6, 3), NewMACD("M", 3, 6, 3)
	for _, p := range []float64{1, 2, 3, 2.5, 2.7} {
		a.Update(p)
		b.Update(p)
	}
	peek := map[string]float64{}
	a.Peek(3.3, peek)
	b.Update(3.3)

	committed := map[string]float64{}
	b.Emit(committed)
	for k, v := range committed {
		assertClose(t, "MACD peek "+k, peek[k], v, 1e-12)
	}
	after := map[string]float64{}
	a.Emit(after)
	if after["M"] == committed["M"] {
		t.Error("peek must not commit the price")
	}
}

// ────────────────────────────────────────────────────────────
// SMA / SMMA
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	sma := NewSMA("SMA3", 3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(p)
		if sma.Ready() != ready[i] {
			t.Errorf("price %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 1e-9)
		}
	}

	peek := map[string]float64{}
	sma.Peek(110, peek)
	assertClose(t, "SMA peek", peek["SMA3"], (103+105+110)/3.0, 1e-9)
	assertClose(t, "SMA unchanged", sma.Value(), 104.0, 1e-9)
}

func TestSMMA_Correctness_Period3(t *testing.T) {
	// seed SMA(3) of 10,11,12 = 11; then (11*2 + 14)/3 = 12
	s := NewSMMA("SMMA3", 3)
	for _, p := range []float64{10, 11, 12} {
		s.Update(p)
	}
	assertClose(t, "SMMA seed", s.Value(), 11, 1e-9)
	s.Update(14)
	assertClose(t, "SMMA smooth", s.Value(), 12, 1e-9)
}

func TestIndicators_TrendingUp_Ordering(t *testing.T) {
	fast, slow := NewEMA("f", 5), NewEMA("s", 20)
	for i := 0; i < 60; i++ {
		p := 100 + float64(i)
		fast.Update(p)
		slow.Update(p)
	}
	if fast.Value() <= slow.Value() {
		t.Errorf("uptrend: fast EMA %.4f should exceed slow EMA %.4f", fast.Value(), slow.Value())
	}
}
