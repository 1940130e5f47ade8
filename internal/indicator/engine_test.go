package indicator

import (
	"testing"
)

func TestEngine_DefaultSet(t *testing.T) {
	engine, err := NewEngine(DefaultSpecs(20, 50, 14, 12, 26, 9))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := engine.Update(1.1)
	for _, k := range []string{"EMA20", "EMA50", "MACD", "MACD_signal", "MACD_hist"} {
		if _, ok := first[k]; !ok {
			t.Errorf("expected %s after first price", k)
		}
	}
	if _, ok := first["RSI14"]; ok {
		t.Error("RSI14 must be absent until 15 prices")
	}

	for i := 0; i < 14; i++ {
		engine.Update(1.1 + float64(i)/1000)
	}
	cur := engine.CurrentValues()
	if _, ok := cur["RSI14"]; !ok {
		t.Error("RSI14 should be present after 15 prices")
	}
	if len(cur) != 6 {
		t.Errorf("expected 6 outputs, got %d: %v", len(cur), cur)
	}
}

func TestEngine_PeekDoesNotMutate(t *testing.T) {
	engine, _ := NewEngine([]Spec{{Kind: "EMA", Period: 3}, {Kind: "RSI", Period: 2}})
	engine.Seed([]float64{10, 11, 12, 11})
	before := engine.CurrentValues()

	peek := engine.Peek(20)
	if peek["EMA3"] == before["EMA3"] {
		t.Error("peek should differ from committed EMA")
	}
	after := engine.CurrentValues()
	for k, v := range before {
		if after[k] != v {
			t.Errorf("%s mutated by peek: %.6f → %.6f", k, v, after[k])
		}
	}
}

func TestEngine_ValidatedAtConstruction(t *testing.T) {
	tests := []struct {
		name  string
		specs []Spec
	}{
		{"unknown kind", []Spec{{Kind: "VWAP", Period: 3}}},
		{"zero period", []Spec{{Kind: "EMA", Period: 0}}},
		{"duplicate names", []Spec{{Kind: "EMA", Period: 9}, {Kind: "SMA", Name: "EMA9", Period: 9}}},
		{"macd fast >= slow", []Spec{{Kind: "MACD", Name: "MACD", Fast: 26, Slow: 12, Signal: 9}}},
		{"macd output clash", []Spec{{Kind: "MACD", Name: "M", Fast: 2, Slow: 4, Signal: 2}, {Kind: "EMA", Name: "M_hist", Period: 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(tt.specs); err == nil {
				t.Error("expected construction error")
			}
		})
	}
}

func TestBank_PerSeriesIsolation(t *testing.T) {
	bank, err := NewBank([]Spec{{Kind: "EMA", Period: 3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bank.For("EURUSD", 60).Update(10)
	bank.For("EURUSD", 300).Update(20)

	if v := bank.For("EURUSD", 60).CurrentValues()["EMA3"]; v != 10 {
		t.Errorf("1m series: expected 10, got %v", v)
	}
	if v := bank.For("EURUSD", 300).CurrentValues()["EMA3"]; v != 20 {
		t.Errorf("5m series: expected 20, got %v", v)
	}
	if _, ok := bank.Lookup("EURJPY", 60); ok {
		t.Error("unseen series must not exist")
	}
}
