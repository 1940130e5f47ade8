package agg

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"trading-signalsv1/internal/model"
)

const base = int64(1_700_000_100) // aligned to 1m, 5m and 15m

func px(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tick(sym, price string, ts int64) model.Tick {
	return model.Tick{Symbol: sym, Price: px(price), TS: ts}
}

func TestAggregator_FirstTickOnlyOpens(t *testing.T) {
	a := New([]model.Timeframe{60, 300}, 10, "EURUSD")

	closed, err := a.ProcessTick(tick("EURUSD", "1.1000", base))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closed) != 0 {
		t.Fatalf("first tick must not close a candle, got %d", len(closed))
	}
	c, ok := a.Current("EURUSD", 60)
	if !ok {
		t.Fatal("expected a forming candle")
	}
	if c.PeriodStart != base || !c.Open.Equal(px("1.1000")) || c.TickCount != 1 {
		t.Errorf("unexpected forming candle: %+v", c)
	}
}

func TestAggregator_BasicCandle(t *testing.T) {
	a := New([]model.Timeframe{60}, 10, "EURUSD")

	a.ProcessTick(tick("EURUSD", "1.1000", base))
	a.ProcessTick(tick("EURUSD", "1.1050", base+10))
	a.ProcessTick(tick("EURUSD", "1.0980", base+20))
	a.ProcessTick(tick("EURUSD", "1.1010", base+59))

	closed, err := a.ProcessTick(tick("EURUSD", "1.2000", base+60))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, ok := closed[60]
	if !ok {
		t.Fatal("expected 1m candle to close")
	}
	if !c.Final {
		t.Error("closed candle must be final")
	}
	if !c.Open.Equal(px("1.1000")) {
		t.Errorf("expected open=1.1000, got %s", c.Open)
	}
	if !c.High.Equal(px("1.1050")) {
		t.Errorf("expected high=1.1050, got %s", c.High)
	}
	if !c.Low.Equal(px("1.0980")) {
		t.Errorf("expected low=1.0980, got %s", c.Low)
	}
	if !c.Close.Equal(px("1.1010")) {
		t.Errorf("expected close=1.1010, got %s", c.Close)
	}
	if c.TickCount != 4 {
		t.Errorf("expected tick count=4, got %d", c.TickCount)
	}

	cur, _ := a.Current("EURUSD", 60)
	if cur.PeriodStart != base+60 || !cur.Open.Equal(px("1.2000")) {
		t.Errorf("new candle should open at the new price: %+v", cur)
	}
	if h := a.History("EURUSD", 60); len(h) != 1 || h[0].PeriodStart != base {
		t.Errorf("expected one candle in history, got %+v", h)
	}
}

func TestAggregator_MultiTimeframeClose(t *testing.T) {
	a := New([]model.Timeframe{300, 60}, 10, "EURUSD")

	a.ProcessTick(tick("EURUSD", "1.1", base))
	closed, _ := a.ProcessTick(tick("EURUSD", "1.2", base+60))
	if _, ok := closed[60]; !ok {
		t.Fatal("1m should close at +60")
	}
	if _, ok := closed[300]; ok {
		t.Fatal("5m must not close at +60")
	}

	closed, _ = a.ProcessTick(tick("EURUSD", "1.3", base+300))
	if len(closed) != 2 {
		t.Fatalf("both timeframes should close at +300, got %d", len(closed))
	}
	if c := closed[300]; !c.High.Equal(px("1.2")) || c.TickCount != 2 {
		t.Errorf("unexpected 5m candle: %+v", c)
	}
}

func TestAggregator_RejectsMalformedTicks(t *testing.T) {
	a := New([]model.Timeframe{60}, 10, "EURUSD")
	a.ProcessTick(tick("EURUSD", "1.1", base))

	var dropped int
	a.OnDroppedTick = func(string, error) { dropped++ }

	cases := []model.Tick{
		tick("EURUSD", "0", base+1),
		tick("EURUSD", "-1", base+1),
		tick("EURUSD", "1.2", 0),
		tick("EURUSD", "1.2", -5),
	}
	for _, c := range cases {
		if _, err := a.ProcessTick(c); !errors.Is(err, ErrInvalidTick) {
			t.Errorf("expected ErrInvalidTick for %+v, got %v", c, err)
		}
	}
	if _, err := a.ProcessTick(tick("GBPUSD", "1.2", base)); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
	if dropped != 5 {
		t.Errorf("expected 5 dropped ticks, got %d", dropped)
	}

	c, _ := a.Current("EURUSD", 60)
	if c.TickCount != 1 || !c.Close.Equal(px("1.1")) {
		t.Errorf("rejected ticks must not mutate state: %+v", c)
	}
}

func TestAggregator_StaleTickRejectedWithoutMutation(t *testing.T) {
	a := New([]model.Timeframe{60, 300}, 10, "EURUSD")
	a.ProcessTick(tick("EURUSD", "1.1", base+60))

	// Falls in the same 5m window but an older 1m window.
	if _, err := a.ProcessTick(tick("EURUSD", "9.9", base+10)); !errors.Is(err, ErrStaleTick) {
		t.Fatalf("expected ErrStaleTick, got %v", err)
	}
	c5, _ := a.Current("EURUSD", 300)
	if c5.TickCount != 1 || !c5.High.Equal(px("1.1")) {
		t.Errorf("5m candle mutated by stale tick: %+v", c5)
	}
}

func TestAggregator_DuplicateTickIsIdempotentOnOHLC(t *testing.T) {
	a := New([]model.Timeframe{60}, 10, "EURUSD")
	a.ProcessTick(tick("EURUSD", "1.1", base))
	a.ProcessTick(tick("EURUSD", "1.3", base+5))
	before, _ := a.Current("EURUSD", 60)

	if _, err := a.ProcessTick(tick("EURUSD", "1.3", base+5)); !errors.Is(err, ErrDuplicateTick) {
		t.Fatalf("expected ErrDuplicateTick, got %v", err)
	}
	after, _ := a.Current("EURUSD", 60)

	if !before.Open.Equal(after.Open) || !before.High.Equal(after.High) ||
		!before.Low.Equal(after.Low) || !before.Close.Equal(after.Close) {
		t.Errorf("duplicate tick changed OHLC: before=%+v after=%+v", before, after)
	}
	if after.TickCount != before.TickCount {
		t.Errorf("duplicate tick counted: before=%d after=%d", before.TickCount, after.TickCount)
	}
}

func TestAggregator_SameSecondNewPriceApplies(t *testing.T) {
	a := New([]model.Timeframe{60}, 10, "EURUSD")
	a.ProcessTick(tick("EURUSD", "1.1", base+5))

	if _, err := a.ProcessTick(tick("EURUSD", "1.2", base+5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Same price again after a different one is a fresh quote.
	if _, err := a.ProcessTick(tick("EURUSD", "1.1", base+5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, _ := a.Current("EURUSD", 60)
	if c.TickCount != 3 || !c.High.Equal(px("1.2")) {
		t.Errorf("unexpected candle: %+v", c)
	}
}

func TestAggregator_HistoryMonotonicAndAligned(t *testing.T) {
	tfs := []model.Timeframe{60, 300, 900}
	a := New(tfs, 50, "EURUSD")
	rng := rand.New(rand.NewSource(7))

	ts := base
	price := 1.1
	for i := 0; i < 2000; i++ {
		ts += int64(rng.Intn(40)) // zero step allowed: same-second ticks
		price += (rng.Float64() - 0.5) / 1000
		_, err := a.ProcessTick(model.Tick{Symbol: "EURUSD", Price: decimal.NewFromFloat(price).Round(5), TS: ts})
		if err != nil && !errors.Is(err, ErrDuplicateTick) {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	for _, tf := range tfs {
		h := a.History("EURUSD", tf)
		if len(h) == 0 {
			t.Fatalf("tf=%s: expected history", tf)
		}
		if len(h) > 50 {
			t.Fatalf("tf=%s: history exceeds capacity: %d", tf, len(h))
		}
		for i, c := range h {
			if c.PeriodStart%tf.Seconds() != 0 {
				t.Errorf("tf=%s: misaligned periodStart %d", tf, c.PeriodStart)
			}
			if i > 0 && c.PeriodStart <= h[i-1].PeriodStart {
				t.Errorf("tf=%s: history not strictly increasing at %d", tf, i)
			}
		}
	}
}

func TestAggregator_ClosedLookupAndHook(t *testing.T) {
	a := New([]model.Timeframe{60}, 3, "EURUSD")
	var hooked []int64
	a.OnCandleClosed = func(c model.Candle) { hooked = append(hooked, c.PeriodStart) }

	for i := int64(0); i < 6; i++ {
		a.ProcessTick(tick("EURUSD", "1.1", base+i*60))
	}
	if len(hooked) != 5 {
		t.Fatalf("expected 5 closes, got %d", len(hooked))
	}
	if _, ok := a.Closed("EURUSD", 60, base+4*60); !ok {
		t.Error("expected newest closed candle to be found")
	}
	if _, ok := a.Closed("EURUSD", 60, base); ok {
		t.Error("evicted candle must not be found")
	}
	if h := a.History("EURUSD", 60); len(h) != 3 || h[2].PeriodStart != base+4*60 {
		t.Errorf("unexpected history: %+v", h)
	}
}

func TestAggregator_Seed(t *testing.T) {
	a := New([]model.Timeframe{60}, 10, "EURUSD")
	hist := []model.Candle{
		{PeriodStart: base - 180, Open: px("1"), High: px("1"), Low: px("1"), Close: px("1")},
		{PeriodStart: base - 120, Open: px("1"), High: px("1"), Low: px("1"), Close: px("1")},
		{PeriodStart: base - 120, Open: px("2"), High: px("2"), Low: px("2"), Close: px("2")}, // dup
		{PeriodStart: base - 91, Open: px("1"), High: px("1"), Low: px("1"), Close: px("1")},  // misaligned
		{PeriodStart: base - 60, Open: px("1"), High: px("1"), Low: px("1"), Close: px("1")},
	}
	if n := a.Seed("EURUSD", 60, hist); n != 3 {
		t.Fatalf("expected 3 seeded, got %d", n)
	}
	h := a.History("EURUSD", 60)
	for _, c := range h {
		if !c.Final || c.Symbol != "EURUSD" || c.Timeframe != 60 {
			t.Errorf("seeded candle not normalized: %+v", c)
		}
	}

	// Live ticks continue after the seeded history.
	a.ProcessTick(tick("EURUSD", "1.1", base))
	closed, _ := a.ProcessTick(tick("EURUSD", "1.2", base+60))
	if _, ok := closed[60]; !ok {
		t.Fatal("expected close after seed")
	}
	if got := len(a.History("EURUSD", 60)); got != 4 {
		t.Errorf("expected 4 candles, got %d", got)
	}
}
