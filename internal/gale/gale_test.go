package gale

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-signalsv1/internal/model"
)

const (
	tf1m = model.Timeframe(60)
	p0   = int64(1_700_000_100) // aligned to 1m
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msg ...interface{}) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s %v", want, got, msg)
}

func candle(sym string, start int64, close string) model.Candle {
	c := model.NewCandle(sym, tf1m, start, d(close))
	c.Final = true
	return c
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestManager(t *testing.T, stakes []string, opts ...func(*Config)) (*Manager, *clock) {
	t.Helper()
	ds := make([]decimal.Decimal, len(stakes))
	for i, s := range stakes {
		ds[i] = d(s)
	}
	ladder, err := NewLadderFromStakes(ds, d("0.87"))
	require.NoError(t, err)

	clk := &clock{now: time.Unix(p0+60, 0)}
	n := 0
	cfg := Config{
		Ladder:       ladder,
		DisplayDelay: 10 * time.Second,
		EvalGapLimit: 3,
		Now:          clk.Now,
		NewID:        func() string { n++; return fmt.Sprintf("seq-%d", n) },
		Logger:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m, clk
}

func call(conf float64) model.StrategySignal {
	return model.StrategySignal{Direction: model.Call, Confidence: conf}
}

func put(conf float64) model.StrategySignal {
	return model.StrategySignal{Direction: model.Put, Confidence: conf}
}

// ── Ladder ──────────────────────────────────────────────────

func TestNewLadder_Calibrated(t *testing.T) {
	l, err := NewLadder(d("5"), d("0.87"), d("1"), 3)
	require.NoError(t, err)

	want := []string{"5", "10.75", "23.11", "49.67"}
	require.Len(t, l.Stakes(), len(want))
	for i, w := range want {
		assertDec(t, w, l.Stake(i), "level", i)
	}
	for n := 0; n <= l.MaxLevel(); n++ {
		assert.True(t, l.Stake(n).Mul(l.Payout()).GreaterThan(l.Prior(n)), "level %d must recover prior", n)
		assert.True(t, l.Profit(n).GreaterThanOrEqual(d("4.35")), "level %d profit %s", n, l.Profit(n))
	}
	assertDec(t, "38.86", l.Prior(3))
	assertDec(t, "88.53", l.Invested(3))
}

func TestNewLadder_MultiplierFloor(t *testing.T) {
	l, err := NewLadder(d("10"), d("0.9"), d("3"), 2)
	require.NoError(t, err)
	// calibrated need at level 1 is 21.12, the multiplier asks for 30
	assertDec(t, "30", l.Stake(1))
	assertDec(t, "90", l.Stake(2))
}

func TestNewLadder_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		base string
		pay  string
		mult string
		max  int
	}{
		{"zero base", "0", "0.87", "1", 2},
		{"negative payout", "5", "-0.5", "1", 2},
		{"multiplier below one", "5", "0.87", "0.5", 2},
		{"negative level", "5", "0.87", "1", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLadder(d(tt.base), d(tt.pay), d(tt.mult), tt.max)
			assert.Error(t, err)
		})
	}
}

func TestNewLadderFromStakes_Uncalibrated(t *testing.T) {
	_, err := NewLadderFromStakes([]decimal.Decimal{d("5"), d("5")}, d("0.87"))
	assert.ErrorIs(t, err, ErrUncalibrated)
}

// A level-1 win with the tabled stakes must be profitable. Charging the
// full cumulative investment against the payout would report a loss.
func TestLadder_ProfitRefundsWinningStake(t *testing.T) {
	l, err := NewLadderFromStakes([]decimal.Decimal{d("5"), d("10.75"), d("23.1")}, d("0.87"))
	require.NoError(t, err)

	assertDec(t, "4.3525", l.Profit(1))

	naive := l.Stake(1).Mul(l.Payout()).Sub(l.Invested(1))
	assertDec(t, "-6.3975", naive)
}

// ── Manager ─────────────────────────────────────────────────

func TestManager_LossThenWin(t *testing.T) {
	m, clk := newTestManager(t, []string{"5", "10.75", "23.1"})

	sig, _, err := m.Start(candle("EURUSD", p0, "1.1000"), call(0.8))
	require.NoError(t, err)
	assert.Equal(t, "seq-1", sig.SequenceID)
	assert.Equal(t, p0+60, sig.GeneratedAt)
	assert.Equal(t, p0+120, sig.ExpiresAt)
	assert.Equal(t, "1m", sig.Timeframe)
	assertDec(t, "5", sig.Stake)
	assertDec(t, "5", sig.Invested)
	assert.Equal(t, 0, sig.GaleLevel)
	assert.Empty(t, sig.GaleCycle)

	// a candle before the traded period does nothing
	assert.Empty(t, m.Evaluate(candle("EURUSD", p0, "1.2"), nil))

	clk.now = time.Unix(p0+120, 0)
	events := m.Evaluate(candle("EURUSD", p0+60, "1.0990"), nil)
	require.Len(t, events, 1)
	cont, ok := events[0].(model.GaleContinueEvent)
	require.True(t, ok, "expected gale_continue, got %T", events[0])
	assert.Equal(t, 1, cont.Level)
	assertDec(t, "1.0990", cont.Signal.EntryPrice)
	assertDec(t, "10.75", cont.Signal.Stake)
	assertDec(t, "15.75", cont.Signal.Invested)
	assert.Equal(t, p0+120, cont.Signal.GeneratedAt)
	assert.Equal(t, p0+180, cont.Signal.ExpiresAt)
	require.Len(t, cont.Signal.GaleCycle, 1)
	assert.Equal(t, model.ResultLoss, cont.Signal.GaleCycle[0].Result)

	clk.now = time.Unix(p0+180, 0)
	events = m.Evaluate(candle("EURUSD", p0+120, "1.0995"), nil)
	require.Len(t, events, 1)
	res, ok := events[0].(model.GaleResultEvent)
	require.True(t, ok)
	assert.Equal(t, model.ResultWin, res.Result)
	assert.Equal(t, 1, res.Level)
	assertDec(t, "4.3525", res.Profit)
	assert.True(t, res.Signal.Completed)
	assert.Len(t, res.Signal.GaleCycle, 2)

	assert.Equal(t, 0, m.Len(), "won sequence is removed immediately")
	st := m.Stats()
	assert.Equal(t, 1, st.Won)
	assert.Equal(t, 1, st.WinsByLevel[1])
	assertDec(t, "4.3525", st.NetProfit)
}

func TestManager_EqualCloseIsLoss(t *testing.T) {
	m, _ := newTestManager(t, []string{"5", "10.75"})
	_, _, err := m.Start(candle("EURUSD", p0, "1.1"), put(0.7))
	require.NoError(t, err)

	events := m.Evaluate(candle("EURUSD", p0+60, "1.1"), nil)
	require.Len(t, events, 1)
	assert.IsType(t, model.GaleContinueEvent{}, events[0])
}

func TestManager_LossMaxDisplayThenSweep(t *testing.T) {
	m, clk := newTestManager(t, []string{"5", "10.75", "23.1"})
	_, _, err := m.Start(candle("EURUSD", p0, "1.1"), call(0.9))
	require.NoError(t, err)

	var last model.Event
	for i, px := range []string{"1.09", "1.08", "1.07"} {
		events := m.Evaluate(candle("EURUSD", p0+60*int64(i+1), px), nil)
		require.Len(t, events, 1)
		last = events[0]
	}
	res, ok := last.(model.GaleResultEvent)
	require.True(t, ok)
	assert.Equal(t, model.ResultLossMax, res.Result)
	assert.Equal(t, 2, res.Level)
	assertDec(t, "-38.85", res.Profit)

	require.Equal(t, 1, m.Len(), "LOSS_MAX stays on display")
	sigs := m.Signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, model.ResultLossMax, sigs[0].FinalResult)

	_, _, err = m.Start(candle("EURUSD", p0+180, "1.07"), call(0.9))
	assert.ErrorIs(t, err, ErrDisplaying)

	// completed sequences are never evaluated again
	assert.Empty(t, m.Evaluate(candle("EURUSD", p0+240, "2"), nil))

	clk.now = clk.now.Add(9 * time.Second)
	assert.Equal(t, 0, m.Sweep())
	clk.now = clk.now.Add(time.Second)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 0, m.Len())

	_, _, err = m.Start(candle("EURUSD", p0+240, "1.07"), call(0.9))
	assert.NoError(t, err)

	st := m.Stats()
	assert.Equal(t, 1, st.LostMax)
	assert.Equal(t, 1, st.Blocked)
	assertDec(t, "-38.85", st.NetProfit)
}

func TestManager_ReplaceLevelZero(t *testing.T) {
	m, _ := newTestManager(t, []string{"5", "10.75"})
	first, _, err := m.Start(candle("EURUSD", p0, "1.1"), call(0.6))
	require.NoError(t, err)

	sig, events, err := m.Start(candle("EURUSD", p0, "1.1"), put(0.7))
	require.NoError(t, err)
	assert.Equal(t, model.Put, sig.Direction)
	require.Len(t, events, 1)
	cancelled := events[0].(model.SignalCancelledEvent)
	assert.Equal(t, model.ReasonReplaced, cancelled.Reason)
	assert.Equal(t, model.Call, cancelled.Direction)
	assert.Equal(t, first.SequenceID, cancelled.SequenceID)
	assert.NotEqual(t, first.SequenceID, sig.SequenceID)
	assert.Equal(t, 1, m.Len(), "one sequence per symbol")
	assert.Equal(t, 1, m.Stats().Replaced)
	assert.True(t, m.Active("EURUSD", model.Put))
	assert.False(t, m.Active("EURUSD", model.Call))
}

func TestManager_BlockWhileGaleInProgress(t *testing.T) {
	m, _ := newTestManager(t, []string{"5", "10.75", "23.1"})
	_, _, err := m.Start(candle("EURUSD", p0, "1.1"), call(0.6))
	require.NoError(t, err)
	m.Evaluate(candle("EURUSD", p0+60, "1.0"), nil)

	_, _, err = m.Start(candle("EURUSD", p0+60, "1.0"), call(0.9))
	assert.ErrorIs(t, err, ErrSequenceActive)

	sigs := m.Signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, 1, sigs[0].GaleLevel)
}

func TestManager_IndependentDirections(t *testing.T) {
	m, _ := newTestManager(t, []string{"5", "10.75"}, func(c *Config) { c.IndependentDirections = true })

	_, _, err := m.Start(candle("EURUSD", p0, "1.1"), call(0.6))
	require.NoError(t, err)
	_, _, err = m.Start(candle("EURUSD", p0, "1.1"), put(0.6))
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	// one close resolves both: CALL wins, PUT loses
	events := m.Evaluate(candle("EURUSD", p0+60, "1.2"), nil)
	require.Len(t, events, 2)
	assert.IsType(t, model.GaleResultEvent{}, events[0])
	assert.IsType(t, model.GaleContinueEvent{}, events[1])
}

func TestManager_LateEvaluationUsesLookup(t *testing.T) {
	m, _ := newTestManager(t, []string{"5", "10.75", "23.1"})
	_, _, err := m.Start(candle("EURUSD", p0, "1.1"), call(0.6))
	require.NoError(t, err)

	missed := candle("EURUSD", p0+60, "1.05")
	closed := candle("EURUSD", p0+120, "1.2")

	assert.Empty(t, m.Evaluate(closed, func(int64) (model.Candle, bool) { return model.Candle{}, false }),
		"missing evaluation candle is deferred")
	assert.Equal(t, 1, m.Len())

	events := m.Evaluate(closed, func(ps int64) (model.Candle, bool) {
		if ps == missed.PeriodStart {
			return missed, true
		}
		return model.Candle{}, false
	})
	require.Len(t, events, 2)
	assert.IsType(t, model.GaleContinueEvent{}, events[0])
	res, ok := events[1].(model.GaleResultEvent)
	require.True(t, ok)
	assert.Equal(t, model.ResultWin, res.Result)
	assert.Equal(t, 1, res.Level)
}

func TestManager_EvaluationGapCancels(t *testing.T) {
	m, _ := newTestManager(t, []string{"5", "10.75"})
	_, _, err := m.Start(candle("EURUSD", p0, "1.1"), call(0.6))
	require.NoError(t, err)

	events := m.Evaluate(candle("EURUSD", p0+60+180, "1.2"), nil)
	require.Len(t, events, 1)
	ev, ok := events[0].(model.SignalCancelledEvent)
	require.True(t, ok)
	assert.Equal(t, model.ReasonDataMissing, ev.Reason)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 1, m.Stats().Cancelled)
}

func TestManager_OtherSymbolAndTimeframeIgnored(t *testing.T) {
	m, _ := newTestManager(t, []string{"5", "10.75"})
	_, _, err := m.Start(candle("EURUSD", p0, "1.1"), call(0.6))
	require.NoError(t, err)

	assert.Empty(t, m.Evaluate(candle("GBPUSD", p0+60, "1.2"), nil))

	five := model.NewCandle("EURUSD", 300, p0-100, d("1.2"))
	assert.Empty(t, m.Evaluate(five, nil))
	assert.Equal(t, 1, m.Len())
}

func TestManager_CancelSymbol(t *testing.T) {
	m, _ := newTestManager(t, []string{"5", "10.75", "23.1"}, func(c *Config) { c.IndependentDirections = true })
	_, _, _ = m.Start(candle("EURUSD", p0, "1.1"), call(0.6))
	_, _, _ = m.Start(candle("EURUSD", p0, "1.1"), put(0.6))
	_, _, _ = m.Start(candle("GBPUSD", p0, "1.3"), call(0.6))
	m.Evaluate(candle("EURUSD", p0+60, "1.0"), nil) // CALL to level 1, PUT wins

	events := m.Cancel("EURUSD", model.ReasonSymbolChanged)
	require.Len(t, events, 1)
	ev := events[0].(model.SignalCancelledEvent)
	assert.Equal(t, model.Call, ev.Direction)
	assert.Equal(t, model.ReasonSymbolChanged, ev.Reason)

	assert.Equal(t, 1, m.Len())
	assert.Len(t, m.CancelAll(model.ReasonScanningStopped), 1)
	assert.Equal(t, 0, m.Len())
}

func TestManager_CancelDisplayedIsSilent(t *testing.T) {
	m, _ := newTestManager(t, []string{"5"})
	_, _, _ = m.Start(candle("EURUSD", p0, "1.1"), call(0.6))
	events := m.Evaluate(candle("EURUSD", p0+60, "1.0"), nil)
	require.Len(t, events, 1)
	assert.Equal(t, model.ResultLossMax, events[0].(model.GaleResultEvent).Result)

	assert.Empty(t, m.Cancel("EURUSD", model.ReasonSymbolChanged))
	assert.Equal(t, 0, m.Len())
}

func TestManager_LiveFields(t *testing.T) {
	m, clk := newTestManager(t, []string{"5", "10.75"})
	_, _, err := m.Start(candle("EURUSD", p0, "1.1000"), put(0.6))
	require.NoError(t, err)

	forming := model.NewCandle("EURUSD", tf1m, p0+60, d("1.1000"))
	forming.Apply(d("1.0990"))
	m.UpdatePrice("EURUSD", d("1.0990"), model.OHLCOf(forming))

	clk.now = time.Unix(p0+60+15, 0)
	sigs := m.Signals()
	require.Len(t, sigs, 1)
	s := sigs[0]
	assert.True(t, s.IsWinning)
	assert.Equal(t, int64(45), s.TimeRemaining)
	assert.Equal(t, 25.0, s.ProgressPercent)
	assert.False(t, s.Expired)
	require.NotNil(t, s.CurrentOHLC)
	assertDec(t, "1.0990", s.CurrentOHLC.Low)

	clk.now = time.Unix(p0+200, 0)
	s = m.Signals()[0]
	assert.Equal(t, int64(0), s.TimeRemaining)
	assert.Equal(t, 100.0, s.ProgressPercent)
	assert.True(t, s.Expired)
}

func TestManager_SetLadderKeepsRunningSequences(t *testing.T) {
	m, _ := newTestManager(t, []string{"5", "10.75"})
	_, _, err := m.Start(candle("EURUSD", p0, "1.1"), call(0.6))
	require.NoError(t, err)

	bigger, err := NewLadder(d("20"), d("0.87"), d("1"), 1)
	require.NoError(t, err)
	m.SetLadder(bigger)

	events := m.Evaluate(candle("EURUSD", p0+60, "1.0"), nil)
	require.Len(t, events, 1)
	assertDec(t, "10.75", events[0].(model.GaleContinueEvent).Signal.Stake)

	_, _, err = m.Start(candle("GBPUSD", p0, "1.3"), call(0.6))
	require.NoError(t, err)
	for _, s := range m.Signals() {
		if s.Symbol == "GBPUSD" {
			assertDec(t, "20", s.Stake)
		}
	}
}

func TestManager_InvalidSignal(t *testing.T) {
	m, _ := newTestManager(t, []string{"5"})
	_, _, err := m.Start(candle("EURUSD", p0, "1.1"), model.StrategySignal{Direction: "UP"})
	assert.ErrorIs(t, err, ErrInvalidSignal)
	_, _, err = m.Start(candle("EURUSD", p0, "0"), call(0.5))
	assert.ErrorIs(t, err, ErrInvalidSignal)
}
