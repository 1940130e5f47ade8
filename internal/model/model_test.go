package model

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeframe_LabelAndParse(t *testing.T) {
	tests := []struct {
		tf    Timeframe
		label string
	}{
		{60, "1m"},
		{300, "5m"},
		{900, "15m"},
		{3600, "1h"},
		{30, "30s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.label, tt.tf.Label())
		got, err := ParseTimeframe(tt.label)
		require.NoError(t, err)
		assert.Equal(t, tt.tf, got)
	}

	_, err := ParseTimeframe("0m")
	assert.Error(t, err)
	_, err = ParseTimeframe("")
	assert.Error(t, err)
}

func TestTimeframe_Align(t *testing.T) {
	tf := Timeframe(300)
	assert.Equal(t, int64(1_700_000_100), tf.Align(1_700_000_100))
	assert.Equal(t, int64(1_700_000_100), tf.Align(1_700_000_399))
	assert.Equal(t, int64(1_700_000_400), tf.Align(1_700_000_400))
}

func TestDirection_Wins(t *testing.T) {
	base := decimal.RequireFromString("1.1000")
	up := decimal.RequireFromString("1.1005")
	down := decimal.RequireFromString("1.0995")

	assert.True(t, Call.Wins(up, base))
	assert.False(t, Call.Wins(down, base))
	assert.False(t, Call.Wins(base, base), "equal close is a loss")
	assert.True(t, Put.Wins(down, base))
	assert.False(t, Put.Wins(base, base))
}

func TestCandleEvent_JSONShape(t *testing.T) {
	c := NewCandle("EURUSD", 60, 1_700_000_040, decimal.RequireFromString("1.1"))
	c.Apply(decimal.RequireFromString("1.2"))
	c.Final = true

	b, err := json.Marshal(CandleEvent{Candle: c})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "candle_closed", got["type"])
	assert.Equal(t, "EURUSD", got["symbol"])
	assert.Equal(t, "1m", got["timeframe"])

	data := got["data"].(map[string]any)
	assert.Equal(t, 1.2, data["high"], "prices must be numeric JSON")
	assert.Equal(t, float64(2), data["volume"])
	assert.Equal(t, true, data["final"])
}

func TestSignalEvent_FlatFields(t *testing.T) {
	s := Signal{
		Symbol:     "EURUSD",
		Timeframe:  "5m",
		Direction:  Call,
		EntryPrice: decimal.RequireFromString("1.1"),
		SequenceID: "abc",
		GaleCycle:  []GaleEntry{},
	}
	b, err := json.Marshal(SignalEvent{Signal: s})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "signal", got["type"])
	assert.Equal(t, "CALL", got["direction"])
	assert.Equal(t, "abc", got["sequence_id"])
	assert.Equal(t, false, got["completed"])
	assert.Equal(t, []any{}, got["gale_cycle"])
}
