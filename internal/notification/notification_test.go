package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-signalsv1/internal/hub"
	"trading-signalsv1/internal/model"
)

type recorder struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recorder) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func message(t *testing.T, ev model.Event) hub.Message {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return hub.Message{Type: ev.EventType(), Symbol: ev.EventSymbol(), Data: b}
}

func testSignal() model.Signal {
	return model.Signal{
		Symbol:     "EURUSD",
		Timeframe:  "5m",
		Direction:  model.Call,
		Confidence: 0.8,
		EntryPrice: decimal.RequireFromString("1.08342"),
		SequenceID: "seq-1",
		Stake:      decimal.NewFromInt(5),
	}
}

func TestAlerter_Lifecycle(t *testing.T) {
	rec := &recorder{}
	a := NewAlerter(rec, 16, zerolog.Nop())
	sig := testSignal()

	msgs := []hub.Message{
		message(t, model.SignalEvent{Signal: sig}),
		message(t, model.SignalEvent{Signal: sig}), // replay of the same sequence
		message(t, model.CandleEvent{Candle: model.Candle{Symbol: "EURUSD"}}),
		message(t, model.GaleResultEvent{Result: model.ResultLossMax, Level: 2, Profit: decimal.RequireFromString("-38.86"), Signal: sig}),
		message(t, model.SignalCancelledEvent{Symbol: "EURJPY", Direction: model.Put, SequenceID: "seq-2", Reason: model.ReasonSymbolChanged}),
		message(t, model.SignalCancelledEvent{Symbol: "EURJPY", Reason: model.ReasonScanningStopped}),
	}
	for _, m := range msgs {
		require.NoError(t, a.Send(m))
	}
	a.Close()
	a.Run(context.Background())

	require.Len(t, rec.alerts, 3)
	assert.Equal(t, Alert{
		Level:   AlertInfo,
		Symbol:  "EURUSD",
		Title:   "EURUSD CALL 5m",
		Message: "entry 1.08342, stake 5.00, confidence 80%",
	}, rec.alerts[0])
	assert.Equal(t, AlertWarning, rec.alerts[1].Level)
	assert.Equal(t, "EURUSD CALL LOSS_MAX", rec.alerts[1].Title)
	assert.Equal(t, "gale level 2, profit -38.86", rec.alerts[1].Message)
	assert.Equal(t, "EURJPY PUT cancelled", rec.alerts[2].Title)
	assert.Equal(t, model.ReasonSymbolChanged, rec.alerts[2].Message)
	assert.Zero(t, a.Failed())
}

func TestAlerter_ResultFreesSequence(t *testing.T) {
	rec := &recorder{}
	a := NewAlerter(rec, 16, zerolog.Nop())
	sig := testSignal()

	require.NoError(t, a.Send(message(t, model.SignalEvent{Signal: sig})))
	require.NoError(t, a.Send(message(t, model.GaleResultEvent{Result: model.ResultWin, Signal: sig})))
	require.NoError(t, a.Send(message(t, model.SignalEvent{Signal: sig})))
	a.Close()
	a.Run(context.Background())

	require.Len(t, rec.alerts, 3)
	assert.Equal(t, AlertInfo, rec.alerts[1].Level)
	assert.Equal(t, "EURUSD CALL 5m", rec.alerts[2].Title)
}

func TestAlerter_FailedDeliveryCounted(t *testing.T) {
	rec := &recorder{err: errors.New("down")}
	a := NewAlerter(rec, 16, zerolog.Nop())

	require.NoError(t, a.Send(message(t, model.SignalEvent{Signal: testSignal()})))
	a.Close()
	a.Run(context.Background())

	assert.Len(t, rec.alerts, 1)
	assert.Equal(t, int64(1), a.Failed())
}

func TestMulti_TriesEveryBackend(t *testing.T) {
	bad := &recorder{err: errors.New("down")}
	good := &recorder{}
	err := Multi{bad, good}.Send(context.Background(), Alert{Title: "x"})
	assert.Error(t, err)
	assert.Len(t, good.alerts, 1)
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhookNotifier(srv.URL, time.Second, zerolog.Nop())
	w.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	require.NoError(t, w.Send(context.Background(), Alert{Level: AlertWarning, Title: "t", Message: "m", Symbol: "EURUSD"}))

	assert.Equal(t, "WARNING", got["level"])
	assert.Equal(t, "EURUSD", got["symbol"])
	assert.Equal(t, "2023-11-14T22:13:20Z", got["ts"])
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, time.Second, zerolog.Nop()).Send(context.Background(), Alert{})
	assert.ErrorContains(t, err, "unexpected status 502")
}

func TestTelegramNotifier_Send(t *testing.T) {
	var path string
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &body))
	}))
	defer srv.Close()

	tg := NewTelegramNotifier("TOKEN", "42", time.Second, zerolog.Nop())
	tg.apiBase = srv.URL
	require.NoError(t, tg.Send(context.Background(), Alert{Level: AlertInfo, Title: "EURUSD CALL 5m", Message: "entry 1.08"}))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "MarkdownV2", body["parse_mode"])
	assert.Contains(t, body["text"], "*EURUSD CALL 5m*")
	assert.Contains(t, body["text"], `entry 1\.08`)
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a\_b\.c\!`, escapeMarkdown("a_b.c!"))
}
