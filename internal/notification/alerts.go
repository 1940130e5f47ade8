package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trading-signalsv1/internal/hub"
	"trading-signalsv1/internal/model"
)

// Alerter is a hub observer that turns lifecycle events into alerts.
// Each sequence is announced once; a replayed signal for a sequence that
// was already announced is ignored.
type Alerter struct {
	*hub.Async

	notifier Notifier
	log      zerolog.Logger

	mu        sync.Mutex
	announced map[string]bool
}

// NewAlerter creates an idle alerter; call Run to start delivering.
func NewAlerter(n Notifier, buffer int, log zerolog.Logger) *Alerter {
	a := &Alerter{
		notifier:  n,
		log:       log.With().Str("component", "alerter").Logger(),
		announced: make(map[string]bool),
	}
	a.Async = hub.NewAsync("alerter", buffer, 20, isAlertable, a.deliver, log)
	return a
}

func isAlertable(msg hub.Message) bool {
	switch msg.Type {
	case model.EventSignal, model.EventGaleResult, model.EventSignalCancelled:
		return true
	}
	return false
}

// deliver sends one alert per message. A failed delivery is logged and
// does not stop the rest of the batch.
func (a *Alerter) deliver(ctx context.Context, batch []hub.Message) error {
	var failed int
	for _, m := range batch {
		alert, ok, err := a.alertFor(m)
		if err != nil {
			a.log.Warn().Err(err).Str("type", string(m.Type)).Msg("undecodable event")
			continue
		}
		if !ok {
			continue
		}
		if err := a.notifier.Send(ctx, alert); err != nil {
			failed++
			a.log.Warn().Err(err).Str("title", alert.Title).Msg("alert not delivered")
		}
	}
	if failed > 0 {
		return fmt.Errorf("notification: %d of %d alerts failed", failed, len(batch))
	}
	return nil
}

type signalPayload struct {
	Symbol     string          `json:"symbol"`
	Timeframe  string          `json:"timeframe"`
	Direction  model.Direction `json:"direction"`
	Confidence float64         `json:"confidence"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	SequenceID string          `json:"sequence_id"`
	Stake      decimal.Decimal `json:"stake"`
}

type resultPayload struct {
	Symbol    string          `json:"symbol"`
	Result    model.Result    `json:"result"`
	GaleLevel int             `json:"gale_level"`
	Profit    decimal.Decimal `json:"profit"`
	Signal    signalPayload   `json:"signal"`
}

type cancelledPayload struct {
	Symbol     string          `json:"symbol"`
	Direction  model.Direction `json:"direction"`
	SequenceID string          `json:"sequence_id"`
	Reason     string          `json:"reason"`
}

func (a *Alerter) alertFor(m hub.Message) (Alert, bool, error) {
	switch m.Type {
	case model.EventSignal:
		var s signalPayload
		if err := json.Unmarshal(m.Data, &s); err != nil {
			return Alert{}, false, err
		}
		if !a.announce(s.SequenceID) {
			return Alert{}, false, nil
		}
		return Alert{
			Level:   AlertInfo,
			Symbol:  s.Symbol,
			Title:   fmt.Sprintf("%s %s %s", s.Symbol, s.Direction, s.Timeframe),
			Message: fmt.Sprintf("entry %s, stake %s, confidence %.0f%%",
				s.EntryPrice.String(), s.Stake.StringFixed(2), s.Confidence*100),
		}, true, nil

	case model.EventGaleResult:
		var r resultPayload
		if err := json.Unmarshal(m.Data, &r); err != nil {
			return Alert{}, false, err
		}
		a.forget(r.Signal.SequenceID)
		level := AlertInfo
		if r.Result == model.ResultLossMax {
			level = AlertWarning
		}
		return Alert{
			Level:   level,
			Symbol:  r.Symbol,
			Title:   fmt.Sprintf("%s %s %s", r.Symbol, r.Signal.Direction, r.Result),
			Message: fmt.Sprintf("gale level %d, profit %s", r.GaleLevel, r.Profit.StringFixed(2)),
		}, true, nil

	case model.EventSignalCancelled:
		var c cancelledPayload
		if err := json.Unmarshal(m.Data, &c); err != nil {
			return Alert{}, false, err
		}
		if c.SequenceID == "" {
			return Alert{}, false, nil
		}
		a.forget(c.SequenceID)
		return Alert{
			Level:   AlertInfo,
			Symbol:  c.Symbol,
			Title:   fmt.Sprintf("%s %s cancelled", c.Symbol, c.Direction),
			Message: c.Reason,
		}, true, nil
	}
	return Alert{}, false, nil
}

// announce records id and reports whether it was new.
func (a *Alerter) announce(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.announced[id] {
		return false
	}
	a.announced[id] = true
	return true
}

func (a *Alerter) forget(id string) {
	a.mu.Lock()
	delete(a.announced, id)
	a.mu.Unlock()
}
