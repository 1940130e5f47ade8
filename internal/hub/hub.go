// Package hub fans pipeline events out to observers.
//
// Every Publish pass stamps one server_time on all its messages, delivers
// them to every attached observer in order, and afterwards removes every
// observer whose Send failed. A failing observer never blocks or drops
// delivery to the others.
package hub

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trading-signalsv1/internal/model"
)

var (
	// ErrSlowConsumer is returned by Send when an observer's buffer is full.
	ErrSlowConsumer = errors.New("hub: observer buffer full")
	// ErrClosed is returned by Send after an observer was closed.
	ErrClosed = errors.New("hub: observer closed")
)

// Message is one encoded event. Data is the event JSON with server_time
// spliced in; it is shared by all observers and must not be modified.
type Message struct {
	Type       model.EventType
	Symbol     string
	ServerTime int64 // unix ms
	Data       []byte
}

// Observer receives published messages.
type Observer interface {
	ID() string
	// Send delivers msg without blocking. An error detaches the observer.
	Send(msg Message) error
	// Close releases the observer after it has been detached.
	Close()
}

// Metrics receives hub counters. Implemented by internal/metrics.
type Metrics interface {
	ObserverCount(n int)
	ObserverDropped(reason string)
	MessagesPublished(n int)
	PublishDuration(d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserverCount(int)             {}
func (nopMetrics) ObserverDropped(string)        {}
func (nopMetrics) MessagesPublished(int)         {}
func (nopMetrics) PublishDuration(time.Duration) {}

// Hub is the observer registry. Safe for concurrent use; the pipeline
// engine is the only publisher, so message order is its call order.
type Hub struct {
	mu        sync.Mutex
	observers []Observer // attach order
	now       func() time.Time
	log       zerolog.Logger
	metrics   Metrics

	// Latency tracks publish pass durations in milliseconds.
	Latency *LatencyTracker
}

// Option configures a Hub.
type Option func(*Hub)

// WithClock overrides the server_time source.
func WithClock(now func() time.Time) Option { return func(h *Hub) { h.now = now } }

// WithLogger sets the hub logger.
func WithLogger(l zerolog.Logger) Option { return func(h *Hub) { h.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option { return func(h *Hub) { h.metrics = m } }

// New creates an empty Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		now:     time.Now,
		log:     zerolog.Nop(),
		metrics: nopMetrics{},
		Latency: NewLatencyTracker(10000),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Attach registers obs after delivering replay to it alone. Replay and
// registration happen under the hub lock, so no published message can
// slip between them. If a replay send fails obs is closed and not added.
func (h *Hub) Attach(obs Observer, replay []model.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(replay) > 0 {
		for _, msg := range h.encode(replay) {
			if err := obs.Send(msg); err != nil {
				h.log.Warn().Err(err).Str("observer", obs.ID()).Msg("replay failed, observer not attached")
				h.metrics.ObserverDropped("replay")
				obs.Close()
				return err
			}
		}
	}

	h.observers = append(h.observers, obs)
	h.metrics.ObserverCount(len(h.observers))
	h.log.Info().Str("observer", obs.ID()).Int("replayed", len(replay)).
		Int("total", len(h.observers)).Msg("observer attached")
	return nil
}

// Detach removes and closes the observer with id. Unknown ids are ignored.
func (h *Hub) Detach(id string) {
	h.mu.Lock()
	var gone Observer
	for i, o := range h.observers {
		if o.ID() == id {
			gone = o
			h.observers = append(h.observers[:i], h.observers[i+1:]...)
			break
		}
	}
	n := len(h.observers)
	h.mu.Unlock()

	if gone != nil {
		gone.Close()
		h.metrics.ObserverCount(n)
		h.log.Info().Str("observer", id).Int("total", n).Msg("observer detached")
	}
}

// Publish delivers events, in order, to every observer. Observers whose
// Send fails are removed as a batch once the pass is complete.
func (h *Hub) Publish(events []model.Event) {
	if len(events) == 0 {
		return
	}
	start := time.Now()

	h.mu.Lock()
	msgs := h.encode(events)
	var failed map[Observer]error
	for _, obs := range h.observers {
		for _, msg := range msgs {
			if err := obs.Send(msg); err != nil {
				if failed == nil {
					failed = make(map[Observer]error)
				}
				failed[obs] = err
				break
			}
		}
	}
	if len(failed) > 0 {
		kept := h.observers[:0]
		for _, obs := range h.observers {
			if _, bad := failed[obs]; !bad {
				kept = append(kept, obs)
			}
		}
		for i := len(kept); i < len(h.observers); i++ {
			h.observers[i] = nil
		}
		h.observers = kept
	}
	n := len(h.observers)
	h.mu.Unlock()

	for obs, err := range failed {
		reason := "error"
		if errors.Is(err, ErrSlowConsumer) {
			reason = "slow"
		}
		h.metrics.ObserverDropped(reason)
		h.log.Warn().Err(err).Str("observer", obs.ID()).Msg("observer send failed, detaching")
		obs.Close()
	}
	if len(failed) > 0 {
		h.metrics.ObserverCount(n)
	}

	elapsed := time.Since(start)
	h.metrics.MessagesPublished(len(msgs))
	h.metrics.PublishDuration(elapsed)
	h.Latency.Record(float64(elapsed.Microseconds()) / 1000.0)
}

// Len returns the number of attached observers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Close detaches and closes every observer.
func (h *Hub) Close() {
	h.mu.Lock()
	obs := h.observers
	h.observers = nil
	h.mu.Unlock()
	for _, o := range obs {
		o.Close()
	}
}

// encode marshals events and stamps a single server_time on all of them.
// Events that fail to marshal are logged and skipped.
func (h *Hub) encode(events []model.Event) []Message {
	ts := h.now().UnixMilli()
	out := make([]Message, 0, len(events))
	for _, ev := range events {
		data, err := ev.MarshalJSON()
		if err != nil {
			h.log.Error().Err(err).Str("type", string(ev.EventType())).Msg("encode event")
			continue
		}
		out = append(out, Message{
			Type:       ev.EventType(),
			Symbol:     ev.EventSymbol(),
			ServerTime: ts,
			Data:       withServerTime(data, ts),
		})
	}
	return out
}

// withServerTime appends "server_time":ts to a JSON object.
func withServerTime(obj []byte, ts int64) []byte {
	if len(obj) < 2 || obj[len(obj)-1] != '}' {
		return obj
	}
	buf := make([]byte, 0, len(obj)+32)
	buf = append(buf, obj[:len(obj)-1]...)
	if len(obj) > 2 {
		buf = append(buf, ',')
	}
	buf = append(buf, `"server_time":`...)
	buf = strconv.AppendInt(buf, ts, 10)
	buf = append(buf, '}')
	return buf
}
