// Package metrics exposes Prometheus counters for the pipeline, hub and
// ingest layers, plus the /healthz status document.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"trading-signalsv1/internal/model"
)

// Metrics holds all Prometheus metrics of the signal engine. It implements
// pipeline.Metrics, hub.Metrics and ingest.Metrics.
type Metrics struct {
	TicksTotal     *prometheus.CounterVec // labels: symbol
	TicksRejected  *prometheus.CounterVec // labels: symbol, reason
	CandlesClosed  *prometheus.CounterVec // labels: symbol, tf
	SignalsTotal   *prometheus.CounterVec // labels: symbol, direction
	SignalsBlocked *prometheus.CounterVec // labels: reason
	GaleResults    *prometheus.CounterVec // labels: result, level
	ActiveSeqs     prometheus.Gauge

	// Distribution hub
	Observers         prometheus.Gauge
	ObserversDropped  *prometheus.CounterVec // labels: reason
	MessagesTotal     prometheus.Counter
	PublishDur        prometheus.Histogram

	// Ingest
	FetchErrors  *prometheus.CounterVec // labels: source, symbol
	BreakerGauge *prometheus.GaugeVec   // labels: symbol; 0=closed, 1=open, 2=half-open
	PollDur      prometheus.Histogram

	health *HealthStatus
}

// NewMetrics registers all metrics with reg. health, when non-nil, is
// updated with the last processed tick time.
func NewMetrics(reg prometheus.Registerer, health *HealthStatus) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_ticks_total",
			Help: "Ticks folded into candles",
		}, []string{"symbol"}),
		TicksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_ticks_rejected_total",
			Help: "Ticks dropped by the aggregator (stale, unknown_symbol, invalid)",
		}, []string{"symbol", "reason"}),
		CandlesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_candles_closed_total",
			Help: "Candles finalized by timeframe",
		}, []string{"symbol", "tf"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_generated_total",
			Help: "Signals that opened a gale sequence",
		}, []string{"symbol", "direction"}),
		SignalsBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_blocked_total",
			Help: "Strategy signals rejected by the gale manager",
		}, []string{"reason"}),
		GaleResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_gale_results_total",
			Help: "Completed gale sequences by result and final level",
		}, []string{"result", "level"}),
		ActiveSeqs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signals_active_sequences",
			Help: "Tracked gale sequences, including results on display",
		}),

		Observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signals_hub_observers",
			Help: "Attached hub observers",
		}),
		ObserversDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_hub_observers_dropped_total",
			Help: "Observers removed after a failed send",
		}, []string{"reason"}),
		MessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signals_hub_messages_total",
			Help: "Messages published per observer pass",
		}),
		PublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signals_hub_publish_duration_seconds",
			Help:    "Duration of one publish pass over all observers",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),

		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_ingest_fetch_errors_total",
			Help: "Failed quote fetches",
		}, []string{"source", "symbol"}),
		BreakerGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signals_ingest_breaker_state",
			Help: "Per-symbol fetch breaker (0=closed, 1=open, 2=half-open)",
		}, []string{"symbol"}),
		PollDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signals_ingest_poll_duration_seconds",
			Help:    "Duration of one poll cycle",
			Buckets: prometheus.DefBuckets,
		}),

		health: health,
	}

	reg.MustRegister(
		m.TicksTotal,
		m.TicksRejected,
		m.CandlesClosed,
		m.SignalsTotal,
		m.SignalsBlocked,
		m.GaleResults,
		m.ActiveSeqs,
		m.Observers,
		m.ObserversDropped,
		m.MessagesTotal,
		m.PublishDur,
		m.FetchErrors,
		m.BreakerGauge,
		m.PollDur,
	)
	return m
}

// ── pipeline.Metrics ──

func (m *Metrics) TickProcessed(symbol string) {
	m.TicksTotal.WithLabelValues(symbol).Inc()
	if m.health != nil {
		m.health.SetLastTickTime(time.Now())
	}
}

func (m *Metrics) TickRejected(symbol, reason string) {
	m.TicksRejected.WithLabelValues(symbol, reason).Inc()
}

func (m *Metrics) CandleClosed(symbol string, tf model.Timeframe) {
	m.CandlesClosed.WithLabelValues(symbol, tf.Label()).Inc()
}

func (m *Metrics) SignalEmitted(symbol string, dir model.Direction) {
	m.SignalsTotal.WithLabelValues(symbol, string(dir)).Inc()
}

func (m *Metrics) SignalBlocked(reason string) { m.SignalsBlocked.WithLabelValues(reason).Inc() }

func (m *Metrics) GaleResult(result model.Result, level int) {
	m.GaleResults.WithLabelValues(string(result), strconv.Itoa(level)).Inc()
}

func (m *Metrics) ActiveSequences(n int) { m.ActiveSeqs.Set(float64(n)) }

// ── hub.Metrics ──

func (m *Metrics) ObserverCount(n int)             { m.Observers.Set(float64(n)) }
func (m *Metrics) ObserverDropped(reason string)   { m.ObserversDropped.WithLabelValues(reason).Inc() }
func (m *Metrics) MessagesPublished(n int)         { m.MessagesTotal.Add(float64(n)) }
func (m *Metrics) PublishDuration(d time.Duration) { m.PublishDur.Observe(d.Seconds()) }

// ── ingest.Metrics ──

func (m *Metrics) FetchError(source, symbol string) {
	m.FetchErrors.WithLabelValues(source, symbol).Inc()
}

func (m *Metrics) BreakerState(symbol string, state int) {
	m.BreakerGauge.WithLabelValues(symbol).Set(float64(state))
}

func (m *Metrics) PollDuration(d time.Duration) { m.PollDur.Observe(d.Seconds()) }
