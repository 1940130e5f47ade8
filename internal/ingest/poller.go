// Package ingest polls a quote source for every watched symbol and feeds
// the resulting ticks to the pipeline in deterministic symbol order.
package ingest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trading-signalsv1/internal/breaker"
	"trading-signalsv1/internal/model"
)

var (
	// ErrSymbolMismatch is recorded when a source answers for another symbol.
	ErrSymbolMismatch = errors.New("ingest: tick symbol mismatch")
	// ErrNoQuote is returned by a source that has no quote for the symbol yet.
	ErrNoQuote = errors.New("ingest: no quote")
	// ErrStaleQuote is returned when the cached quote is older than allowed.
	ErrStaleQuote = errors.New("ingest: stale quote")
)

// Sink is the pipeline side of the poller.
type Sink interface {
	PolledSymbols(ctx context.Context) ([]string, error)
	SubmitBatch(ctx context.Context, ticks []model.Tick) error
}

// Metrics receives ingest counters. Implemented by internal/metrics.
type Metrics interface {
	FetchError(source, symbol string)
	BreakerState(symbol string, state int)
	PollDuration(d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) FetchError(string, string)  {}
func (nopMetrics) BreakerState(string, int)   {}
func (nopMetrics) PollDuration(time.Duration) {}

// Config configures a Poller.
type Config struct {
	Interval     time.Duration // default 3s
	FetchTimeout time.Duration // default 2s
	MaxErrors    int           // default 5
	Cooldown     time.Duration // default 60s

	// MarketOpen, when set, gates every cycle; polls are skipped while it
	// reports false.
	MarketOpen func(time.Time) bool

	Now     func() time.Time
	Logger  zerolog.Logger
	Metrics Metrics
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 3 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 2 * time.Second
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Metrics == nil {
		c.Metrics = nopMetrics{}
	}
}

// Poller fetches every polled symbol concurrently once per interval.
type Poller struct {
	src  model.TickSource
	sink Sink
	cfg  Config
	log  zerolog.Logger

	closed bool

	mu       sync.Mutex
	breakers map[string]*breaker.Breaker
}

// NewPoller creates a poller reading from src and submitting to sink.
func NewPoller(src model.TickSource, sink Sink, cfg Config) *Poller {
	cfg.defaults()
	return &Poller{
		src:      src,
		sink:     sink,
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "ingest").Str("source", src.Name()).Logger(),
		breakers: make(map[string]*breaker.Breaker),
	}
}

// Run polls immediately, then every interval, until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().Dur("interval", p.cfg.Interval).Msg("poller started")
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Warn().Err(err).Msg("poll cycle failed")
		}
		select {
		case <-ctx.Done():
			p.log.Info().Msg("poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll runs one cycle: fetch every allowed symbol concurrently, then
// submit the successful ticks as one batch in symbol order.
func (p *Poller) Poll(ctx context.Context) error {
	start := p.cfg.Now()
	if p.cfg.MarketOpen != nil && !p.cfg.MarketOpen(start) {
		if !p.closed {
			p.log.Info().Msg("market closed, polling paused")
			p.closed = true
		}
		return nil
	}
	if p.closed {
		p.log.Info().Msg("market open, polling resumed")
		p.closed = false
	}
	symbols, err := p.sink.PolledSymbols(ctx)
	if err != nil {
		return err
	}

	allowed := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if err := p.breakerFor(sym).Allow(); err != nil {
			p.log.Debug().Str("symbol", sym).Msg("cooling down, skipped")
			continue
		}
		allowed = append(allowed, sym)
	}

	ticks := make([]model.Tick, len(allowed))
	errs := make([]error, len(allowed))
	var wg sync.WaitGroup
	for i, sym := range allowed {
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()
			fctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
			defer cancel()
			ticks[i], errs[i] = p.src.Fetch(fctx, sym)
		}(i, sym)
	}
	wg.Wait()

	batch := make([]model.Tick, 0, len(allowed))
	for i, sym := range allowed {
		b := p.breakerFor(sym)
		if errs[i] == nil && ticks[i].Symbol != sym {
			errs[i] = ErrSymbolMismatch
		}
		b.Record(errs[i])
		if errs[i] != nil {
			p.cfg.Metrics.FetchError(p.src.Name(), sym)
			p.log.Warn().Err(errs[i]).Str("symbol", sym).Int("failures", b.Failures()).Msg("fetch failed")
			continue
		}
		batch = append(batch, ticks[i])
	}

	p.cfg.Metrics.PollDuration(p.cfg.Now().Sub(start))
	return p.sink.SubmitBatch(ctx, batch)
}

// Cooling returns the symbols whose breaker is currently open.
func (p *Poller) Cooling() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for sym, b := range p.breakers {
		if b.CurrentState() == breaker.StateOpen {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

func (p *Poller) breakerFor(symbol string) *breaker.Breaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.breakers[symbol]
	if !ok {
		b = breaker.New(p.cfg.MaxErrors, p.cfg.Cooldown, p.cfg.Now)
		b.OnStateChange = func(from, to breaker.State) {
			p.cfg.Metrics.BreakerState(symbol, int(to))
			p.log.Info().Str("symbol", symbol).Str("from", from.String()).Str("to", to.String()).Msg("breaker state changed")
		}
		p.breakers[symbol] = b
	}
	return b
}
