package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"trading-signalsv1/internal/model"
)

// WSFeedConfig configures a WSFeed.
type WSFeedConfig struct {
	// URL of the quote stream, e.g. "ws://localhost:9001/ws".
	URL string

	// ReconnectDelay is the initial backoff. Defaults to 2s.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	// MaxQuoteAge rejects cached quotes older than this. Zero disables.
	MaxQuoteAge time.Duration

	Now func() time.Time
}

func (c *WSFeedConfig) defaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// WSFeed streams model.Tick JSON frames from a websocket server and keeps
// the latest quote per symbol. Fetch serves from that cache.
//
// Wire format, one tick per text frame:
//
//	{"symbol":"EURUSD","price":1.08342,"ts":1700000123}
type WSFeed struct {
	cfg WSFeedConfig
	log zerolog.Logger

	mu     sync.RWMutex
	quotes map[string]quote

	// OnConnect is called after every successful dial.
	OnConnect func()

	// OnReconnect is called after every disconnect, before the backoff.
	OnReconnect func()
}

type quote struct {
	tick     model.Tick
	received time.Time
}

// NewWSFeed validates the URL and returns an idle feed; call Start.
func NewWSFeed(cfg WSFeedConfig, log zerolog.Logger) (*WSFeed, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("ingest: feed url scheme %q, want ws or wss", u.Scheme)
	}
	return &WSFeed{
		cfg:    cfg,
		log:    log.With().Str("component", "wsfeed").Logger(),
		quotes: make(map[string]quote),
	}, nil
}

// Name implements model.TickSource.
func (f *WSFeed) Name() string { return "wsfeed" }

// Fetch returns the latest cached quote for symbol.
func (f *WSFeed) Fetch(ctx context.Context, symbol string) (model.Tick, error) {
	if err := ctx.Err(); err != nil {
		return model.Tick{}, err
	}
	f.mu.RLock()
	q, ok := f.quotes[symbol]
	f.mu.RUnlock()
	if !ok {
		return model.Tick{}, fmt.Errorf("%w: %s", ErrNoQuote, symbol)
	}
	if f.cfg.MaxQuoteAge > 0 {
		if age := f.cfg.Now().Sub(q.received); age > f.cfg.MaxQuoteAge {
			return model.Tick{}, fmt.Errorf("%w: %s age %s", ErrStaleQuote, symbol, age.Truncate(time.Second))
		}
	}
	return q.tick, nil
}

// Start connects and reads until ctx is cancelled, reconnecting with
// exponential backoff on disconnect.
func (f *WSFeed) Start(ctx context.Context) error {
	delay := f.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := f.runOnce(ctx)
		if err == nil {
			return nil
		}
		if connected {
			delay = f.cfg.ReconnectDelay
		}

		f.log.Warn().Err(err).Dur("retry_in", delay).Msg("feed disconnected")
		if f.OnReconnect != nil {
			f.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// runOnce dials once and reads until disconnect. A nil error means ctx
// was cancelled.
func (f *WSFeed) runOnce(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, err
	}
	defer conn.Close()
	f.log.Info().Str("url", f.cfg.URL).Msg("feed connected")
	if f.OnConnect != nil {
		f.OnConnect()
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}
		f.handle(raw)
	}
}

func (f *WSFeed) handle(raw []byte) {
	var t model.Tick
	if err := json.Unmarshal(raw, &t); err != nil {
		f.log.Debug().Err(err).Bytes("raw", raw).Msg("unparseable frame")
		return
	}
	if !t.Valid() {
		f.log.Debug().Str("symbol", t.Symbol).Msg("invalid tick skipped")
		return
	}

	f.mu.Lock()
	if prev, ok := f.quotes[t.Symbol]; !ok || t.TS >= prev.tick.TS {
		f.quotes[t.Symbol] = quote{tick: t, received: f.cfg.Now()}
	}
	f.mu.Unlock()
}
