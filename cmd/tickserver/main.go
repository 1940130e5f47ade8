// cmd/tickserver is a demo websocket quote feed for running the signal
// engine with ingest.source=wsfeed and no broker credentials.
//
// One model.Tick per text frame:
//
//	{"symbol":"EURUSD","price":1.08342,"ts":1700000123}
//
// Config (env vars):
//
//	TICKS_ADDR      listen address (default ":9001")
//	TICKS_SYMBOLS   comma-separated symbols (default "EURUSD,EURJPY,GBPUSD")
//	TICKS_INTERVAL  broadcast interval (default "500ms")
//	TICKS_STEP      max relative move per tick (default 0.0005)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"trading-signalsv1/internal/ingest"
	"trading-signalsv1/internal/logger"
)

type settings struct {
	Addr     string        `envconfig:"ADDR" default:":9001"`
	Symbols  []string      `envconfig:"SYMBOLS" default:"EURUSD,EURJPY,GBPUSD"`
	Interval time.Duration `envconfig:"INTERVAL" default:"500ms"`
	Step     float64       `envconfig:"STEP" default:"0.0005"`
	LogLevel string        `envconfig:"LOG_LEVEL" default:"info"`
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop tick
		}
	}
}

func (h *hub) size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("upgrade failed")
			return
		}
		log.Info().Str("remote", r.RemoteAddr).Int("clients", h.size()+1).Msg("client connected")

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Info().Str("remote", r.RemoteAddr).Msg("client disconnected")
		}()

		// Reader: detect client close so the write loop ends.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister(conn)
					return
				}
			}
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Tick generator ──────────────────────────────────────────────────────────

func runGenerator(ctx context.Context, h *hub, sim *ingest.Sim, symbols []string, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, sym := range symbols {
			t, err := sim.Fetch(ctx, sym)
			if err != nil {
				return
			}
			b, err := json.Marshal(t)
			if err != nil {
				log.Warn().Err(err).Str("symbol", sym).Msg("encode tick")
				continue
			}
			h.broadcast(b)
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	var s settings
	if err := envconfig.Process("TICKS", &s); err != nil {
		boot := logger.Init("tickserver", logger.Options{})
		boot.Fatal().Err(err).Msg("config")
	}
	log := logger.Init("tickserver", logger.Options{Level: s.LogLevel})
	if len(s.Symbols) == 0 {
		log.Fatal().Msg("no symbols configured via TICKS_SYMBOLS")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := newHub()
	sim := ingest.NewSim(time.Now().UnixNano(), s.Step, nil)
	go runGenerator(ctx, h, sim, s.Symbols, s.Interval, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h, log))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"tickserver","clients":%d}`+"\n", h.size())
	})
	srv := &http.Server{Addr: s.Addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", s.Addr).Strs("symbols", s.Symbols).Dur("interval", s.Interval).
		Msgf("listening (ws://localhost%s/ws)", s.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("stopped")
}
