// Package control serves the operator surface of the signal engine: the
// live websocket feed, REST status and control endpoints, /metrics and
// /healthz.
package control

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"trading-signalsv1/internal/gale"
	"trading-signalsv1/internal/hub"
	"trading-signalsv1/internal/logger"
	"trading-signalsv1/internal/model"
)

// HeaderOTP carries the operator's one-time code on guarded endpoints.
const HeaderOTP = "X-Control-OTP"

// Engine is the part of the pipeline the control surface drives.
type Engine interface {
	Status(ctx context.Context) (model.BotStatus, error)
	StartScanning(ctx context.Context) error
	StopScanning(ctx context.Context) error
	// Configure applies selected symbols and/or martingale settings
	// atomically; a nil argument leaves that part unchanged.
	Configure(ctx context.Context, symbols []string, m *model.Martingale) error
	ChangeActiveSymbol(ctx context.Context, symbol string) error
	ActiveSignals(ctx context.Context) ([]model.Signal, error)
	Stats(ctx context.Context) (gale.Stats, error)
	CandleCounts(ctx context.Context) (map[string]map[string]int, error)
	Attach(ctx context.Context, obs hub.Observer) error
}

// Config configures the HTTP server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	TOTPSecret   string // empty disables the OTP guard
	Timeframes   []model.Timeframe

	Gatherer prometheus.Gatherer // nil serves no /metrics
	Health   http.Handler        // nil serves no /healthz
	Now      func() time.Time
}

// Server is the echo-based control server.
type Server struct {
	cfg      Config
	e        *echo.Echo
	engine   Engine
	hub      *hub.Hub
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// New builds the server and registers all routes.
func New(cfg Config, eng Engine, h *hub.Hub, log zerolog.Logger) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		cfg:    cfg,
		e:      echo.New(),
		engine: eng,
		hub:    h,
		log:    log.With().Str("component", "control").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin:       func(r *http.Request) bool { return true },
			EnableCompression: true,
		},
	}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.Server.ReadTimeout = cfg.ReadTimeout
	s.e.Server.WriteTimeout = cfg.WriteTimeout

	s.e.Use(middleware.Recover())
	s.e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, HeaderOTP},
	}))
	s.e.Use(s.requestLog)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.e.GET("/ws/live", s.handleLive)

	api := s.e.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/signals/live", s.handleLiveSignals)
	api.GET("/bot/status", s.handleBotStatus)
	api.GET("/bot/stats", s.handleStats)
	api.POST("/bot/start", s.handleStart, s.requireOTP)
	api.POST("/bot/stop", s.handleStop, s.requireOTP)
	api.POST("/bot/config", s.handleConfig, s.requireOTP)
	api.POST("/bot/change-symbol", s.handleChangeSymbol)

	if s.cfg.Gatherer != nil {
		s.e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	if s.cfg.Health != nil {
		s.e.GET("/healthz", echo.WrapHandler(s.cfg.Health))
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Start listens on cfg.Addr until Shutdown. It never returns nil.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("control server listening")
	err := s.e.Start(s.cfg.Addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// requestLog tags each request with a trace id and logs it once served.
func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		tid := req.Header.Get(echo.HeaderXRequestID)
		if tid == "" {
			tid = uuid.NewString()
		}
		c.SetRequest(req.WithContext(logger.WithTraceID(req.Context(), tid)))
		c.Response().Header().Set(echo.HeaderXRequestID, tid)

		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		l := logger.FromContext(c.Request().Context(), s.log)
		l.Debug().
			Str("method", req.Method).
			Str("path", c.Path()).
			Int("status", c.Response().Status).
			Dur("latency", time.Since(start)).
			Msg("request")
		return nil
	}
}

// requireOTP rejects guarded requests without a valid TOTP code.
func (s *Server) requireOTP(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.TOTPSecret == "" {
			return next(c)
		}
		code := c.Request().Header.Get(HeaderOTP)
		if code == "" || !totp.Validate(code, s.cfg.TOTPSecret) {
			s.log.Warn().Str("path", c.Path()).Str("remote", c.RealIP()).Msg("control request rejected: bad otp")
			return errorResponse(c, http.StatusUnauthorized, "missing or invalid one-time code")
		}
		return next(c)
	}
}
