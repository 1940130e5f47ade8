package control

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"trading-signalsv1/internal/hub"
	"trading-signalsv1/internal/model"
)

type martingaleRequest struct {
	MaxGales     *int    `json:"max_gales" validate:"required,min=0,max=10"`
	InitialStake float64 `json:"initial_stake" validate:"required,gte=0.01,lte=100000"`
	Multiplier   float64 `json:"multiplier" default:"1" validate:"gte=1,lte=10"`
}

type configRequest struct {
	SelectedSymbols []string           `json:"selected_symbols" validate:"omitempty,dive,required"`
	Martingale      *martingaleRequest `json:"martingale_config"`
}

type changeSymbolRequest struct {
	Symbol string `json:"symbol" validate:"required"`
}

type statusView struct {
	Observers        int                       `json:"observers"`
	ScanningActive   bool                      `json:"scanning_active"`
	ActiveSymbol     string                    `json:"active_symbol"`
	Symbols          []string                  `json:"symbols"`
	Timeframes       []string                  `json:"timeframes"`
	ActiveSignals    int                       `json:"active_signals"`
	CandlesPerSymbol map[string]map[string]int `json:"candles_per_symbol"`
	PublishLatencyMs latencyView               `json:"publish_latency_ms"`
}

type latencyView struct {
	P50     float64 `json:"p50"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
	Samples int     `json:"samples"`
}

// handleLive upgrades to a websocket and attaches the client to the hub
// after the engine has replayed the current state to it.
func (s *Server) handleLive(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return nil
	}
	client := hub.NewClient(conn, s.cfg.SendBuffer, s.log)
	if err := s.engine.Attach(c.Request().Context(), client); err != nil {
		s.log.Warn().Err(err).Str("observer", client.ID()).Msg("ws attach failed")
		client.Close()
		conn.Close()
		return nil
	}
	client.Run(s.hub.Detach)
	return nil
}

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	st, err := s.engine.Status(ctx)
	if err != nil {
		return engineError(c, err)
	}
	signals, err := s.engine.ActiveSignals(ctx)
	if err != nil {
		return engineError(c, err)
	}
	counts, err := s.engine.CandleCounts(ctx)
	if err != nil {
		return engineError(c, err)
	}

	p50, p95, p99 := s.hub.Latency.Percentiles()
	labels := make([]string, len(s.cfg.Timeframes))
	for i, tf := range s.cfg.Timeframes {
		labels[i] = tf.Label()
	}
	return okResponse(c, statusView{
		Observers:        s.hub.Len(),
		ScanningActive:   st.ScanningActive,
		ActiveSymbol:     st.ActiveSymbol,
		Symbols:          st.Symbols,
		Timeframes:       labels,
		ActiveSignals:    len(signals),
		CandlesPerSymbol: counts,
		PublishLatencyMs: latencyView{P50: p50, P95: p95, P99: p99, Samples: s.hub.Latency.Count()},
	})
}

func (s *Server) handleLiveSignals(c echo.Context) error {
	signals, err := s.engine.ActiveSignals(c.Request().Context())
	if err != nil {
		return engineError(c, err)
	}
	if signals == nil {
		signals = []model.Signal{}
	}
	return okResponse(c, map[string]interface{}{
		"signals":   signals,
		"timestamp": s.cfg.Now().Unix(),
	})
}

func (s *Server) handleBotStatus(c echo.Context) error {
	st, err := s.engine.Status(c.Request().Context())
	if err != nil {
		return engineError(c, err)
	}
	return okResponse(c, st)
}

func (s *Server) handleStats(c echo.Context) error {
	st, err := s.engine.Stats(c.Request().Context())
	if err != nil {
		return engineError(c, err)
	}
	return okResponse(c, st)
}

func (s *Server) handleStart(c echo.Context) error {
	if err := s.engine.StartScanning(c.Request().Context()); err != nil {
		return engineError(c, err)
	}
	return s.handleBotStatus(c)
}

func (s *Server) handleStop(c echo.Context) error {
	if err := s.engine.StopScanning(c.Request().Context()); err != nil {
		return engineError(c, err)
	}
	return s.handleBotStatus(c)
}

// handleConfig updates the martingale and/or the selected symbols in one
// engine step; a request with any invalid part changes nothing.
func (s *Server) handleConfig(c echo.Context) error {
	req := &configRequest{}
	if errs := bindAndValidate(c, req); errs != nil {
		return badRequest(c, errs)
	}
	if req.SelectedSymbols == nil && req.Martingale == nil {
		return errorResponse(c, http.StatusBadRequest, "nothing to configure: send selected_symbols and/or martingale_config")
	}

	var m *model.Martingale
	if r := req.Martingale; r != nil {
		m = &model.Martingale{MaxGales: *r.MaxGales, InitialStake: r.InitialStake, Multiplier: r.Multiplier}
	}
	if err := s.engine.Configure(c.Request().Context(), req.SelectedSymbols, m); err != nil {
		return engineError(c, err)
	}
	return s.handleBotStatus(c)
}

func (s *Server) handleChangeSymbol(c echo.Context) error {
	req := &changeSymbolRequest{}
	if errs := bindAndValidate(c, req); errs != nil {
		return badRequest(c, errs)
	}
	if err := s.engine.ChangeActiveSymbol(c.Request().Context(), req.Symbol); err != nil {
		return engineError(c, err)
	}
	return s.handleBotStatus(c)
}
