package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trading-signalsv1/config"
	"trading-signalsv1/internal/control"
	"trading-signalsv1/internal/hub"
	"trading-signalsv1/internal/ingest"
	"trading-signalsv1/internal/logger"
	"trading-signalsv1/internal/markethours"
	"trading-signalsv1/internal/metrics"
	"trading-signalsv1/internal/model"
	"trading-signalsv1/internal/notification"
	"trading-signalsv1/internal/pipeline"
	"trading-signalsv1/internal/store/kafka"
	redisstore "trading-signalsv1/internal/store/redis"
	sqlitestore "trading-signalsv1/internal/store/sqlite"
	"trading-signalsv1/internal/strategy"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		boot := logger.Init("signalengine", logger.Options{})
		boot.Fatal().Err(err).Msg("config")
	}
	log := logger.Init(cfg.Service, logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log.Info().Strs("symbols", cfg.Market.Symbols).Ints("tfs", cfg.Market.Timeframes).
		Str("source", cfg.Ingest.Source).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	health := metrics.NewHealthStatus()
	health.SetSymbols(cfg.Market.Symbols)
	health.StaleAfter = 3 * cfg.Ingest.PollInterval
	prom := metrics.NewMetrics(reg, health)

	h := hub.New(hub.WithLogger(log), hub.WithMetrics(prom))

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	// ---- Redis: mirror + control state ----
	var (
		rdb      *goredis.Client
		mirror   *redisstore.Mirror
		ctlStore model.ControlStore
	)
	if cfg.Redis.Enabled {
		rdb, err = redisstore.Dial(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, continuing without mirror and control persistence")
			health.SetRedis(true, false)
		} else {
			health.SetRedis(true, true)
			mirror = redisstore.NewMirror(rdb, cfg.Redis.Prefix, 4096, log)
			ctlStore = redisstore.NewControlStore(rdb, "")
			goRun(func() { mirror.Run(ctx) })
		}
	}

	// ---- Kafka lifecycle sink ----
	var sink *kafka.Sink
	if cfg.Kafka.Enabled {
		sink, err = kafka.NewSink(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			RequiredAcks: cfg.Kafka.RequiredAcks,
			WriteTimeout: cfg.Kafka.WriteTimeout,
			Buffer:       4096,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("kafka sink")
		}
		goRun(func() { sink.Run(ctx) })
	}

	// ---- SQLite history ----
	var (
		writer *sqlitestore.Writer
		reader *sqlitestore.Reader
		sqlDB  *sql.DB
	)
	if cfg.SQLite.Enabled {
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Fatal().Err(err).Str("dir", dir).Msg("sqlite data dir")
			}
		}
		reader, err = sqlitestore.NewReader(cfg.SQLite.Path, log)
		if err != nil {
			log.Warn().Err(err).Msg("history reader unavailable, starting cold")
		} else {
			defer reader.Close()
		}
		writer, err = sqlitestore.New(sqlitestore.WriterConfig{
			DBPath:        cfg.SQLite.Path,
			BatchSize:     cfg.SQLite.BatchSize,
			FlushInterval: cfg.SQLite.FlushInterval,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("sqlite writer")
		}
		sqlDB = writer.DB()
		health.SetSQLite(true, true)
	}
	health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)

	// ---- Strategy & pipeline ----
	strat, err := strategy.New(cfg.Strategy.Name, cfg.Strategy.Params, strategy.Options{
		MinHistory:   cfg.Strategy.MinHistory,
		RequireColor: cfg.Strategy.RequireColor,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("strategy")
	}

	tfs := make([]model.Timeframe, len(cfg.Market.Timeframes))
	for i, tf := range cfg.Market.Timeframes {
		tfs[i] = model.Timeframe(tf)
	}
	pcfg := pipeline.Config{
		Symbols:         cfg.Market.Symbols,
		ActiveSymbol:    cfg.Market.ActiveSymbol,
		Timeframes:      tfs,
		SignalTimeframe: model.Timeframe(cfg.Market.SignalTimeframe),
		HistorySize:     cfg.Market.HistorySize,
		Indicators:      cfg.IndicatorSpecs(),
		Strategy: strat,
		Martingale: model.Martingale{
			MaxGales:     cfg.Gale.MaxGales,
			InitialStake: cfg.Gale.InitialStake,
			Multiplier:   cfg.Gale.Multiplier,
		},
		Payout:                decimal.NewFromFloat(cfg.Gale.Payout),
		IndependentDirections: cfg.Gale.IndependentDirections,
		DisplayDelay:          cfg.Gale.DisplayDelay,
		EvalGapLimit:          cfg.Gale.EvalGapLimit,
		Store:                 ctlStore,
		Logger:                log,
		Metrics:               prom,
	}
	if writer != nil {
		pcfg.Sink = writer
	}
	eng, err := pipeline.New(pcfg, h)
	if err != nil {
		log.Fatal().Err(err).Msg("pipeline")
	}
	if err := eng.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("control state not restored")
	}
	if reader != nil {
		eng.Seed(ctx, reader)
	}
	goRun(func() { eng.Run(ctx) })

	// Sinks attach after Run so they receive the replay like any client.
	if mirror != nil {
		if err := eng.Attach(ctx, mirror); err != nil {
			log.Warn().Err(err).Msg("redis mirror not attached")
		}
	}
	if sink != nil {
		if err := eng.Attach(ctx, sink); err != nil {
			log.Warn().Err(err).Msg("kafka sink not attached")
		}
	}
	if cfg.Notify.Enabled {
		alerter := notification.NewAlerter(buildNotifier(cfg, log), cfg.Notify.Buffer, log)
		goRun(func() { alerter.Run(ctx) })
		if err := eng.Attach(ctx, alerter); err != nil {
			log.Warn().Err(err).Msg("alerter not attached")
		}
	}
	if writer != nil {
		goRun(func() { writer.Run(ctx) })
	}

	// ---- Tick source & poller ----
	var src model.TickSource
	switch cfg.Ingest.Source {
	case "wsfeed":
		feed, err := ingest.NewWSFeed(ingest.WSFeedConfig{
			URL:         cfg.Ingest.FeedURL,
			MaxQuoteAge: cfg.Ingest.MaxQuoteAge,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("wsfeed")
		}
		feed.OnConnect = func() { health.SetFeedConnected(true) }
		feed.OnReconnect = func() { health.SetFeedConnected(false) }
		goRun(func() { feed.Start(ctx) })
		src = feed
	default:
		src = ingest.NewSim(time.Now().UnixNano(), 0, nil)
		health.SetFeedConnected(true)
	}

	icfg := ingest.Config{
		Interval:     cfg.Ingest.PollInterval,
		FetchTimeout: cfg.Ingest.FetchTimeout,
		MaxErrors:    cfg.Ingest.MaxErrors,
		Cooldown:     cfg.Ingest.Cooldown,
		Logger:       log,
		Metrics:      prom,
	}
	if cfg.Ingest.MarketHours {
		icfg.MarketOpen = markethours.IsMarketOpen
		log.Info().Msg(markethours.StatusString(time.Now()))
	}
	poller := ingest.NewPoller(src, eng, icfg)
	goRun(func() {
		if err := poller.Run(ctx); err != nil {
			log.Error().Err(err).Msg("poller stopped")
		}
	})

	// ---- Control server ----
	srv := control.New(control.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		SendBuffer:   cfg.HTTP.SendBuffer,
		TOTPSecret:   cfg.Auth.TOTPSecret,
		Timeframes:   tfs,
		Gatherer:     reg,
		Health:       health,
	}, eng, h, log)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("control server failed")
			stop()
		}
	}()

	log.Info().Str("http", cfg.HTTP.Addr).Str("active", cfg.Market.ActiveSymbol).
		Str("strategy", strat.Name()).Msg("signal engine ready")

	// ---- Wait for shutdown signal ----
	<-ctx.Done()
	log.Info().Msg("shutdown signal received, cleaning up...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("control server shutdown")
	}

	wg.Wait()
	h.Close()
	shutdownSinks(log, sink, writer, rdb)
	log.Info().Msg("shutdown complete")
}

// buildNotifier picks the configured alert channels, falling back to the log.
func buildNotifier(cfg *config.Config, log zerolog.Logger) notification.Notifier {
	var backends notification.Multi
	if cfg.Notify.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout, log))
	}
	if cfg.Notify.TelegramToken != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID, cfg.Notify.Timeout, log))
	}
	if len(backends) == 0 {
		return notification.NewLogNotifier(log)
	}
	return backends
}

// shutdownSinks closes the external writers once their goroutines have
// drained.
func shutdownSinks(log zerolog.Logger, sink *kafka.Sink, writer *sqlitestore.Writer, rdb *goredis.Client) {
	if sink != nil {
		if err := sink.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("kafka writer close")
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			log.Warn().Err(err).Msg("sqlite close")
		}
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close")
		}
	}
}
