package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"trading-signalsv1/internal/indicator"
)

// EnvPrefix is the prefix for environment overrides, e.g. SIGNALS_HTTP_ADDR.
const EnvPrefix = "SIGNALS"

// Config holds all application configuration.
// Values are resolved as: struct defaults → YAML file → environment.
type Config struct {
	Service string `yaml:"service" default:"signalengine" validate:"required"`

	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	} `yaml:"log"`

	HTTP struct {
		Addr            string        `yaml:"addr" default:":8080" validate:"required"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"5s"`
		SendBuffer      int           `yaml:"send_buffer" default:"256" validate:"gt=0"`
	} `yaml:"http"`

	Market struct {
		Symbols         []string `yaml:"symbols" default:"[\"EURUSD\",\"EURJPY\"]" validate:"required,min=1,dive,required"`
		ActiveSymbol    string   `yaml:"active_symbol" default:"EURUSD" validate:"required"`
		Timeframes      []int    `yaml:"timeframes" default:"[60,300,900]" validate:"required,min=1,dive,gt=0"`
		SignalTimeframe int      `yaml:"signal_timeframe" default:"300" validate:"gt=0"`
		HistorySize     int      `yaml:"history_size" default:"500" validate:"gt=0"`
	} `yaml:"market"`

	Indicators struct {
		EMAFast    int `yaml:"ema_fast" default:"20" validate:"gt=0"`
		EMASlow    int `yaml:"ema_slow" default:"50" validate:"gt=0"`
		RSI        int `yaml:"rsi" default:"14" validate:"gt=0"`
		MACDFast   int `yaml:"macd_fast" default:"12" validate:"gt=0"`
		MACDSlow   int `yaml:"macd_slow" default:"26" validate:"gt=0"`
		MACDSignal int `yaml:"macd_signal" default:"9" validate:"gt=0"`
		// Extra indicators computed besides the standard set.
		Extra []ExtraIndicator `yaml:"extra" validate:"dive"`
	} `yaml:"indicators"`

	Strategy struct {
		Name         string             `yaml:"name" default:"ema_trend" validate:"required"`
		RequireColor bool               `yaml:"require_color" default:"true"`
		MinHistory   int                `yaml:"min_history" default:"10" validate:"gt=0"`
		Params       map[string]float64 `yaml:"params"`
	} `yaml:"strategy"`

	Gale struct {
		MaxGales              int           `yaml:"max_gales" default:"2" validate:"min=0,max=10"`
		InitialStake          float64       `yaml:"initial_stake" default:"5" validate:"gte=0.01,lte=100000"`
		Multiplier            float64       `yaml:"multiplier" default:"1" validate:"gte=1,lte=10"`
		Payout                float64       `yaml:"payout" default:"0.87" validate:"gt=0,lte=1"`
		IndependentDirections bool          `yaml:"independent_directions" default:"true"`
		DisplayDelay          time.Duration `yaml:"display_delay" default:"10s"`
		EvalGapLimit          int           `yaml:"eval_gap_limit" default:"3" validate:"gt=0"`
	} `yaml:"gale"`

	Ingest struct {
		Source       string        `yaml:"source" default:"sim" validate:"oneof=sim wsfeed"`
		PollInterval time.Duration `yaml:"poll_interval" default:"3s"`
		FetchTimeout time.Duration `yaml:"fetch_timeout" default:"2s"`
		MaxErrors    int           `yaml:"max_errors" default:"5" validate:"gt=0"`
		Cooldown     time.Duration `yaml:"cooldown" default:"60s"`
		FeedURL      string        `yaml:"feed_url" default:"ws://localhost:9001/ws"`
		MaxQuoteAge  time.Duration `yaml:"max_quote_age" default:"30s"`
		MarketHours  bool          `yaml:"market_hours"`
	} `yaml:"ingest"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"pub"`
	} `yaml:"redis"`

	Kafka struct {
		Enabled      bool          `yaml:"enabled"`
		Brokers      []string      `yaml:"brokers" default:"[\"localhost:9092\"]"`
		Topic        string        `yaml:"topic" default:"signals.lifecycle"`
		RequiredAcks int           `yaml:"required_acks" default:"1" validate:"oneof=-1 0 1"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
	} `yaml:"kafka"`

	SQLite struct {
		Enabled       bool          `yaml:"enabled"`
		Path          string        `yaml:"path" default:"data/candles.db"`
		BatchSize     int           `yaml:"batch_size" default:"100" validate:"gt=0"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"2s"`
	} `yaml:"sqlite"`

	Auth struct {
		TOTPSecret string `yaml:"totp_secret"`
	} `yaml:"auth"`

	Notify struct {
		Enabled        bool          `yaml:"enabled"`
		WebhookURL     string        `yaml:"webhook_url" validate:"omitempty,url"`
		TelegramToken  string        `yaml:"telegram_token"`
		TelegramChatID string        `yaml:"telegram_chat_id"`
		Timeout        time.Duration `yaml:"timeout" default:"10s"`
		Buffer         int           `yaml:"buffer" default:"256" validate:"gt=0"`
	} `yaml:"notify"`
}

// envOverrides lists the settings that may be overridden from the environment.
// Empty values leave the file/default value untouched.
type envOverrides struct {
	LogLevel     string   `envconfig:"LOG_LEVEL"`
	HTTPAddr     string   `envconfig:"HTTP_ADDR"`
	Symbols      []string `envconfig:"SYMBOLS"`
	ActiveSymbol string   `envconfig:"ACTIVE_SYMBOL"`
	Source       string   `envconfig:"INGEST_SOURCE"`
	FeedURL      string   `envconfig:"FEED_URL"`
	RedisAddr    string   `envconfig:"REDIS_ADDR"`
	RedisPass    string   `envconfig:"REDIS_PASSWORD"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	SQLitePath   string   `envconfig:"SQLITE_PATH"`
	TOTPSecret   string   `envconfig:"TOTP_SECRET"`
	WebhookURL   string   `envconfig:"NOTIFY_WEBHOOK_URL"`
	TGToken      string   `envconfig:"TELEGRAM_TOKEN"`
	TGChatID     string   `envconfig:"TELEGRAM_CHAT_ID"`
}

var validate = validator.New()

// Load builds the configuration. path may be empty or point at a missing
// file, in which case only defaults and environment apply.
func Load(path string) (*Config, error) {
	c := &Config{}
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, c); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("config env: %w", err)
	}
	setStr(&c.Log.Level, env.LogLevel)
	setStr(&c.HTTP.Addr, env.HTTPAddr)
	setStr(&c.Market.ActiveSymbol, env.ActiveSymbol)
	setStr(&c.Ingest.Source, env.Source)
	setStr(&c.Ingest.FeedURL, env.FeedURL)
	setStr(&c.Redis.Addr, env.RedisAddr)
	setStr(&c.Redis.Password, env.RedisPass)
	setStr(&c.SQLite.Path, env.SQLitePath)
	setStr(&c.Auth.TOTPSecret, env.TOTPSecret)
	setStr(&c.Notify.WebhookURL, env.WebhookURL)
	setStr(&c.Notify.TelegramToken, env.TGToken)
	setStr(&c.Notify.TelegramChatID, env.TGChatID)
	if len(env.Symbols) > 0 {
		c.Market.Symbols = env.Symbols
	}
	if len(env.KafkaBrokers) > 0 {
		c.Kafka.Brokers = env.KafkaBrokers
	}
	return nil
}

// ExtraIndicator adds one single-period indicator to every series.
type ExtraIndicator struct {
	Kind   string `yaml:"kind" validate:"oneof=SMA SMMA EMA RSI"`
	Period int    `yaml:"period" validate:"gt=0"`
}

// IndicatorSpecs returns the standard indicator set followed by the extras.
func (c *Config) IndicatorSpecs() []indicator.Spec {
	ic := c.Indicators
	specs := indicator.DefaultSpecs(ic.EMAFast, ic.EMASlow, ic.RSI, ic.MACDFast, ic.MACDSlow, ic.MACDSignal)
	for _, x := range ic.Extra {
		specs = append(specs, indicator.Spec{Kind: x.Kind, Period: x.Period})
	}
	return specs
}

// Validate runs struct validation plus the cross-field checks.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if !slices.Contains(c.Market.Symbols, c.Market.ActiveSymbol) {
		return fmt.Errorf("market.active_symbol %q not in market.symbols", c.Market.ActiveSymbol)
	}
	if !slices.Contains(c.Market.Timeframes, c.Market.SignalTimeframe) {
		return fmt.Errorf("market.signal_timeframe %d not in market.timeframes", c.Market.SignalTimeframe)
	}
	if c.Indicators.MACDFast >= c.Indicators.MACDSlow {
		return fmt.Errorf("indicators.macd_fast must be below macd_slow")
	}
	if _, err := indicator.NewEngine(c.IndicatorSpecs()); err != nil {
		return fmt.Errorf("indicators: %w", err)
	}
	if c.Ingest.Source == "wsfeed" && c.Ingest.FeedURL == "" {
		return fmt.Errorf("ingest.feed_url required for wsfeed source")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		return fmt.Errorf("notify.telegram_token and notify.telegram_chat_id must be set together")
	}
	return nil
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
