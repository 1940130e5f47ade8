// Package redis mirrors published events into Redis and persists operator
// control state.
//
// Key layout (prefix defaults to "pub"):
//
//	PUBLISH <prefix>:<type>:<symbol>          every message
//	XADD    <prefix>:stream:lifecycle         signal, gale_continue, gale_result, signal_cancelled
//	SET     <prefix>:latest:<type>[:<symbol>] signal, gale_result, bot_status
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"trading-signalsv1/internal/breaker"
	"trading-signalsv1/internal/hub"
	"trading-signalsv1/internal/model"
)

const (
	lifecycleMaxLen  = 10000
	defaultLatestTTL = 30 * time.Minute
	writeTimeout     = 2 * time.Second
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
	Prefix   string
}

// Dial connects and pings the server.
func Dial(ctx context.Context, cfg Config, log zerolog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info().Str("addr", cfg.Addr).Msg("redis connected")
	return client, nil
}

type command struct {
	op     string // publish, xadd, set
	key    string
	value  string
	fields map[string]interface{}
	maxLen int64
	ttl    time.Duration
}

// Mirror is a hub observer that writes messages to Redis in pipelined
// batches from its own goroutine. Writes go through a circuit breaker;
// batches arriving while it is open are dropped.
type Mirror struct {
	*hub.Async

	prefix string
	cb     *breaker.Breaker
	exec   func(ctx context.Context, cmds []command) error
}

// NewMirror creates a mirror over rdb. Call Run to start writing.
func NewMirror(rdb goredis.Cmdable, prefix string, buffer int, log zerolog.Logger) *Mirror {
	if prefix == "" {
		prefix = "pub"
	}
	m := &Mirror{
		prefix: prefix,
		cb:     breaker.New(5, 10*time.Second, nil),
	}
	m.exec = func(ctx context.Context, cmds []command) error { return pipelined(ctx, rdb, cmds) }
	m.Async = hub.NewAsync("redis-mirror", buffer, 200, nil, m.flush, log)
	m.cb.OnStateChange = func(from, to breaker.State) {
		log.Warn().Str("component", "redis-mirror").Str("from", from.String()).Str("to", to.String()).Msg("circuit state changed")
	}
	return m
}

func (m *Mirror) flush(ctx context.Context, batch []hub.Message) error {
	cmds := make([]command, 0, 2*len(batch))
	for _, msg := range batch {
		cmds = append(cmds, m.commands(msg)...)
	}
	return m.cb.Execute(func() error {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return m.exec(wctx, cmds)
	})
}

// commands maps one message to its Redis writes.
func (m *Mirror) commands(msg hub.Message) []command {
	data := string(msg.Data)
	channel := m.prefix + ":" + string(msg.Type)
	if msg.Symbol != "" {
		channel += ":" + msg.Symbol
	}
	cmds := []command{{op: "publish", key: channel, value: data}}

	switch msg.Type {
	case model.EventSignal, model.EventGaleContinue, model.EventGaleResult, model.EventSignalCancelled:
		cmds = append(cmds, command{
			op:     "xadd",
			key:    m.prefix + ":stream:lifecycle",
			maxLen: lifecycleMaxLen,
			fields: map[string]interface{}{"type": string(msg.Type), "symbol": msg.Symbol, "data": data},
		})
	}

	switch msg.Type {
	case model.EventSignal, model.EventGaleResult:
		cmds = append(cmds, command{op: "set", key: m.prefix + ":latest:" + string(msg.Type) + ":" + msg.Symbol, value: data, ttl: defaultLatestTTL})
	case model.EventBotStatus:
		cmds = append(cmds, command{op: "set", key: m.prefix + ":latest:" + string(msg.Type), value: data})
	}
	return cmds
}

func pipelined(ctx context.Context, rdb goredis.Cmdable, cmds []command) error {
	pipe := rdb.Pipeline()
	for _, c := range cmds {
		switch c.op {
		case "publish":
			pipe.Publish(ctx, c.key, c.value)
		case "xadd":
			pipe.XAdd(ctx, &goredis.XAddArgs{
				Stream: c.key,
				MaxLen: c.maxLen,
				Approx: true,
				Values: c.fields,
			})
		case "set":
			pipe.Set(ctx, c.key, c.value, c.ttl)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}
