// Package kafka publishes signal lifecycle events (signal, gale_continue,
// gale_result, signal_cancelled) to a Kafka topic, keyed by symbol so each
// symbol's lifecycle stays ordered within a partition.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"trading-signalsv1/internal/hub"
	"trading-signalsv1/internal/model"
)

// Config configures the lifecycle sink.
type Config struct {
	Brokers      []string
	Topic        string
	RequiredAcks int // -1 all, 0 none, 1 leader
	WriteTimeout time.Duration
	BatchTimeout time.Duration
	Buffer       int
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink is a hub observer forwarding lifecycle events to Kafka.
type Sink struct {
	*hub.Async

	topic  string
	writer messageWriter
}

// NewSink builds the kafka-go writer. Call Run to start publishing.
func NewSink(cfg Config, log zerolog.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  kafka.Gzip,
		MaxAttempts:  3,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: cfg.BatchTimeout,
	}
	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("kafka sink configured")
	return newSink(cfg.Topic, w, cfg.Buffer, log), nil
}

func newSink(topic string, w messageWriter, buffer int, log zerolog.Logger) *Sink {
	s := &Sink{topic: topic, writer: w}
	s.Async = hub.NewAsync("kafka-sink", buffer, 100, IsLifecycle, s.publish, log)
	return s
}

// IsLifecycle reports whether msg belongs on the lifecycle topic.
func IsLifecycle(msg hub.Message) bool {
	switch msg.Type {
	case model.EventSignal, model.EventGaleContinue, model.EventGaleResult, model.EventSignalCancelled:
		return true
	}
	return false
}

func (s *Sink) publish(ctx context.Context, batch []hub.Message) error {
	msgs := make([]kafka.Message, len(batch))
	for i, m := range batch {
		msgs[i] = kafka.Message{
			Key:   []byte(m.Symbol),
			Value: m.Data,
			Time:  time.UnixMilli(m.ServerTime),
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(m.Type)},
			},
		}
	}
	return s.writer.WriteMessages(ctx, msgs...)
}

// Shutdown closes the underlying writer. Call after Run has returned.
func (s *Sink) Shutdown() error {
	return s.writer.Close()
}
