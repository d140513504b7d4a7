// Package kafka implements the domain message sink and source on a Kafka
// topic using segmentio/kafka-go.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

// writer is the subset of *kafka.Writer used by Sink.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SinkConfig configures a Sink.
type SinkConfig struct {
	Endpoint     Endpoint
	Topic        string
	WriteTimeout time.Duration
}

// Sink implements domain.MessageSink. Each Send is written synchronously as
// its own request; nothing is batched across events.
type Sink struct {
	w     writer
	topic string
}

// NewSink creates a Sink for the configured topic.
func NewSink(cfg SinkConfig) (*Sink, error) {
	if len(cfg.Endpoint.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Endpoint.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    1,
		BatchTimeout: time.Millisecond,
		WriteTimeout: timeout,
		MaxAttempts:  1,
	}
	if cfg.Endpoint.SASL != nil || cfg.Endpoint.TLS != nil {
		w.Transport = &kafka.Transport{
			SASL: cfg.Endpoint.SASL,
			TLS:  cfg.Endpoint.TLS,
		}
	}
	return &Sink{w: w, topic: cfg.Topic}, nil
}

// Send writes one message keyed by key, so records for a symbol share a
// partition.
func (s *Sink) Send(ctx context.Context, key string, payload []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", s.topic, err)
	}
	return nil
}

// Name returns the sink identifier.
func (s *Sink) Name() string {
	return "kafka:" + s.topic
}

// Close flushes and closes the writer.
func (s *Sink) Close() error {
	return s.w.Close()
}

// Compile-time interface check.
var _ domain.MessageSink = (*Sink)(nil)
