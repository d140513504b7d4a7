package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

// reader is the subset of *kafka.Reader used by Source.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SourceConfig configures a Source.
type SourceConfig struct {
	Endpoint Endpoint
	Topic    string
	GroupID  string
	// PollWindow bounds how long Receive waits for the first message.
	PollWindow time.Duration
}

// Source implements domain.MessageSource with a consumer group. Offsets are
// committed only on Ack.
type Source struct {
	r      reader
	window time.Duration

	mu      sync.Mutex
	pending map[string]kafka.Message
}

// NewSource creates a consumer-group reader on the topic.
func NewSource(cfg SourceConfig) (*Source, error) {
	if len(cfg.Endpoint.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if cfg.Topic == "" || cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka: topic and group id are required")
	}

	dialer := &kafka.Dialer{
		Timeout:       10 * time.Second,
		DualStack:     true,
		SASLMechanism: cfg.Endpoint.SASL,
		TLS:           cfg.Endpoint.TLS,
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Endpoint.Brokers,
		Dialer:         dialer,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
	})
	return newSource(r, cfg.PollWindow), nil
}

func newSource(r reader, window time.Duration) *Source {
	if window <= 0 {
		window = 2 * time.Second
	}
	return &Source{r: r, window: window, pending: make(map[string]kafka.Message)}
}

// Receive fetches the next message. It returns an empty slice when none
// arrives within the poll window.
func (s *Source) Receive(ctx context.Context) ([]domain.QueueMessage, error) {
	pollCtx, cancel := context.WithTimeout(ctx, s.window)
	defer cancel()

	m, err := s.r.FetchMessage(pollCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("kafka: fetch: %w", err)
	}

	id := messageID(m)
	s.mu.Lock()
	s.pending[id] = m
	s.mu.Unlock()

	return []domain.QueueMessage{{ID: id, Key: string(m.Key), Payload: m.Value}}, nil
}

// Ack commits the offsets of the given messages.
func (s *Source) Ack(ctx context.Context, msgs []domain.QueueMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	s.mu.Lock()
	toCommit := make([]kafka.Message, 0, len(msgs))
	for _, qm := range msgs {
		if m, ok := s.pending[qm.ID]; ok {
			toCommit = append(toCommit, m)
			delete(s.pending, qm.ID)
		}
	}
	s.mu.Unlock()

	if len(toCommit) == 0 {
		return nil
	}
	if err := s.r.CommitMessages(ctx, toCommit...); err != nil {
		return fmt.Errorf("kafka: commit: %w", err)
	}
	return nil
}

// Close closes the reader.
func (s *Source) Close() error {
	return s.r.Close()
}

func messageID(m kafka.Message) string {
	return m.Topic + "/" + strconv.Itoa(m.Partition) + "/" + strconv.FormatInt(m.Offset, 10)
}

// Compile-time interface check.
var _ domain.MessageSource = (*Source)(nil)
