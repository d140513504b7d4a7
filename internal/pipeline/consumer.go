package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/deltafeed/internal/domain"
	"github.com/alanyoungcy/deltafeed/internal/metrics"
)

// Consumer reads DeltaRecords from the queue and stores them. A message is
// acknowledged once stored, or immediately when it cannot be decoded; store
// failures leave it pending for redelivery.
type Consumer struct {
	source  domain.MessageSource
	store   domain.DeltaRecordStore
	backoff time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewConsumer creates a Consumer. m may be nil.
func NewConsumer(source domain.MessageSource, store domain.DeltaRecordStore, m *metrics.Metrics, logger *slog.Logger) *Consumer {
	return &Consumer{
		source:  source,
		store:   store,
		backoff: 2 * time.Second,
		metrics: m,
		logger:  logger.With(slog.String("component", "record_consumer")),
	}
}

// Poll receives one batch and processes it. It returns the number of
// messages acknowledged.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	msgs, err := c.source.Receive(ctx)
	if err != nil {
		return 0, fmt.Errorf("pipeline: receive: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	var (
		ack      []domain.QueueMessage
		storeErr error
	)
	for _, m := range msgs {
		var rec domain.DeltaRecord
		if err := json.Unmarshal(m.Payload, &rec); err != nil || rec.Symbol == "" {
			c.metrics.RecordStored("rejected")
			c.logger.WarnContext(ctx, "dropping undecodable record",
				slog.String("id", m.ID),
				slog.Int("bytes", len(m.Payload)),
			)
			ack = append(ack, m)
			continue
		}

		inserted, err := c.store.Insert(ctx, rec)
		if err != nil {
			storeErr = err
			c.logger.ErrorContext(ctx, "store record failed",
				slog.String("id", m.ID),
				slog.String("symbol", rec.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		if inserted {
			c.metrics.RecordStored("inserted")
		} else {
			c.metrics.RecordStored("duplicate")
		}
		ack = append(ack, m)
	}

	if err := c.source.Ack(ctx, ack); err != nil {
		return 0, fmt.Errorf("pipeline: ack: %w", err)
	}
	if storeErr != nil {
		return len(ack), fmt.Errorf("pipeline: store: %w", storeErr)
	}
	return len(ack), nil
}

// Run polls until the context is cancelled, backing off after errors.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("record consumer started")
	for {
		if ctx.Err() != nil {
			c.logger.Info("record consumer stopped")
			return ctx.Err()
		}

		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("poll failed", slog.String("error", err.Error()))

			select {
			case <-ctx.Done():
			case <-time.After(c.backoff):
			}
		}
	}
}
