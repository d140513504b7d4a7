package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

// defaultStreamMaxLen is the approximate maximum length for the record
// stream, enforced via XADD MAXLEN ~.
const defaultStreamMaxLen int64 = 100000

// StreamSink implements domain.MessageSink by appending each payload to a
// Redis stream.
type StreamSink struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// NewStreamSink creates a StreamSink writing to stream. maxLen <= 0 selects
// the default trim length.
func NewStreamSink(c *Client, stream string, maxLen int64) *StreamSink {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &StreamSink{rdb: c.Underlying(), stream: stream, maxLen: maxLen}
}

// Send appends one entry with fields "key" and "payload".
func (s *StreamSink) Send(ctx context.Context, key string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"key":     key,
			"payload": payload,
		},
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", s.stream, unavailable(err))
	}
	return nil
}

// Name returns the sink identifier.
func (s *StreamSink) Name() string {
	return "redis:" + s.stream
}

// Close is a no-op; the shared client is closed by its owner.
func (s *StreamSink) Close() error { return nil }

// StreamSource implements domain.MessageSource with a Redis consumer group.
// Entries delivered but not acknowledged before the next Receive are read
// again from the consumer's pending list. Receive is not safe for concurrent
// use.
type StreamSource struct {
	rdb      *redis.Client
	stream   string
	group    string
	consumer string
	count    int64
	block    time.Duration

	mu          sync.Mutex
	outstanding map[string]struct{}
	replay      bool
}

// StreamSourceConfig configures a StreamSource.
type StreamSourceConfig struct {
	Stream   string
	Group    string
	Consumer string
	Count    int
	Block    time.Duration
}

// NewStreamSource creates the consumer group if needed (starting at the
// beginning of the stream) and returns a source reading from it.
func NewStreamSource(ctx context.Context, c *Client, cfg StreamSourceConfig) (*StreamSource, error) {
	rdb := c.Underlying()
	err := rdb.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("redis: create group %s on %s: %w", cfg.Group, cfg.Stream, unavailable(err))
	}

	count := int64(cfg.Count)
	if count <= 0 {
		count = 100
	}
	block := cfg.Block
	if block <= 0 {
		block = 2 * time.Second
	}

	return &StreamSource{
		rdb:      rdb,
		stream:   cfg.Stream,
		group:    cfg.Group,
		consumer: cfg.Consumer,
		count:    count,
		block:    block,
		// Pick up anything left pending by a previous run.
		outstanding: make(map[string]struct{}),
		replay:      true,
	}, nil
}

// Receive reads entries for this consumer. It returns an empty slice when
// the block window elapses without data.
func (s *StreamSource) Receive(ctx context.Context) ([]domain.QueueMessage, error) {
	s.mu.Lock()
	if len(s.outstanding) > 0 {
		s.replay = true
		clear(s.outstanding)
	}
	replay := s.replay
	s.mu.Unlock()

	if replay {
		msgs, err := s.read(ctx, "0")
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
		s.mu.Lock()
		s.replay = false
		s.mu.Unlock()
	}
	return s.read(ctx, ">")
}

func (s *StreamSource) read(ctx context.Context, id string) ([]domain.QueueMessage, error) {
	args := &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, id},
		Count:    s.count,
	}
	if id == ">" {
		args.Block = s.block
	}
	res, err := s.rdb.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", s.stream, unavailable(err))
	}

	var (
		msgs   []domain.QueueMessage
		broken []string
	)
	for _, st := range res {
		for _, m := range st.Messages {
			payload, ok := fieldBytes(m.Values["payload"])
			if !ok {
				// Trimmed or foreign entry; acknowledge so it is not replayed forever.
				broken = append(broken, m.ID)
				continue
			}
			key, _ := fieldBytes(m.Values["key"])
			msgs = append(msgs, domain.QueueMessage{
				ID:      m.ID,
				Key:     string(key),
				Payload: payload,
			})
		}
	}
	if len(broken) > 0 {
		if err := s.rdb.XAck(ctx, s.stream, s.group, broken...).Err(); err != nil {
			return nil, fmt.Errorf("redis: stream ack %s: %w", s.stream, unavailable(err))
		}
	}

	s.mu.Lock()
	for _, m := range msgs {
		s.outstanding[m.ID] = struct{}{}
	}
	s.mu.Unlock()
	return msgs, nil
}

// Ack acknowledges processed entries.
func (s *StreamSource) Ack(ctx context.Context, msgs []domain.QueueMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	s.mu.Lock()
	for i, m := range msgs {
		ids[i] = m.ID
		delete(s.outstanding, m.ID)
	}
	s.mu.Unlock()
	if err := s.rdb.XAck(ctx, s.stream, s.group, ids...).Err(); err != nil {
		return fmt.Errorf("redis: stream ack %s: %w", s.stream, unavailable(err))
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner.
func (s *StreamSource) Close() error { return nil }

func fieldBytes(v interface{}) ([]byte, bool) {
	switch t := v.(type) {
	case string:
		return []byte(t), true
	case []byte:
		return t, true
	default:
		return nil, false
	}
}

// Compile-time interface checks.
var (
	_ domain.MessageSink   = (*StreamSink)(nil)
	_ domain.MessageSource = (*StreamSource)(nil)
)
