package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

// defaultUpdateAttempts bounds how often Update re-runs after another client
// modified the key between WATCH and EXEC.
const defaultUpdateAttempts = 16

// ValueStore implements domain.ValueStore with one plain string key per
// symbol. It must own its logical database: FlushAll issues FLUSHDB.
type ValueStore struct {
	rdb      *redis.Client
	attempts int
}

// NewValueStore creates a ValueStore backed by the given Client. attempts <= 0
// selects the default.
func NewValueStore(c *Client, attempts int) *ValueStore {
	if attempts <= 0 {
		attempts = defaultUpdateAttempts
	}
	return &ValueStore{rdb: c.Underlying(), attempts: attempts}
}

// Ping checks the connection.
func (s *ValueStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", unavailable(err))
	}
	return nil
}

// Get returns the cached value for symbol, or domain.ErrNotFound.
func (s *ValueStore) Get(ctx context.Context, symbol string) (string, error) {
	v, err := s.rdb.Get(ctx, symbol).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis: get %s: %w", symbol, unavailable(err))
	}
	return v, nil
}

// Set overwrites the cached value for symbol without expiry.
func (s *ValueStore) Set(ctx context.Context, symbol, value string) error {
	if err := s.rdb.Set(ctx, symbol, value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", symbol, unavailable(err))
	}
	return nil
}

// FlushAll clears the whole logical database. Clients watching any key in it
// see their transaction aborted and re-read.
func (s *ValueStore) FlushAll(ctx context.Context) error {
	if err := s.rdb.FlushDB(ctx).Err(); err != nil {
		return fmt.Errorf("redis: flushdb: %w", unavailable(err))
	}
	return nil
}

// Update performs GET, fn and SET inside a WATCH/MULTI/EXEC optimistic
// transaction. A concurrent write or flush of the key aborts EXEC and the
// cycle is re-run with the fresh value.
func (s *ValueStore) Update(ctx context.Context, symbol string, fn domain.UpdateFunc) error {
	txf := func(tx *redis.Tx) error {
		prev, err := tx.Get(ctx, symbol).Result()
		found := true
		if errors.Is(err, redis.Nil) {
			prev, found = "", false
		} else if err != nil {
			return unavailable(err)
		}

		next, err := fn(prev, found)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, symbol, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < s.attempts; i++ {
		err := s.rdb.Watch(ctx, txf, symbol)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("redis: update %s: %w", symbol, unavailable(err))
	}
	return fmt.Errorf("redis: update %s: gave up after %d conflicts: %w", symbol, s.attempts, redis.TxFailedErr)
}

// Compile-time interface check.
var _ domain.ValueStore = (*ValueStore)(nil)
