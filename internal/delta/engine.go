// Package delta computes the change between a symbol's newly observed value and
// the last value held in the value store, and keeps the store current.
package delta

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

// Result is the outcome of a single Compute call.
type Result struct {
	// Delta is nil when the symbol had no prior value.
	Delta *string
	// Reset is true when the value was the reset sentinel and the store was
	// flushed.
	Reset bool
}

// Engine performs the read/compute/write cycle against a domain.ValueStore.
// It is safe for concurrent use. Calls for the same symbol are serialised in
// process, and the store's Update keeps the cycle atomic across processes.
type Engine struct {
	store  domain.ValueStore
	locks  *KeyedLock
	logger *slog.Logger
}

// NewEngine creates an Engine backed by store.
func NewEngine(store domain.ValueStore, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		locks:  NewKeyedLock(),
		logger: logger.With(slog.String("component", "delta_engine")),
	}
}

// Compute records curValue as the latest value for symbol and returns the
// delta against the previous value.
//
// A curValue equal to domain.ResetValue flushes the entire store (every
// symbol) and yields a delta of "0" without writing the symbol back. A parse
// failure while a delta is due returns domain.ErrMalformedInput and leaves the
// store untouched.
func (e *Engine) Compute(ctx context.Context, symbol, curValue string) (Result, error) {
	if symbol == "" {
		return Result{}, fmt.Errorf("delta: empty symbol: %w", domain.ErrMalformedInput)
	}

	if curValue == domain.ResetValue {
		if err := e.Reset(ctx); err != nil {
			return Result{}, err
		}
		d := domain.ResetValue
		return Result{Delta: &d, Reset: true}, nil
	}

	unlock := e.locks.Lock(symbol)
	defer unlock()

	var res Result
	err := e.store.Update(ctx, symbol, func(prev string, found bool) (string, error) {
		// Update may invoke fn more than once on a write conflict.
		res = Result{}
		if !found || prev == "" {
			return curValue, nil
		}

		e.logger.DebugContext(ctx, "cache hit",
			slog.String("symbol", symbol),
			slog.String("cached", prev),
		)

		d, err := Diff(prev, curValue)
		if err != nil {
			return "", err
		}
		res.Delta = &d
		return curValue, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("delta: compute %s: %w", symbol, err)
	}

	e.logger.DebugContext(ctx, "cached value",
		slog.String("symbol", symbol),
		slog.String("value", curValue),
		slog.Bool("has_delta", res.Delta != nil),
	)
	return res, nil
}

// Reset clears every entry in the value store. It waits for in-flight Compute
// calls in this process to finish and blocks new ones until the flush is done.
func (e *Engine) Reset(ctx context.Context) error {
	unlock := e.locks.LockAll()
	defer unlock()

	if err := e.store.FlushAll(ctx); err != nil {
		return fmt.Errorf("delta: reset: %w", err)
	}
	e.logger.InfoContext(ctx, "value store reset")
	return nil
}

// Diff returns cur - prev for two base-10 integer strings, rendered as a
// signed decimal. Values are not limited to 64 bits.
func Diff(prev, cur string) (string, error) {
	p, ok := new(big.Int).SetString(prev, 10)
	if !ok {
		return "", fmt.Errorf("delta: cached value %q is not an integer: %w", prev, domain.ErrMalformedInput)
	}
	c, ok := new(big.Int).SetString(cur, 10)
	if !ok {
		return "", fmt.Errorf("delta: value %q is not an integer: %w", cur, domain.ErrMalformedInput)
	}
	return new(big.Int).Sub(c, p).String(), nil
}
