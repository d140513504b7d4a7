// Package memory provides an in-process domain.ValueStore for local runs and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

// Store is a map-backed domain.ValueStore.
type Store struct {
	mu     sync.Mutex
	values map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{values: make(map[string]string)}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Get returns domain.ErrNotFound when symbol has no entry.
func (s *Store) Get(_ context.Context, symbol string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[symbol]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

// Set stores value under symbol.
func (s *Store) Set(_ context.Context, symbol, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[symbol] = value
	return nil
}

// FlushAll removes every entry.
func (s *Store) FlushAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = make(map[string]string)
	return nil
}

// Update runs fn under the store mutex.
func (s *Store) Update(_ context.Context, symbol string, fn domain.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, found := s.values[symbol]
	next, err := fn(prev, found)
	if err != nil {
		return err
	}
	s.values[symbol] = next
	return nil
}

// Snapshot returns a copy of all entries.
func (s *Store) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Compile-time interface check.
var _ domain.ValueStore = (*Store)(nil)
