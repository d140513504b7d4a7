package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

// ProcessedIndex is an in-process domain.ProcessedIndex.
type ProcessedIndex struct {
	mu      sync.Mutex
	markers map[string]marker
	now     func() time.Time
}

type marker struct {
	version string
	at      time.Time
}

// NewProcessedIndex returns an empty ProcessedIndex.
func NewProcessedIndex() *ProcessedIndex {
	return &ProcessedIndex{markers: make(map[string]marker), now: time.Now}
}

// Lookup returns the version recorded for path.
func (p *ProcessedIndex) Lookup(_ context.Context, path string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.markers[path]
	return m.version, ok, nil
}

// Mark records version as ingested for path.
func (p *ProcessedIndex) Mark(_ context.Context, path, version string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markers[path] = marker{version: version, at: p.now()}
	return nil
}

// Prune drops stale markers under prefix.
func (p *ProcessedIndex) Prune(_ context.Context, prefix string, keep map[string]struct{}, cutoff time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for path, m := range p.markers {
		if !strings.HasPrefix(path, prefix) || m.at.After(cutoff) {
			continue
		}
		if _, ok := keep[path]; ok {
			continue
		}
		delete(p.markers, path)
		n++
	}
	return n, nil
}

// Len returns the number of markers held.
func (p *ProcessedIndex) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.markers)
}

// Compile-time interface check.
var _ domain.ProcessedIndex = (*ProcessedIndex)(nil)
