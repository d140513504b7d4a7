package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

// pruneEvery bounds how often Acquire scans for expired claims.
const pruneEvery = time.Minute

// LockManager is an in-process domain.LockManager with expiring claims.
type LockManager struct {
	mu        sync.Mutex
	seq       uint64
	held      map[string]claim
	nextPrune time.Time
	now       func() time.Time
}

type claim struct {
	id      uint64
	expires time.Time
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]claim), now: time.Now}
}

// Acquire claims key for ttl, or returns domain.ErrLockHeld while another
// unexpired claim exists. Expired claims are dropped as it goes.
func (l *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !now.Before(l.nextPrune) {
		for k, c := range l.held {
			if !now.Before(c.expires) {
				delete(l.held, k)
			}
		}
		l.nextPrune = now.Add(pruneEvery)
	}

	if c, ok := l.held[key]; ok && now.Before(c.expires) {
		return nil, domain.ErrLockHeld
	}
	l.seq++
	id := l.seq
	l.held[key] = claim{id: id, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if c, ok := l.held[key]; ok && c.id == id {
				delete(l.held, key)
			}
		})
	}, nil
}

// Len returns the number of claims currently tracked, expired or not.
func (l *LockManager) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
