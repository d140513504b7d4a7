package delta

import "sync"

// KeyedLock hands out one mutex per key plus a whole-keyspace lock. Holders of
// a key lock share the keyspace; LockAll excludes all of them.
type KeyedLock struct {
	all  sync.RWMutex
	mu   sync.Mutex
	keys map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLock returns an empty KeyedLock.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{keys: make(map[string]*keyEntry)}
}

// Lock blocks until key is held and returns the release function.
func (l *KeyedLock) Lock(key string) func() {
	l.all.RLock()

	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &keyEntry{}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.keys, key)
			}
			l.mu.Unlock()

			l.all.RUnlock()
		})
	}
}

// LockAll blocks until no key is held and returns the release function.
func (l *KeyedLock) LockAll() func() {
	l.all.Lock()
	var once sync.Once
	return func() { once.Do(l.all.Unlock) }
}

// Len returns the number of keys currently held or waited on.
func (l *KeyedLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
