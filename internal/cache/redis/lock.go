package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's token,
// so a holder whose TTL lapsed cannot release a newer holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager using SET NX with a TTL and a
// Lua-based conditional unlock. It is used to claim blobs across replicas.
type LockManager struct {
	rdb       *redis.Client
	namespace string
	unlockSc  *redis.Script
}

// NewLockManager creates a LockManager whose keys are prefixed with
// namespace (e.g. "deltafeed").
func NewLockManager(c *Client, namespace string) *LockManager {
	return &LockManager{
		rdb:       c.Underlying(),
		namespace: namespace,
		unlockSc:  redis.NewScript(unlockLua),
	}
}

func (lm *LockManager) lockKey(key string) string {
	if lm.namespace == "" {
		return "lock:" + key
	}
	return lm.namespace + ":lock:" + key
}

// Acquire attempts to obtain the lock for key for ttl. On success it returns
// an unlock function that is safe to call more than once. It returns
// domain.ErrLockHeld if another party holds the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, unavailable(err))
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		// Background context so the release survives a cancelled caller.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
	}

	return unlock, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
