package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/crossarb/crossarb/internal/domain"
)

// lockKeyPrefix namespaces lock keys away from quote and stream keys.
const lockKeyPrefix = "crossarb:lock:"

// releaseTimeout bounds the conditional delete so release completes even
// when the caller is already shutting down.
const releaseTimeout = 5 * time.Second

// releaseLua deletes a lock key only while it still holds the caller's
// token, so a holder whose TTL lapsed cannot release a successor's lock.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SETNX plus a token-checked
// Lua release. Trade mode holds the engine lock through it so two traders
// cannot run the execution loop against the same account.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLua),
	}
}

// Acquire takes the named lock for at most ttl and returns the release
// function, which is idempotent and usable after the caller's context is
// gone. Returns domain.ErrLockHeld when another holder has the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	redisKey := lockKeyPrefix + key

	ok, err := lm.rdb.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	return sync.OnceFunc(func() {
		lm.releaseLock(redisKey, token)
	}), nil
}

func (lm *LockManager) releaseLock(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	_ = lm.release.Run(ctx, lm.rdb, []string{redisKey}, token).Err()
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
