// Package ticklock provides a Redis lease so that only one replica polls at a time.
package ticklock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the lock
var ErrLockHeld = errors.New("lock held by another holder")

// unlockLua deletes the key only if it still holds the caller's token
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Redis implements a lease lock with SET NX and a token-checked release
type Redis struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	prefix   string
}

// New connects to Redis at addr
func New(addr, password string, db int) *Redis {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}))
}

// NewWithClient wraps an existing client
func NewWithClient(rdb *redis.Client) *Redis {
	return &Redis{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
		prefix:   "pricealert:lock:",
	}
}

// Ping verifies the connection
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the underlying client
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) lockKey(key string) string {
	return r.prefix + key
}

// Acquire takes the lock for ttl. The returned release function may be called
// more than once. ErrLockHeld means another holder owns the lock.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := r.lockKey(key)

	ok, err := r.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// The caller's context may already be cancelled at release time
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = r.unlockSc.Run(releaseCtx, r.rdb, []string{lk}, token).Err()
		})
	}
	return release, nil
}
