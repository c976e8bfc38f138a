/**
 * @description
 * Redis-backed cycle lock so only one replica runs a given cycle at a time.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another replica currently owns a cycle.
var ErrLockHeld = errors.New("cycle lock held by another replica")

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCycleLock implements CycleLock with SET NX PX and a token-checked release,
// so that only one scheduler replica runs a given cycle at a time.
type RedisCycleLock struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCycleLock creates a lock. ttl must exceed the longest expected cycle.
func NewRedisCycleLock(client redis.UniversalClient, prefix string, ttl time.Duration, logger *slog.Logger) *RedisCycleLock {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "subpay:scheduler:lock"
	}
	return &RedisCycleLock{client: client, prefix: trimmedPrefix, ttl: ttl, logger: logger}
}

// Acquire takes the lock for the named cycle or returns ErrLockHeld.
func (l *RedisCycleLock) Acquire(ctx context.Context, name string) (func(), error) {
	key := fmt.Sprintf("%s:%s", l.prefix, name)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseLockScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("failed to release cycle lock", "key", key, "error", err)
		}
	}
	return release, nil
}
