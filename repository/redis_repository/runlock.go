package redis_repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/deepsearch/internal/agent/core"
	"github.com/redis/go-redis/v9"
)

const runLockKeyPrefix = "deepsearch:run:"

// releaseScript deletes the lock only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock is a redis-backed in-flight guard shared by every replica.
type RunLock struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRunLock creates a lock whose entries expire after ttl even if a holder dies.
func NewRunLock(client redis.UniversalClient, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RunLock{client: client, ttl: ttl}
}

// Acquire claims key or returns core.ErrRunInProgress when another holder owns it.
func (l *RunLock) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	k := runLockKeyPrefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, core.ErrRunInProgress
	}
	return func(ctx context.Context) error {
		err := releaseScript.Run(ctx, l.client, []string{k}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release run lock: %w", err)
		}
		return nil
	}, nil
}
