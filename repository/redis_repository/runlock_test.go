package redis_repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/mohammad-safakhou/deepsearch/internal/agent/core"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// redisAddr prefers DEEPSEARCH_TEST_REDIS_ADDR and falls back to a throwaway container.
func redisAddr(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv("DEEPSEARCH_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestRunLockExclusive(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: redisAddr(t)})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	key := fmt.Sprintf("test-%d", time.Now().UnixNano())

	lock := NewRunLock(client, time.Minute)
	release, err := lock.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = lock.Acquire(ctx, key)
	assert.ErrorIs(t, err, core.ErrRunInProgress)

	require.NoError(t, release(ctx))
	again, err := lock.Acquire(ctx, key)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestRunLockReleaseKeepsForeignToken(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: redisAddr(t)})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	key := fmt.Sprintf("test-%d", time.Now().UnixNano())

	lock := NewRunLock(client, time.Minute)
	release, err := lock.Acquire(ctx, key)
	require.NoError(t, err)

	// simulate expiry followed by another holder
	require.NoError(t, client.Set(ctx, runLockKeyPrefix+key, "someone-else", time.Minute).Err())
	require.NoError(t, release(ctx))

	val, err := client.Get(ctx, runLockKeyPrefix+key).Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
	require.NoError(t, client.Del(ctx, runLockKeyPrefix+key).Err())
}
