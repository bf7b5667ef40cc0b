package redis_repository

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/deepsearch/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Conn dials redis and verifies the connection with PING.
func Conn(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		DialTimeout: cfg.Timeout,
		Password:    cfg.Password,
		DB:          cfg.DB,
	})
	logger.Info("redis options", zap.String("addr", cfg.Addr()), zap.Int("db", cfg.DB))

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if pong != "PONG" {
		_ = client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}

	return client, nil
}
