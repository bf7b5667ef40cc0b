package repository

import (
	"context"

	"github.com/mohammad-safakhou/deepsearch/config"
	"github.com/mohammad-safakhou/deepsearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepsearch/repository/redis_repository"
	"go.uber.org/zap"
)

// NewRunGuard returns the cross-process run guard selected by config, or nil
// when redis is disabled. The returned close func is never nil.
func NewRunGuard(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (core.RunGuard, func() error, error) {
	if !cfg.Enabled {
		return nil, func() error { return nil }, nil
	}
	c, err := redis_repository.Conn(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return redis_repository.NewRunLock(c, cfg.LockTTL), c.Close, nil
}
