// Package infra 基础设施聚合层
//
// 提供统一的基础设施初始化，包括：
//   - Storage：持久化存储（MongoDB 或内存）
//   - Redis：限流计数器
package infra

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"natours/internal/config"
	"natours/internal/shared/storage"
	"natours/internal/shared/storage/memstore"
	"natours/internal/shared/storage/mongostore"
	"natours/pkg/logging"
)

// Infrastructure 基础设施聚合结构
type Infrastructure struct {
	// Storage 持久化存储
	Storage storage.Backend

	// Redis 未配置时为 nil
	Redis *redis.Client
}

// New 按配置初始化存储与 Redis
//
// Redis 连接失败不阻止启动，只关闭依赖它的功能。
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Infrastructure, error) {
	backend, err := NewBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	infra := &Infrastructure{Storage: backend}

	if cfg.RedisURL != "" {
		client, err := NewRedisClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, rate limiting disabled")
		} else {
			infra.Redis = client
		}
	}
	return infra, nil
}

// NewBackend 按 DatabaseDriver 创建存储驱动
func NewBackend(ctx context.Context, cfg *config.Config, logger *logging.Logger) (storage.Backend, error) {
	switch cfg.DatabaseDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage, data is lost on restart")
		return memstore.NewStore(), nil
	case config.DriverMongoDB, "":
		return mongostore.NewStore(ctx, mongostore.Config{
			URI:      cfg.DatabaseURL,
			Database: cfg.DatabaseDBName,
			Timeout:  cfg.DatabaseTimeout,
		}, logger.Named("mongostore"))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}

// Close 关闭所有基础设施连接
func (i *Infrastructure) Close() error {
	var errs []error
	if i.Storage != nil {
		errs = append(errs, i.Storage.Close())
	}
	if i.Redis != nil {
		errs = append(errs, i.Redis.Close())
	}
	return errors.Join(errs...)
}
