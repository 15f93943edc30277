package redis

import (
	"context"
	"time"

	"linkdrop/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

const pingInterval = 2 * time.Second

// New returns a client whose connectivity is checked when the app starts.
// An unreachable server is logged, not fatal: the sequence and the task
// client fail per call until it comes back.
func New(lc fx.Lifecycle, c *config.Config) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		PoolSize:    c.Redis.PoolSize,
		PoolTimeout: c.Redis.PoolTimeout,
	})

	zapLog := zap.L().With(zap.String("addr", c.Redis.Addr), zap.Int("db", c.Redis.DB))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := waitReady(ctx, rdb); err != nil {
				zapLog.Error("[Redis] not reachable at startup", zap.Error(err))
				return nil
			}
			zapLog.Info("[Redis] Connected to Redis")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})

	return rdb
}

// waitReady pings until the server answers or ctx ends.
func waitReady(ctx context.Context, rdb *redis.Client) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		err := rdb.Ping(ctx).Err()
		if err == nil {
			return nil
		}
		zap.L().Warn("[Redis] Redis not ready", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return err
		case <-ticker.C:
		}
	}
}
