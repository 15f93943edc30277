package sequence

import (
	"context"
	"fmt"

	"linkdrop/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

type Generator interface {
	// NextTokenID returns "token_<n>" with n strictly increasing from 1.
	NextTokenID(ctx context.Context) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
	}
}

func (g *RedisGenerator) NextTokenID(ctx context.Context) (string, error) {
	seq, err := g.rdb.Incr(ctx, rediskey.BuildSequenceKey("collectible")).Result()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("token_%d", seq), nil
}
