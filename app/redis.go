package app

import (
	"context"

	"github.com/bsm/redislock"
	"github.com/fiffu/uptimesync/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewRedisLocker returns nil without REDIS_ADDR, in which case every replica runs the scans.
func NewRedisLocker(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) *redislock.Client {
	if cfg.Redis.Addr == "" {
		log.Sugar().Info("REDIS_ADDR is not set, scans will run without a lease")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Sugar().Warnw("Redis is unreachable, scans will run without a lease until it recovers", "addr", cfg.Redis.Addr, "err", err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return redislock.New(client)
}
