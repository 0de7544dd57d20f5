package lock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tokenrelay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLockerFromClient),
	fx.Provide(NewProvisionLockFromLocker),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
}

// NewRedisClient returns nil when Redis is not configured.
func NewRedisClient(p Params) redis.UniversalClient {
	if !p.Config.Redis.Enabled() {
		p.Log.Info("redis not configured, provisioning lock disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     p.Config.Redis.Addr,
		Password: p.Config.Redis.Password,
		DB:       p.Config.Redis.DB,
	})

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				p.Log.Warn("redis ping failed", zap.String("addr", p.Config.Redis.Addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

func NewLockerFromClient(client redis.UniversalClient) *Locker {
	return NewLocker(client)
}

func NewProvisionLockFromLocker(locker *Locker) *ProvisionLock {
	return NewProvisionLock(locker, DefaultProvisionTTL)
}
