package locker

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/invoicing/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Lc      fx.Lifecycle
	AppCfg  config.Config
	Invoice *config.InvoiceConfigHolder
	Log     *zap.Logger
}

// Provide selects the Redis locker when REDIS_ADDR is set and the in-memory locker otherwise.
func Provide(p Params) (Locker, error) {
	invoiceCfg := p.Invoice.Get()
	cfg := Config{
		TTL:           invoiceCfg.LockTTL,
		RetryInterval: invoiceCfg.LockRetryInterval,
	}
	log := p.Log.Named("locker")

	if !p.AppCfg.UseRedis() {
		log.Warn("locker.memory", zap.String("reason", "redis not configured"))
		return NewMemoryLocker(cfg), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     p.AppCfg.RedisAddr,
		Password: p.AppCfg.RedisPassword,
		DB:       p.AppCfg.RedisDB,
	})
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	log.Info("locker.redis", zap.String("addr", p.AppCfg.RedisAddr))
	return NewRedisLocker(client, cfg)
}

var Module = fx.Module("locker",
	fx.Provide(Provide),
)
