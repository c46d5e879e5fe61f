package redis

import (
	"context"
	"fmt"
	"time"

	"RouterGate/pkg/config"
	"RouterGate/pkg/monitor"

	"github.com/redis/go-redis/v9"
)

var Rdb *redis.Client
var Monitor *monitor.Monitor

func Init(cfg *config.RedisConfig) (err error) {
	if cfg == nil {
		return fmt.Errorf("redis config is missing")
	}
	Rdb = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	Monitor = monitor.NewMonitor("redis", 200, 60000)
	monitor.Register(Monitor)
	Rdb.AddHook(&redisMonitorHook{mon: Monitor})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return Rdb.Ping(ctx).Err()
}

func Close() {
	if Rdb != nil {
		_ = Rdb.Close()
	}
}
