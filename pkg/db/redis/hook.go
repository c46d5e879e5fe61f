package redis

import (
	"context"
	"net"
	"time"

	"RouterGate/pkg/monitor"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const slowCommand = 50 * time.Millisecond

// redisMonitorHook feeds every command into the redis monitor and logs slow ones.
type redisMonitorHook struct {
	mon *monitor.Monitor
}

func (h *redisMonitorHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			zap.L().Warn("redis dial failed", zap.String("addr", addr), zap.Error(err))
		}
		return conn, err
	}
}

func (h *redisMonitorHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.record(cmd.Name(), time.Since(start), err)
		return err
	}
}

func (h *redisMonitorHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.record("pipeline", time.Since(start), err)
		return err
	}
}

func (h *redisMonitorHook) record(name string, elapsed time.Duration, err error) {
	// a cache miss is not a failure
	ok := err == nil || err == redis.Nil
	if h.mon != nil {
		h.mon.Observe(elapsed, ok)
	}
	if elapsed > slowCommand {
		zap.L().Debug("slow redis command", zap.String("cmd", name), zap.Duration("cost", elapsed))
	}
}
