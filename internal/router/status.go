package router

import (
	"context"
	"sync"
	"time"

	"RouterGate/pkg/monitor"
	"RouterGate/pkg/routeros"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StatusStore persists the last known state of each router so every gateway
// instance and the admin app can read it.
type StatusStore interface {
	Save(ctx context.Context, routerID string, fields map[string]interface{}) error
	Load(ctx context.Context, routerID string) (map[string]string, error)
}

type redisStatusStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStatusStore keeps one hash per router at <prefix>:router:<id>:status.
func NewRedisStatusStore(rdb *redis.Client, prefix string, ttl time.Duration) StatusStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &redisStatusStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *redisStatusStore) key(routerID string) string {
	return s.prefix + ":router:" + routerID + ":status"
}

func (s *redisStatusStore) Save(ctx context.Context, routerID string, fields map[string]interface{}) error {
	key := s.key(routerID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStatusStore) Load(ctx context.Context, routerID string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, s.key(routerID)).Result()
}

type statusEvent struct {
	routerID string
	fields   map[string]interface{}
}

// StatusPublisher is the routeros.Observer of the polling manager. It feeds
// per-router monitors synchronously and writes state to the StatusStore from
// its own goroutine, so session workers never wait on Redis.
type StatusPublisher struct {
	store  StatusStore
	events chan statusEvent
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func NewStatusPublisher(store StatusStore, buffer int) *StatusPublisher {
	if buffer <= 0 {
		buffer = 1024
	}
	p := &StatusPublisher{
		store:  store,
		events: make(chan statusEvent, buffer),
		stop:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.flushLoop()
	return p
}

func MonitorName(routerID string) string {
	return "router:" + routerID
}

func (p *StatusPublisher) CommandDone(id routeros.Identity, cmd routeros.Command, elapsed time.Duration, err error) {
	kind := routeros.KindOf(err)
	// a rejected command still means the router answered
	healthy := err == nil || kind == routeros.KindCommandRejected
	monitor.For(MonitorName(id.RouterID)).Observe(elapsed, healthy)

	outcome := "ok"
	fields := map[string]interface{}{
		"last_command":    cmd.String(),
		"last_command_at": time.Now().Unix(),
		"last_latency_ms": elapsed.Milliseconds(),
	}
	if err != nil {
		outcome = kind.String()
		fields["last_error"] = err.Error()
		fields["last_error_kind"] = outcome
		fields["last_error_at"] = time.Now().Unix()
	}
	monitor.RouterCommands.WithLabelValues(outcome).Inc()
	p.enqueue(id.RouterID, fields)
}

func (p *StatusPublisher) StateChanged(id routeros.Identity, from, to routeros.State) {
	p.enqueue(id.RouterID, map[string]interface{}{
		"state":    to.String(),
		"state_at": time.Now().Unix(),
		"address":  id.Address(),
	})
}

func (p *StatusPublisher) enqueue(routerID string, fields map[string]interface{}) {
	select {
	case p.events <- statusEvent{routerID: routerID, fields: fields}:
	default:
		zap.L().Debug("status event dropped", zap.String("router", routerID))
	}
}

func (p *StatusPublisher) flushLoop() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.events:
			p.save(ev)
		case <-p.stop:
			// flush what is left
			for {
				select {
				case ev := <-p.events:
					p.save(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *StatusPublisher) save(ev statusEvent) {
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.store.Save(ctx, ev.routerID, ev.fields); err != nil {
		zap.L().Warn("save router status failed", zap.String("router", ev.routerID), zap.Error(err))
	}
}

// Close flushes pending events and stops the writer.
func (p *StatusPublisher) Close() {
	p.once.Do(func() {
		close(p.stop)
	})
	p.wg.Wait()
}
