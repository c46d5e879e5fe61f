package dashboard

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"RouterGate/pkg/routeros"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrUnknownTable     = errors.New("unknown firewall table")
	ErrInvalidInterface = errors.New("interface name is required")
	ErrInvalidSession   = errors.New("invalid ppp session id")
)

// FirewallTables are the tables FirewallRules accepts.
var FirewallTables = []string{"filter", "nat", "mangle", "raw"}

const (
	maxLogLimit     = 1000
	defaultLogLimit = 100
)

// Executor runs one command on a router. *routeros.Manager implements it.
type Executor interface {
	Execute(ctx context.Context, id routeros.Identity, cmd routeros.Command) ([]routeros.Row, error)
}

type Options struct {
	// CacheTTL of zero disables the snapshot cache.
	CacheTTL  time.Duration
	KeyPrefix string
	LogLimit  int
}

// Service answers dashboard polls. Identical concurrent polls share one
// command and, with a cache, one command per TTL.
type Service struct {
	exec     Executor
	cache    Cache
	opts     Options
	cacheTTL atomic.Int64
	group    singleflight.Group
}

func NewService(exec Executor, cache Cache, opts Options) *Service {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "routergate"
	}
	if opts.LogLimit <= 0 {
		opts.LogLimit = defaultLogLimit
	}
	s := &Service{exec: exec, cache: cache, opts: opts}
	s.cacheTTL.Store(int64(opts.CacheTTL))
	return s
}

// SetCacheTTL applies to snapshots stored from now on.
func (s *Service) SetCacheTTL(ttl time.Duration) {
	s.cacheTTL.Store(int64(ttl))
}

func (s *Service) key(id routeros.Identity, name string) string {
	return s.opts.KeyPrefix + ":dash:" + id.RouterID + ":" + name
}

// fetch runs load once per key among concurrent callers, going through the
// cache when one is configured.
func fetch[T any](ctx context.Context, s *Service, id routeros.Identity, name string, load func(ctx context.Context) (T, error)) (T, error) {
	key := s.key(id, name)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		var snap T
		ttl := time.Duration(s.cacheTTL.Load())
		if s.cache != nil && ttl > 0 {
			hit, err := s.cache.Get(ctx, key, &snap)
			if err != nil {
				zap.L().Debug("dashboard cache read failed", zap.String("key", key), zap.Error(err))
			} else if hit {
				return snap, nil
			}
		}

		// one browser tab going away must not fail the others sharing this call
		snap, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if s.cache != nil && ttl > 0 {
			if err := s.cache.Set(ctx, key, snap, ttl); err != nil {
				zap.L().Debug("dashboard cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return snap, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (s *Service) rows(ctx context.Context, id routeros.Identity, cmd routeros.Command) ([]routeros.Row, error) {
	return s.exec.Execute(ctx, id, cmd)
}

func (s *Service) Interfaces(ctx context.Context, id routeros.Identity) ([]Interface, error) {
	return fetch(ctx, s, id, "interfaces", func(ctx context.Context) ([]Interface, error) {
		rows, err := s.rows(ctx, id, routeros.NewCommand("/interface/print"))
		if err != nil {
			return nil, err
		}
		return ToInterfaces(rows), nil
	})
}

// Traffic samples the current rate of one interface. It is never cached.
func (s *Service) Traffic(ctx context.Context, id routeros.Identity, iface string) (Traffic, error) {
	iface = strings.TrimSpace(iface)
	if iface == "" {
		return Traffic{}, ErrInvalidInterface
	}
	v, err, _ := s.group.Do(s.key(id, "traffic:"+iface), func() (interface{}, error) {
		cmd := routeros.NewCommand("/interface/monitor-traffic").
			With("interface", iface).
			With("once", "")
		rows, err := s.rows(context.WithoutCancel(ctx), id, cmd)
		if err != nil {
			return nil, err
		}
		return ToTraffic(iface, rows), nil
	})
	if err != nil {
		return Traffic{}, err
	}
	return v.(Traffic), nil
}

func (s *Service) DHCPLeases(ctx context.Context, id routeros.Identity) ([]DHCPLease, error) {
	return fetch(ctx, s, id, "dhcp-leases", func(ctx context.Context) ([]DHCPLease, error) {
		rows, err := s.rows(ctx, id, routeros.NewCommand("/ip/dhcp-server/lease/print"))
		if err != nil {
			return nil, err
		}
		return ToDHCPLeases(rows), nil
	})
}

func (s *Service) FirewallRules(ctx context.Context, id routeros.Identity, table string) ([]FirewallRule, error) {
	if table == "" {
		table = "filter"
	}
	valid := false
	for _, t := range FirewallTables {
		if t == table {
			valid = true
			break
		}
	}
	if !valid {
		return nil, ErrUnknownTable
	}
	return fetch(ctx, s, id, "firewall:"+table, func(ctx context.Context) ([]FirewallRule, error) {
		rows, err := s.rows(ctx, id, routeros.NewCommand("/ip/firewall/"+table+"/print"))
		if err != nil {
			return nil, err
		}
		return ToFirewallRules(table, rows), nil
	})
}

func (s *Service) PPPActive(ctx context.Context, id routeros.Identity) ([]PPPSession, error) {
	return fetch(ctx, s, id, "ppp-active", func(ctx context.Context) ([]PPPSession, error) {
		rows, err := s.rows(ctx, id, routeros.NewCommand("/ppp/active/print"))
		if err != nil {
			return nil, err
		}
		return ToPPPSessions(rows), nil
	})
}

func (s *Service) PPPCounts(ctx context.Context, id routeros.Identity) (PPPCounts, error) {
	return fetch(ctx, s, id, "ppp-counts", func(ctx context.Context) (PPPCounts, error) {
		active, err := s.rows(ctx, id, routeros.NewCommand("/ppp/active/print").Props("name", "service"))
		if err != nil {
			return PPPCounts{}, err
		}
		secrets, err := s.rows(ctx, id, routeros.NewCommand("/ppp/secret/print").Props("name", "disabled"))
		if err != nil {
			return PPPCounts{}, err
		}
		return ToPPPCounts(active, secrets), nil
	})
}

// Logs returns the newest limit log entries. limit is clamped to
// [1, 1000]; zero means the configured default.
func (s *Service) Logs(ctx context.Context, id routeros.Identity, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = s.opts.LogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	// cache the widest view, cut per request
	all, err := fetch(ctx, s, id, "logs", func(ctx context.Context) ([]LogEntry, error) {
		rows, err := s.rows(ctx, id, routeros.NewCommand("/log/print"))
		if err != nil {
			return nil, err
		}
		return ToLogs(rows, maxLogLimit), nil
	})
	if err != nil {
		return nil, err
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *Service) SystemResource(ctx context.Context, id routeros.Identity) (SystemResource, error) {
	return fetch(ctx, s, id, "resources", func(ctx context.Context) (SystemResource, error) {
		rows, err := s.rows(ctx, id, routeros.NewCommand("/system/resource/print"))
		if err != nil {
			return SystemResource{}, err
		}
		return ToSystemResource(rows), nil
	})
}

// DisconnectPPP removes an active PPP session, e.g. "*8A", and drops the
// cached PPP snapshots so the next poll sees the change.
func (s *Service) DisconnectPPP(ctx context.Context, id routeros.Identity, sessionID string) error {
	if !validItemID(sessionID) {
		return ErrInvalidSession
	}
	cmd := routeros.NewCommand("/ppp/active/remove").With(".id", sessionID)
	if _, err := s.rows(ctx, id, cmd); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, s.key(id, "ppp-active"), s.key(id, "ppp-counts")); err != nil {
			zap.L().Warn("invalidate ppp snapshots failed", zap.String("router", id.RouterID), zap.Error(err))
		}
	}
	zap.L().Info("ppp session removed", zap.String("router", id.RouterID), zap.String("session", sessionID))
	return nil
}

// validItemID accepts RouterOS internal ids: '*' followed by hex digits.
func validItemID(s string) bool {
	if len(s) < 2 || s[0] != '*' {
		return false
	}
	_, err := strconv.ParseUint(s[1:], 16, 64)
	return err == nil
}
