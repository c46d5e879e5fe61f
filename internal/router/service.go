package router

import (
	"context"
	"strconv"
	"sync"
	"time"

	"RouterGate/pkg/routeros"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// lookupTTL bounds how long an inventory row is reused between polls.
const lookupTTL = 5 * time.Second

type cachedRouter struct {
	router  Router
	fetched time.Time
}

// Service resolves routers for a tenant and drives the polling session manager.
type Service struct {
	repo    Repository
	polling *routeros.Manager
	status  StatusStore

	group singleflight.Group
	mu    sync.Mutex
	cache map[int64]cachedRouter
	now   func() time.Time
}

// NewService wires the inventory to the polling manager. status may be nil.
func NewService(repo Repository, polling *routeros.Manager, status StatusStore) *Service {
	return &Service{
		repo:    repo,
		polling: polling,
		status:  status,
		cache:   make(map[int64]cachedRouter),
		now:     time.Now,
	}
}

// Polling returns the manager used for dashboard commands.
func (s *Service) Polling() *routeros.Manager { return s.polling }

func (s *Service) lookup(ctx context.Context, routerID int64) (Router, error) {
	s.mu.Lock()
	c, ok := s.cache[routerID]
	s.mu.Unlock()
	if ok && s.now().Sub(c.fetched) < lookupTTL {
		return c.router, nil
	}

	v, err, _ := s.group.Do(strconv.FormatInt(routerID, 10), func() (interface{}, error) {
		r, err := s.repo.GetByID(ctx, routerID)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[routerID] = cachedRouter{router: *r, fetched: s.now()}
		s.mu.Unlock()
		return *r, nil
	})
	if err != nil {
		return Router{}, err
	}
	return v.(Router), nil
}

// Get returns routerID if it belongs to tenantID. Routers of other tenants are
// reported as not found.
func (s *Service) Get(ctx context.Context, tenantID, routerID int64) (*Router, error) {
	r, err := s.lookup(ctx, routerID)
	if err != nil {
		return nil, err
	}
	if r.TenantID != tenantID {
		return nil, ErrRouterNotFound
	}
	return &r, nil
}

// Resolve returns the API identity of an enabled router of tenantID.
func (s *Service) Resolve(ctx context.Context, tenantID, routerID int64) (routeros.Identity, error) {
	r, err := s.Get(ctx, tenantID, routerID)
	if err != nil {
		return routeros.Identity{}, err
	}
	if r.Disabled {
		return routeros.Identity{}, ErrRouterDisabled
	}
	return r.Identity(), nil
}

// Forget drops the cached inventory row, e.g. after credentials changed.
func (s *Service) Forget(routerID int64) {
	s.mu.Lock()
	delete(s.cache, routerID)
	s.mu.Unlock()
}

// List returns the tenant's routers joined with their live polling sessions.
func (s *Service) List(ctx context.Context, tenantID int64) ([]View, error) {
	routers, err := s.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(routers))
	for _, r := range routers {
		v := View{Router: r}
		if info, ok := s.polling.Session(strconv.FormatInt(r.ID, 10)); ok {
			v.Session = &info
		}
		views = append(views, v)
	}
	return views, nil
}

// Status reports the live session and the last published state of a router.
func (s *Service) Status(ctx context.Context, tenantID, routerID int64) (*Status, error) {
	r, err := s.Get(ctx, tenantID, routerID)
	if err != nil {
		return nil, err
	}
	st := &Status{RouterID: r.ID, Name: r.Name}
	if info, ok := s.polling.Session(strconv.FormatInt(r.ID, 10)); ok {
		st.Session = &info
	}
	if s.status != nil {
		last, err := s.status.Load(ctx, strconv.FormatInt(r.ID, 10))
		if err != nil {
			zap.L().Warn("load router status failed", zap.Int64("router", r.ID), zap.Error(err))
		} else if len(last) > 0 {
			st.Last = last
		}
	}
	return st, nil
}

// Disconnect closes the polling sessions of a router. It reports whether any
// session was open.
func (s *Service) Disconnect(ctx context.Context, tenantID, routerID int64) (bool, error) {
	r, err := s.Get(ctx, tenantID, routerID)
	if err != nil {
		return false, err
	}
	s.Forget(routerID)
	return s.polling.DisconnectRouter(strconv.FormatInt(r.ID, 10)) > 0, nil
}

// Execute runs one console line on the router's polling session.
func (s *Service) Execute(ctx context.Context, tenantID, routerID int64, line string) ([]routeros.Row, error) {
	cmd, err := routeros.ParseCommand(line)
	if err != nil {
		return nil, &BadCommandError{Err: err}
	}
	id, err := s.Resolve(ctx, tenantID, routerID)
	if err != nil {
		return nil, err
	}
	return s.polling.Execute(ctx, id, cmd)
}

// BadCommandError reports an unparsable console line.
type BadCommandError struct {
	Err error
}

func (e *BadCommandError) Error() string { return "bad command: " + e.Err.Error() }
func (e *BadCommandError) Unwrap() error { return e.Err }
