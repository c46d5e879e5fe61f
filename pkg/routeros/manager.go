package routeros

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Options bounds the resources a Manager holds.
type Options struct {
	DialTimeout    time.Duration
	CommandTimeout time.Duration
	// IdleTimeout closes sessions nobody holds and nobody used for this long.
	IdleTimeout  time.Duration
	ReapInterval time.Duration
	RetryBackoff time.Duration
	// MaxAttempts counts the first try, so 2 means one retry.
	MaxAttempts uint
	QueueSize   int
	// AuthCooldown is how long a rejected login is remembered before dialing again.
	AuthCooldown time.Duration
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 5 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 60 * time.Second
	}
	if o.ReapInterval <= 0 {
		o.ReapInterval = o.IdleTimeout / 4
		if o.ReapInterval < 10*time.Millisecond {
			o.ReapInterval = 10 * time.Millisecond
		}
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 200 * time.Millisecond
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 2
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.AuthCooldown <= 0 {
		o.AuthCooldown = 30 * time.Second
	}
	return o
}

func (o Options) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.RetryBackoff
	b.MaxInterval = 8 * o.RetryBackoff
	return b
}

// Observer receives session events. Calls are made from session goroutines
// and must not block.
type Observer interface {
	CommandDone(id Identity, cmd Command, elapsed time.Duration, err error)
	StateChanged(id Identity, from, to State)
}

type nopObserver struct{}

func (nopObserver) CommandDone(Identity, Command, time.Duration, error) {}
func (nopObserver) StateChanged(Identity, State, State)                 {}

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithName tags the manager's log lines, e.g. "polling" or "terminal".
func WithName(name string) Option {
	return func(m *Manager) {
		m.name = name
	}
}

// Manager hands out one shared Session per (router, credentials) pair and
// closes sessions that stay idle.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	dialer   Dialer
	opts     Options
	observer Observer
	logger   *zap.Logger
	name     string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewManager(dialer Dialer, opts Options, options ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		dialer:   dialer,
		opts:     opts.withDefaults(),
		observer: nopObserver{},
		logger:   zap.L(),
		name:     "routeros",
		stopCh:   make(chan struct{}),
	}
	for _, o := range options {
		o(m)
	}
	m.logger = m.logger.With(zap.String("manager", m.name))

	m.wg.Add(1)
	go m.reapLoop()
	return m
}

func (m *Manager) Name() string { return m.name }

// Acquire returns the session for id and pins it: the reaper leaves pinned
// sessions alone until every Acquire is matched by a Release. A session that
// is shutting down stays registered until its connection is closed, and
// Acquire waits for that before opening the next one.
func (m *Manager) Acquire(id Identity) (*Session, error) {
	key := id.Key()
	m.mu.Lock()
	for {
		if m.closed {
			m.mu.Unlock()
			return nil, withContext(newError(KindClosed, nil), id.Name(), "")
		}
		s, ok := m.sessions[key]
		if ok && !s.isClosed() {
			s.refs++
			m.mu.Unlock()
			return s, nil
		}
		if ok && !s.exited() {
			m.mu.Unlock()
			<-s.done
			m.mu.Lock()
			continue
		}
		s = newSession(id, m.dialer, m.opts, m.observer, m.logger)
		m.sessions[key] = s
		s.refs++
		m.mu.Unlock()
		m.logger.Debug("session created", zap.String("router", id.Name()), zap.String("addr", id.Address()))
		return s, nil
	}
}

// Release drops a pin taken by Acquire.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}
	m.mu.Lock()
	if s.refs > 0 {
		s.refs--
	}
	m.mu.Unlock()
	s.touch()
}

// Execute runs cmd against the router described by id, sharing the
// router's session with every other caller.
func (m *Manager) Execute(ctx context.Context, id Identity, cmd Command) ([]Row, error) {
	for attempt := 0; ; attempt++ {
		s, err := m.Acquire(id)
		if err != nil {
			return nil, withContext(err, id.Name(), cmd.String())
		}
		rows, err := s.Execute(ctx, cmd)
		m.Release(s)

		// the session was disconnected under us: reconnect once on a new one
		if err != nil && attempt == 0 && KindOf(err) == KindSessionExpired && s.isClosed() && ctx.Err() == nil {
			continue
		}
		return rows, err
	}
}

// Disconnect closes the session for id, if any. Commands still queued on it
// fail with SessionExpired and in-flight Execute calls move to a new session
// once the old connection is closed.
func (m *Manager) Disconnect(id Identity) bool {
	m.mu.Lock()
	s, ok := m.sessions[id.Key()]
	if !ok || s.isClosed() {
		m.mu.Unlock()
		return false
	}
	s.shutdown()
	m.mu.Unlock()

	m.retire(s)
	m.logger.Info("session disconnected", zap.String("router", id.Name()))
	return true
}

// DisconnectRouter closes every session opened for routerID regardless of
// credentials.
func (m *Manager) DisconnectRouter(routerID string) int {
	m.mu.Lock()
	var victims []*Session
	for _, s := range m.sessions {
		if s.id.RouterID == routerID && !s.isClosed() {
			s.shutdown()
			victims = append(victims, s)
		}
	}
	m.mu.Unlock()
	for _, s := range victims {
		m.retire(s)
	}
	if len(victims) > 0 {
		m.logger.Info("router sessions disconnected", zap.String("router", routerID), zap.Int("count", len(victims)))
	}
	return len(victims)
}

// retire waits for a shut down session to close its connection, then
// unregisters it unless Acquire already replaced it.
func (m *Manager) retire(s *Session) {
	<-s.done
	m.mu.Lock()
	if cur, ok := m.sessions[s.key]; ok && cur == s {
		delete(m.sessions, s.key)
	}
	m.mu.Unlock()
}

// Sessions returns a snapshot sorted by router id.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info(s.refs))
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].RouterID != out[j].RouterID {
			return out[i].RouterID < out[j].RouterID
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Session returns the info of the live session for routerID, if any.
func (m *Manager) Session(routerID string) (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.id.RouterID == routerID && !s.isClosed() {
			return s.info(s.refs), true
		}
	}
	return SessionInfo{}, false
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) reapLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.reapIdle(now)
		}
	}
}

// reapIdle 关闭无人持有且超过空闲时间的会话
func (m *Manager) reapIdle(now time.Time) int {
	m.mu.Lock()
	var idle []*Session
	for k, s := range m.sessions {
		if s.isClosed() {
			if s.exited() && s.refs == 0 {
				delete(m.sessions, k)
			}
			continue
		}
		if s.refs > 0 {
			continue
		}
		if now.Sub(s.LastActivity()) < m.opts.IdleTimeout {
			continue
		}
		s.shutdown()
		idle = append(idle, s)
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.retire(s)
		m.logger.Info("idle session closed",
			zap.String("router", s.id.Name()),
			zap.Time("last_activity", s.LastActivity()))
	}
	return len(idle)
}

// Close stops the reaper and closes every session. Further calls fail with
// KindClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	all := make([]*Session, 0, len(m.sessions))
	for k, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, k)
	}
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
		}(s)
	}
	wg.Wait()
	m.logger.Info("session manager closed", zap.Int("sessions", len(all)))
}
