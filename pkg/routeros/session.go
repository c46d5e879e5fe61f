package routeros

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// State is the connection state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateFailed:
		return "Failed"
	default:
		return "Disconnected"
	}
}

var errSessionClosed = errors.New("session closed")

type request struct {
	ctx   context.Context
	words []string
	resp  chan result
}

type result struct {
	rows []Row
	err  error
}

// Session owns at most one API connection to a router. All commands go
// through a single worker goroutine, matching the synchronous framing of the
// API: one sentence out, the full reply back, then the next command.
type Session struct {
	id       Identity
	key      string
	dialer   Dialer
	opts     Options
	observer Observer
	logger   *zap.Logger

	reqCh     chan *request
	closeCh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	state        atomic.Int32
	lastActivity atomic.Int64
	commands     atomic.Int64
	failures     atomic.Int64
	dials        atomic.Int64

	// refs is guarded by Manager.mu.
	refs int

	// owned by loop
	conn         Conn
	authFailedAt time.Time
	authErr      error
}

func newSession(id Identity, dialer Dialer, opts Options, observer Observer, logger *zap.Logger) *Session {
	s := &Session{
		id:       id,
		key:      id.Key(),
		dialer:   dialer,
		opts:     opts,
		observer: observer,
		logger:   logger.With(zap.String("router", id.Name()), zap.String("addr", id.Address())),
		reqCh:    make(chan *request, opts.QueueSize),
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.touch()
	go s.loop()
	return s
}

// Identity returns the router identity the session was opened for.
func (s *Session) Identity() Identity { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// LastActivity is the time the last command finished, or the creation time.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	s.logger.Debug("session state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	s.observer.StateChanged(s.id, from, to)
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

// loop 串行执行所有命令, 连接只在这里被读写
func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case req := <-s.reqCh:
			s.handle(req)
		case <-s.closeCh:
			s.drain()
			s.dropConn()
			return
		}
	}
}

// drain answers everything still queued so callers move to a fresh session.
func (s *Session) drain() {
	for {
		select {
		case req := <-s.reqCh:
			req.resp <- result{err: newError(KindSessionExpired, errSessionClosed)}
		default:
			return
		}
	}
}

func (s *Session) handle(req *request) {
	// select does not prefer closeCh, so a closed session may still pick up queued work
	if s.isClosed() {
		req.resp <- result{err: newError(KindSessionExpired, errSessionClosed)}
		return
	}
	// the caller already gave up while queued
	if err := req.ctx.Err(); err != nil {
		req.resp <- result{err: newError(KindTimeout, err)}
		return
	}
	if s.conn == nil {
		if err := s.connect(req.ctx); err != nil {
			req.resp <- result{err: err}
			return
		}
	}

	ctx, cancel := context.WithTimeout(req.ctx, s.opts.CommandTimeout)
	rows, err := s.conn.Run(ctx, req.words)
	cancel()
	s.touch()
	if err != nil {
		if classify(err).dropsConn() {
			s.logger.Warn("dropping connection after command failure", zap.Error(err))
			s.dropConn()
		}
	}
	req.resp <- result{rows: rows, err: err}
}

func (s *Session) connect(parent context.Context) error {
	if s.authErr != nil && time.Since(s.authFailedAt) < s.opts.AuthCooldown {
		return s.authErr
	}
	s.authErr = nil

	s.setState(StateConnecting)
	s.dials.Add(1)
	ctx, cancel := context.WithTimeout(parent, s.opts.DialTimeout)
	defer cancel()

	conn, err := s.dialer.Dial(ctx, s.id)
	if err != nil {
		kind := classify(err)
		if kind == KindUnknown {
			kind = KindUnreachable
		}
		var e *Error
		if !errors.As(err, &e) {
			err = newError(kind, err)
		}
		if kind == KindAuthFailed {
			s.authErr = err
			s.authFailedAt = time.Now()
		}
		s.setState(StateFailed)
		s.logger.Warn("connect failed", zap.Stringer("kind", kind), zap.Error(err))
		return err
	}
	s.conn = conn
	s.setState(StateConnected)
	s.logger.Info("connected")
	return nil
}

func (s *Session) dropConn() {
	if s.conn == nil {
		if s.State() != StateFailed {
			s.setState(StateDisconnected)
		}
		return
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("close connection", zap.Error(err))
	}
	s.conn = nil
	s.setState(StateDisconnected)
}

// do enqueues one attempt and waits for its result.
func (s *Session) do(ctx context.Context, words []string) ([]Row, error) {
	req := &request{ctx: ctx, words: words, resp: make(chan result, 1)}
	select {
	case s.reqCh <- req:
	case <-s.closeCh:
		return nil, newError(KindSessionExpired, errSessionClosed)
	case <-ctx.Done():
		return nil, newError(KindTimeout, ctx.Err())
	}

	select {
	case r := <-req.resp:
		return r.rows, r.err
	case <-ctx.Done():
		return nil, newError(KindTimeout, ctx.Err())
	case <-s.done:
		// prefer a result that raced with shutdown
		select {
		case r := <-req.resp:
			return r.rows, r.err
		default:
		}
		return nil, newError(KindSessionExpired, errSessionClosed)
	}
}

// Execute runs cmd on this session. Unreachable and timeout failures are
// retried with backoff, reconnecting on the way; authentication failures and
// rejected commands are returned at once.
func (s *Session) Execute(ctx context.Context, cmd Command) ([]Row, error) {
	if cmd.Path == "" {
		return nil, withContext(newError(KindProtocol, ErrEmptyCommand), s.id.Name(), "")
	}
	words := cmd.Words()
	start := time.Now()

	op := func() ([]Row, error) {
		rows, err := s.do(ctx, words)
		if err == nil {
			return rows, nil
		}
		kind := KindOf(err)
		// a closed session cannot recover, the manager moves on to a new one
		if !kind.Retryable() || ctx.Err() != nil || s.isClosed() {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	rows, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(s.opts.newBackOff()),
		backoff.WithMaxTries(s.opts.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("retrying command",
				zap.String("command", cmd.String()),
				zap.Duration("backoff", next),
				zap.Error(err))
		}),
	)
	if err != nil {
		if KindOf(err) == KindUnknown {
			err = newError(classify(err), err)
		}
		err = withContext(err, s.id.Name(), cmd.String())
		s.failures.Add(1)
	}
	s.commands.Add(1)
	s.observer.CommandDone(s.id, cmd, time.Since(start), err)
	return rows, err
}

// Close stops the worker and closes the connection. It waits for a running
// command to finish.
func (s *Session) Close() {
	s.shutdown()
	<-s.done
}

// shutdown asks the worker to stop without waiting for it.
func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
	})
}

func (s *Session) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	RouterID     string    `json:"routerId"`
	Address      string    `json:"address"`
	Username     string    `json:"username"`
	State        string    `json:"state"`
	LastActivity time.Time `json:"lastActivity"`
	Commands     int64     `json:"commands"`
	Failures     int64     `json:"failures"`
	Dials        int64     `json:"dials"`
	Refs         int       `json:"refs"`
	Queued       int       `json:"queued"`
}

func (s *Session) info(refs int) SessionInfo {
	return SessionInfo{
		RouterID:     s.id.RouterID,
		Address:      s.id.Address(),
		Username:     s.id.Username,
		State:        s.State().String(),
		LastActivity: s.LastActivity(),
		Commands:     s.commands.Load(),
		Failures:     s.failures.Load(),
		Dials:        s.dials.Load(),
		Refs:         refs,
		Queued:       len(s.reqCh),
	}
}
