package routeros

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

// fakeRouter stands in for a RouterOS device. It records how many
// connections are open at once and hands out canned replies per path.
type fakeRouter struct {
	mu       sync.Mutex
	replies  map[string][]Row
	password string
	delay    time.Duration

	dials     atomic.Int64
	open      atomic.Int64
	maxOpen   atomic.Int64
	running   atomic.Int64
	maxActive atomic.Int64
	calls     atomic.Int64

	// failDials makes the next n dials fail as unreachable
	failDials atomic.Int64
	conns     []*fakeConn
}

func newFakeRouter(password string) *fakeRouter {
	return &fakeRouter{password: password, replies: make(map[string][]Row)}
}

func (r *fakeRouter) reply(path string, rows ...Row) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies[path] = rows
}

func (r *fakeRouter) Dial(ctx context.Context, id Identity) (Conn, error) {
	r.dials.Add(1)
	if r.failDials.Load() > 0 {
		r.failDials.Add(-1)
		return nil, newError(KindUnreachable, errors.New("connection refused"))
	}
	if id.Password != r.password {
		return nil, newError(KindAuthFailed, errors.New("invalid user name or password"))
	}
	n := r.open.Add(1)
	for {
		cur := r.maxOpen.Load()
		if n <= cur || r.maxOpen.CompareAndSwap(cur, n) {
			break
		}
	}
	c := &fakeConn{router: r}
	r.mu.Lock()
	r.conns = append(r.conns, c)
	r.mu.Unlock()
	return c, nil
}

// dropAll simulates the router resetting every open connection.
func (r *fakeRouter) dropAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		c.broken.Store(true)
	}
}

type fakeConn struct {
	router *fakeRouter
	broken atomic.Bool
	closed atomic.Bool
}

func (c *fakeConn) Run(ctx context.Context, words []string) ([]Row, error) {
	r := c.router
	r.calls.Add(1)
	if c.broken.Load() {
		return nil, newError(KindUnreachable, errors.New("connection reset by peer"))
	}
	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		cur := r.maxActive.Load()
		if n <= cur || r.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, newError(KindTimeout, ctx.Err())
		}
	}

	path := words[0]
	if strings.HasSuffix(path, "/bogus") {
		return nil, newError(KindCommandRejected, errors.New("no such command"))
	}
	r.mu.Lock()
	rows, ok := r.replies[path]
	r.mu.Unlock()
	if !ok {
		return []Row{}, nil
	}
	out := make([]Row, len(rows))
	for i, row := range rows {
		cp := make(Row, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out[i] = cp
	}
	return out, nil
}

func (c *fakeConn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.router.open.Add(-1)
	}
	return nil
}

type recordingObserver struct {
	mu       sync.Mutex
	commands []error
	states   []State
}

func (o *recordingObserver) CommandDone(_ Identity, _ Command, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commands = append(o.commands, err)
}

func (o *recordingObserver) StateChanged(_ Identity, _, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, to)
}

func (o *recordingObserver) stateLog() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.states...)
}

func testOptions() Options {
	return Options{
		DialTimeout:    time.Second,
		CommandTimeout: time.Second,
		IdleTimeout:    time.Hour,
		ReapInterval:   time.Hour,
		RetryBackoff:   time.Millisecond,
	}
}

func testIdentity(password string) Identity {
	return Identity{RouterID: "r1", Host: "10.0.0.1", Username: "admin", Password: password}
}
