package terminal

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type State int32

const (
	StateIdle State = iota
	StateHandshaking
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const (
	defaultPongWait  = 60 * time.Second
	defaultWriteWait = 10 * time.Second
	readLimit        = 64 << 10
	outputBufSize    = 32 << 10
	// frames typed before the stream is open
	pendingFrames = 16
)

// RelayOptions carries the heartbeat timing of a relay.
type RelayOptions struct {
	PongWait  time.Duration
	WriteWait time.Duration
}

func (o RelayOptions) withDefaults() RelayOptions {
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	return o
}

func (o RelayOptions) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// control is a text frame from the browser that is not keyboard input.
type control struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// Info is a snapshot of a relay for listings.
type Info struct {
	ID        string    `json:"id"`
	RouterID  int64     `json:"routerId"`
	UserID    int64     `json:"userId"`
	Mode      string    `json:"mode"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"startedAt"`
	BytesIn   int64     `json:"bytesIn"`
	BytesOut  int64     `json:"bytesOut"`
}

type frame struct {
	mt  int
	msg []byte
}

// Relay copies bytes between one browser WebSocket and one router Stream.
// Data frames are written only by the output pump; pings and the close frame
// go through WriteControl, which gorilla allows concurrently. The socket has
// a single reader from the handshake on, so a browser leaving before the
// stream is open is noticed at once.
type Relay struct {
	id        string
	tenantID  int64
	routerID  int64
	userID    int64
	mode      string
	startedAt time.Time

	conn *websocket.Conn
	opts RelayOptions

	mu     sync.Mutex // guards stream until Streaming
	stream Stream

	state    atomic.Int32
	bytesIn  atomic.Int64
	bytesOut atomic.Int64

	frames   chan frame
	readDone chan struct{}
	readErr  error // set before readDone is closed

	closeOnce sync.Once
	done      chan struct{}
	onClose   func(*Relay)
	logger    *zap.Logger
}

func newRelay(conn *websocket.Conn, opts RelayOptions) *Relay {
	r := &Relay{
		conn:      conn,
		opts:      opts.withDefaults(),
		startedAt: time.Now(),
		frames:    make(chan frame, pendingFrames),
		readDone:  make(chan struct{}),
		done:      make(chan struct{}),
		logger:    zap.L(),
	}
	r.state.Store(int32(StateIdle))
	return r
}

func (r *Relay) ID() string { return r.id }

func (r *Relay) RouterID() int64 { return r.routerID }

func (r *Relay) State() State { return State(r.state.Load()) }

// Done is closed once the relay has shut down.
func (r *Relay) Done() <-chan struct{} { return r.done }

func (r *Relay) Info() Info {
	return Info{
		ID:        r.id,
		RouterID:  r.routerID,
		UserID:    r.userID,
		Mode:      r.mode,
		State:     r.State().String(),
		StartedAt: r.startedAt,
		BytesIn:   r.bytesIn.Load(),
		BytesOut:  r.bytesOut.Load(),
	}
}

// transition moves from one state to the next and reports whether it did.
func (r *Relay) transition(from, to State) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

// reject ends a relay that never reached Streaming.
func (r *Relay) reject(code int, reason string) {
	r.logger.Info("terminal rejected", zap.Int("code", code), zap.String("reason", reason))
	r.shutdown(code, reason)
}

// watch starts reading the socket and pinging the browser. It is called
// once, when the handshake begins.
func (r *Relay) watch() {
	go r.readLoop()
	go r.pingLoop()
}

func (r *Relay) browserLeft() bool {
	select {
	case <-r.readDone:
		return true
	default:
		return false
	}
}

// run streams until either side goes away. It blocks.
func (r *Relay) run(stream Stream) {
	r.mu.Lock()
	if !r.transition(StateHandshaking, StateStreaming) {
		r.mu.Unlock()
		stream.Close()
		return
	}
	r.stream = stream
	r.mu.Unlock()
	r.logger.Info("terminal streaming", zap.String("mode", r.mode))

	go r.pumpOutput()
	code, reason := r.pumpInput()
	r.shutdown(code, reason)
}

func (r *Relay) readLoop() {
	defer close(r.readDone)
	r.conn.SetReadLimit(readLimit)
	r.conn.SetReadDeadline(time.Now().Add(r.opts.PongWait))
	r.conn.SetPongHandler(func(string) error {
		r.conn.SetReadDeadline(time.Now().Add(r.opts.PongWait))
		return nil
	})
	for {
		mt, msg, err := r.conn.ReadMessage()
		if err != nil {
			r.readErr = err
			return
		}
		r.conn.SetReadDeadline(time.Now().Add(r.opts.PongWait))
		select {
		case r.frames <- frame{mt: mt, msg: msg}:
		case <-r.done:
			return
		}
	}
}

// readEnd maps the error that stopped readLoop to a close frame.
func (r *Relay) readEnd() (int, string) {
	err := r.readErr
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return websocket.CloseNormalClosure, "bye"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		r.logger.Info("terminal heartbeat timed out")
		return websocket.CloseGoingAway, "heartbeat timeout"
	}
	if err != nil && r.State() != StateClosed {
		r.logger.Debug("terminal read ended", zap.Error(err))
	}
	return websocket.CloseNormalClosure, ""
}

func (r *Relay) pumpInput() (int, string) {
	for {
		select {
		case f := <-r.frames:
			if code, reason, ok := r.input(f); !ok {
				return code, reason
			}
		case <-r.readDone:
			// frames queued during the handshake still go to the router
			for {
				select {
				case f := <-r.frames:
					if code, reason, ok := r.input(f); !ok {
						return code, reason
					}
				default:
					return r.readEnd()
				}
			}
		}
	}
}

func (r *Relay) input(f frame) (int, string, bool) {
	if f.mt == websocket.TextMessage && r.handleControl(f.msg) {
		return 0, "", true
	}
	r.bytesIn.Add(int64(len(f.msg)))
	if _, err := r.stream.Write(f.msg); err != nil {
		r.logger.Debug("terminal input rejected", zap.Error(err))
		return websocket.CloseNormalClosure, "session ended", false
	}
	return 0, "", true
}

// handleControl applies msg if it is a control frame. Anything else is
// keyboard input.
func (r *Relay) handleControl(msg []byte) bool {
	if len(msg) == 0 || msg[0] != '{' || !bytes.Contains(msg, []byte(`"type"`)) {
		return false
	}
	var ctl control
	if err := json.Unmarshal(msg, &ctl); err != nil || ctl.Type == "" {
		return false
	}
	switch ctl.Type {
	case "resize":
		size := Size{Cols: ctl.Cols, Rows: ctl.Rows}
		if !size.valid() {
			r.logger.Debug("ignoring bad resize", zap.Int("cols", ctl.Cols), zap.Int("rows", ctl.Rows))
			return true
		}
		if err := r.stream.Resize(size); err != nil {
			r.logger.Warn("terminal resize failed", zap.Error(err))
		}
	default:
		r.logger.Debug("unknown control frame", zap.String("type", ctl.Type))
	}
	return true
}

func (r *Relay) pumpOutput() {
	buf := make([]byte, outputBufSize)
	for {
		n, err := r.stream.Read(buf)
		if n > 0 {
			r.bytesOut.Add(int64(n))
			r.conn.SetWriteDeadline(time.Now().Add(r.opts.WriteWait))
			if werr := r.conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				r.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		}
		if err != nil {
			r.shutdown(websocket.CloseNormalClosure, "session ended")
			return
		}
	}
}

func (r *Relay) pingLoop() {
	ticker := time.NewTicker(r.opts.pingPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			if err := r.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(r.opts.WriteWait)); err != nil {
				r.logger.Debug("terminal ping failed", zap.Error(err))
				r.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// Close ends the relay from the server side, e.g. on gateway shutdown.
func (r *Relay) Close(reason string) {
	r.shutdown(websocket.CloseGoingAway, reason)
}

func (r *Relay) shutdown(code int, reason string) {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.state.Store(int32(StateClosed))
		stream := r.stream
		r.mu.Unlock()
		if stream != nil {
			stream.Close()
		}
		if code != websocket.CloseAbnormalClosure {
			msg := websocket.FormatCloseMessage(code, reason)
			_ = r.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(r.opts.WriteWait))
		}
		r.conn.Close()
		close(r.done)
		if r.onClose != nil {
			r.onClose(r)
		}
		if r.id != "" {
			r.logger.Info("terminal closed",
				zap.String("reason", reason),
				zap.Int64("bytes_in", r.bytesIn.Load()),
				zap.Int64("bytes_out", r.bytesOut.Load()),
				zap.Duration("duration", time.Since(r.startedAt)))
		}
	})
}
