package terminal

import (
	"context"
	"errors"
	"io"

	"RouterGate/pkg/routeros"
)

const (
	ModeSSH = "ssh"
	ModeAPI = "api"
)

var ErrUnknownMode = errors.New("unknown terminal mode")

// Size is a terminal window in character cells.
type Size struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (s Size) valid() bool {
	return s.Cols > 0 && s.Rows > 0 && s.Cols <= 1000 && s.Rows <= 1000
}

// Target is the router a terminal is opened to.
type Target struct {
	RouterID   int64
	Identity   routeros.Identity
	SSHAddress string
}

// Stream is the router side of a terminal: Read yields output, Write takes
// keystrokes.
type Stream interface {
	io.ReadWriteCloser
	Resize(size Size) error
}

// Opener starts a Stream. ctx bounds only the opening handshake.
type Opener interface {
	Open(ctx context.Context, target Target, size Size) (Stream, error)
}
