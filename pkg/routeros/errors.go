package routeros

import (
	"context"
	"fmt"
	"net"

	"github.com/cockroachdb/errors"
)

// Kind classifies a failure talking to a router.
type Kind int

const (
	KindUnknown Kind = iota
	// KindAuthFailed means the router rejected the credentials. Never retried.
	KindAuthFailed
	// KindUnreachable covers dial failures and dropped connections.
	KindUnreachable
	// KindTimeout means the command did not complete within its deadline.
	KindTimeout
	// KindProtocol means the reply did not have the expected shape.
	KindProtocol
	// KindSessionExpired means the session was closed by the idle reaper or by an explicit disconnect.
	KindSessionExpired
	// KindCommandRejected means the router answered !trap; the session is still usable.
	KindCommandRejected
	// KindClosed means the manager is shutting down.
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindAuthFailed:
		return "AuthFailed"
	case KindUnreachable:
		return "Unreachable"
	case KindTimeout:
		return "Timeout"
	case KindProtocol:
		return "ProtocolError"
	case KindSessionExpired:
		return "SessionExpired"
	case KindCommandRejected:
		return "CommandRejected"
	case KindClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Retryable reports whether a command that failed with this kind may be retried
// on a fresh connection.
func (k Kind) Retryable() bool {
	return k == KindUnreachable || k == KindTimeout || k == KindSessionExpired
}

// dropsConn reports whether the underlying connection must be discarded.
func (k Kind) dropsConn() bool {
	return k != KindCommandRejected && k != KindUnknown
}

// Error is the typed failure returned by every operation of this package.
type Error struct {
	Kind     Kind
	RouterID string
	Command  string
	Err      error
}

var (
	ErrAuthFailed      = &Error{Kind: KindAuthFailed}
	ErrUnreachable     = &Error{Kind: KindUnreachable}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrProtocol        = &Error{Kind: KindProtocol}
	ErrSessionExpired  = &Error{Kind: KindSessionExpired}
	ErrCommandRejected = &Error{Kind: KindCommandRejected}
	ErrClosed          = &Error{Kind: KindClosed}
)

func (e *Error) Error() string {
	msg := fmt.Sprintf("routeros %s", e.Kind)
	if e.RouterID != "" {
		msg += " router=" + e.RouterID
	}
	if e.Command != "" {
		msg += " command=" + e.Command
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so errors.Is(err, ErrAuthFailed) works for any router.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

// withContext fills router and command into err when it is one of ours, or
// classifies it first.
func withContext(err error, routerID, command string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		e = newError(classify(err), err)
	} else {
		cp := *e
		e = &cp
	}
	if e.RouterID == "" {
		e.RouterID = routerID
	}
	if e.Command == "" {
		e.Command = command
	}
	return e
}

// classify maps transport-level errors to a Kind.
func classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindUnreachable
}
