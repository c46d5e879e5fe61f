package routeros

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	ros "github.com/go-routeros/routeros/v3"
)

// Conn is one authenticated API connection. A Session serialises calls, so
// implementations need not be safe for concurrent use.
type Conn interface {
	Run(ctx context.Context, words []string) ([]Row, error)
	Close() error
}

// Dialer opens authenticated connections.
type Dialer interface {
	Dial(ctx context.Context, id Identity) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, id Identity) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, id Identity) (Conn, error) {
	return f(ctx, id)
}

type APIDialerConfig struct {
	DialTimeout time.Duration
	// TLSConfig is used for identities with TLS set. ServerName defaults to the router host.
	TLSConfig *tls.Config
}

type apiDialer struct {
	cfg APIDialerConfig
}

// NewAPIDialer returns a Dialer speaking the RouterOS API through go-routeros.
func NewAPIDialer(cfg APIDialerConfig) Dialer {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &apiDialer{cfg: cfg}
}

func (d *apiDialer) Dial(ctx context.Context, id Identity) (Conn, error) {
	nd := &net.Dialer{Timeout: d.cfg.DialTimeout}
	raw, err := nd.DialContext(ctx, "tcp", id.Address())
	if err != nil {
		return nil, newError(KindUnreachable, errors.Wrapf(err, "dial %s", id.Address()))
	}

	var conn net.Conn = raw
	if id.TLS {
		tlsCfg := &tls.Config{}
		if d.cfg.TLSConfig != nil {
			tlsCfg = d.cfg.TLSConfig.Clone()
		}
		if tlsCfg.ServerName == "" {
			tlsCfg.ServerName = id.Host
		}
		tc := tls.Client(raw, tlsCfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, newError(KindUnreachable, errors.Wrap(err, "tls handshake"))
		}
		conn = tc
	}

	deadline := time.Now().Add(d.cfg.DialTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	client, err := ros.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, newError(KindProtocol, errors.Wrap(err, "new client"))
	}
	if err := client.Login(id.Username, id.Password); err != nil {
		client.Close()
		var de *ros.DeviceError
		if errors.As(err, &de) && !isFatal(de) {
			return nil, newError(KindAuthFailed, err)
		}
		// a dropped socket or !fatal also happens for available-from or session limits,
		// so it is not remembered as bad credentials
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, newError(KindUnreachable, errors.Wrap(err, "connection closed during login"))
		}
		if de != nil {
			return nil, newError(KindUnreachable, errors.Wrap(err, "login refused"))
		}
		return nil, newError(classify(err), errors.Wrap(err, "login"))
	}
	_ = conn.SetDeadline(time.Time{})
	return &apiConn{client: client, conn: conn}, nil
}

type apiConn struct {
	client *ros.Client
	conn   net.Conn
}

func (c *apiConn) Run(ctx context.Context, words []string) ([]Row, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(dl)
	}
	// expire the socket when the caller gives up so RunArgs returns
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	reply, err := c.client.RunArgs(words)
	if err != nil {
		return nil, c.classifyRunError(ctx, err)
	}
	_ = c.conn.SetDeadline(time.Time{})

	rows := make([]Row, 0, len(reply.Re))
	for _, s := range reply.Re {
		if s == nil || s.Word != "!re" {
			return nil, newError(KindProtocol, errors.Newf("unexpected sentence in reply"))
		}
		row := make(Row, len(s.Map))
		for k, v := range s.Map {
			row[k] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *apiConn) classifyRunError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return newError(KindTimeout, errors.WithSecondaryError(ctx.Err(), err))
	}
	var de *ros.DeviceError
	if errors.As(err, &de) {
		// the router closes the connection after !fatal
		if isFatal(de) {
			return newError(KindProtocol, err)
		}
		return newError(KindCommandRejected, err)
	}
	var ue *ros.UnknownReplyError
	if errors.As(err, &ue) {
		return newError(KindProtocol, err)
	}
	return newError(classify(err), err)
}

func isFatal(de *ros.DeviceError) bool {
	return de.Sentence != nil && de.Sentence.Word == "!fatal"
}

func (c *apiConn) Close() error {
	return c.client.Close()
}
