package terminal

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"RouterGate/pkg/routeros"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

type SSHOptions struct {
	Term        string
	DialTimeout time.Duration
	// HostKeyCallback defaults to accepting any key; routers are addressed by
	// inventory entries, not DNS.
	HostKeyCallback ssh.HostKeyCallback
}

// SSHOpener opens an interactive RouterOS shell over SSH with a PTY.
type SSHOpener struct {
	opts SSHOptions
}

func NewSSHOpener(opts SSHOptions) *SSHOpener {
	if opts.Term == "" {
		opts.Term = "xterm-256color"
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.HostKeyCallback == nil {
		opts.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	return &SSHOpener{opts: opts}
}

func (o *SSHOpener) Open(ctx context.Context, target Target, size Size) (Stream, error) {
	cfg := &ssh.ClientConfig{
		User:            target.Identity.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(target.Identity.Password)},
		HostKeyCallback: o.opts.HostKeyCallback,
		Timeout:         o.opts.DialTimeout,
	}

	dialer := net.Dialer{Timeout: o.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", target.SSHAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", target.SSHAddress, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	// cancelling ctx aborts the login and shell setup
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, target.SSHAddress, cfg)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, &routeros.Error{Kind: routeros.KindAuthFailed, RouterID: target.Identity.RouterID, Command: "ssh", Err: err}
		}
		return nil, fmt.Errorf("failed to establish SSH connection: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})
	client := ssh.NewClient(sshConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(o.opts.Term, size.Rows, size.Cols, modes); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to request PTY: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	pr, pw := io.Pipe()
	session.Stdout = pw
	session.Stderr = pw
	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	if !stop() {
		session.Close()
		client.Close()
		pw.Close()
		return nil, fmt.Errorf("ssh setup aborted: %w", ctx.Err())
	}

	s := &sshStream{client: client, session: session, stdin: stdin, out: pr}
	go func() {
		err := session.Wait()
		if err == nil {
			err = io.EOF
		}
		pw.CloseWithError(err)
		zap.L().Debug("ssh shell exited", zap.String("addr", target.SSHAddress), zap.Error(err))
	}()
	return s, nil
}

type sshStream struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	out     *io.PipeReader
	once    sync.Once
}

func (s *sshStream) Read(p []byte) (int, error)  { return s.out.Read(p) }
func (s *sshStream) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *sshStream) Resize(size Size) error {
	return s.session.WindowChange(size.Rows, size.Cols)
}

func (s *sshStream) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.session.Close()
		err = s.client.Close()
		_ = s.out.Close()
	})
	return err
}
