package terminal

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"RouterGate/pkg/routeros"

	"go.uber.org/zap"
)

const maxLineLen = 4096

// APIOpener serves a line console over the RouterOS API for routers where
// SSH is unavailable. Each console pins a session of its own manager so the
// session outlives idle polls but is reaped soon after the console closes.
type APIOpener struct {
	sessions *routeros.Manager
}

func NewAPIOpener(sessions *routeros.Manager) *APIOpener {
	return &APIOpener{sessions: sessions}
}

func (o *APIOpener) Open(ctx context.Context, target Target, size Size) (Stream, error) {
	sess, err := o.sessions.Acquire(target.Identity)
	if err != nil {
		return nil, err
	}
	// the identity lookup also proves the credentials before streaming starts
	rows, err := sess.Execute(ctx, routeros.NewCommand("/system/identity/print"))
	if err != nil {
		o.sessions.Release(sess)
		return nil, err
	}
	name := target.Identity.Name()
	if len(rows) > 0 && rows[0].Get("name") != "" {
		name = rows[0].Get("name")
	}

	cctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	c := &apiConsole{
		sessions: o.sessions,
		sess:     sess,
		prompt:   fmt.Sprintf("[%s@%s] > ", target.Identity.Username, name),
		out:      pr,
		pw:       pw,
		lines:    make(chan string, 16),
		ctx:      cctx,
		cancel:   cancel,
	}
	go c.run(name)
	return c, nil
}

type apiConsole struct {
	sessions *routeros.Manager
	sess     *routeros.Session
	prompt   string

	out *io.PipeReader
	pw  *io.PipeWriter

	mu   sync.Mutex // guards line
	line []byte

	lines  chan string
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (c *apiConsole) run(name string) {
	c.print("RouterOS API console on " + name + ", type quit to leave\r\n" + c.prompt)
	for {
		select {
		case <-c.ctx.Done():
			return
		case line := <-c.lines:
			if c.exec(line) {
				c.pw.CloseWithError(io.EOF)
				return
			}
			c.print(c.prompt)
		}
	}
}

// exec runs one console line and reports whether the console should end.
func (c *apiConsole) exec(line string) bool {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false
	case "quit", "exit", "/quit":
		c.print("bye\r\n")
		return true
	}
	cmd, err := routeros.ParseCommand(line)
	if err != nil {
		c.print("syntax error: " + err.Error() + "\r\n")
		return false
	}
	rows, err := c.sess.Execute(c.ctx, cmd)
	if err != nil {
		if c.ctx.Err() != nil {
			return true
		}
		c.print("failure: " + err.Error() + "\r\n")
		// a dropped session reconnects on the next command, an expired one does not
		return routeros.KindOf(err) == routeros.KindSessionExpired
	}
	c.print(formatRows(rows))
	return false
}

// formatRows renders rows the way /print does with detail: one numbered row
// of key=value pairs, .id first.
func formatRows(rows []routeros.Row) string {
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	for i, row := range rows {
		keys := make([]string, 0, len(row))
		for k := range row {
			if k != ".id" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		fmt.Fprintf(&b, "%2d ", i)
		if id, ok := row[".id"]; ok {
			fmt.Fprintf(&b, " .id=%s", id)
		}
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, quoteValue(row[k]))
		}
		b.WriteString("\r\n")
	}
	return b.String()
}

func quoteValue(v string) string {
	if v == "" || strings.ContainsAny(v, " \t\"") {
		return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return v
}

func (c *apiConsole) print(s string) {
	if s == "" {
		return
	}
	if _, err := io.WriteString(c.pw, s); err != nil && err != io.ErrClosedPipe {
		zap.L().Debug("api console write failed", zap.Error(err))
	}
}

func (c *apiConsole) Read(p []byte) (int, error) { return c.out.Read(p) }

// Write feeds keystrokes. Input is echoed, edited and dispatched a line at
// a time.
func (c *apiConsole) Write(p []byte) (int, error) {
	if c.ctx.Err() != nil {
		return 0, io.ErrClosedPipe
	}
	n := len(p)
	var echo strings.Builder
	var done []string

	c.mu.Lock()
	for len(p) > 0 {
		r, size := utf8.DecodeRune(p)
		p = p[size:]
		switch r {
		case '\r', '\n':
			echo.WriteString("\r\n")
			done = append(done, string(c.line))
			c.line = c.line[:0]
		case 0x7f, '\b':
			if len(c.line) > 0 {
				_, w := utf8.DecodeLastRune(c.line)
				c.line = c.line[:len(c.line)-w]
				echo.WriteString("\b \b")
			}
		case 0x03: // ctrl-c
			c.line = c.line[:0]
			echo.WriteString("^C\r\n" + c.prompt)
		case 0x1b:
			// escape sequences (arrows) are not supported, drop the rest of the chunk
			p = nil
		default:
			if r < 0x20 || len(c.line) >= maxLineLen {
				continue
			}
			c.line = utf8.AppendRune(c.line, r)
			echo.WriteRune(r)
		}
	}
	c.mu.Unlock()

	c.print(echo.String())
	for _, l := range done {
		select {
		case c.lines <- l:
		case <-c.ctx.Done():
			return 0, io.ErrClosedPipe
		}
	}
	return n, nil
}

// Resize is a no-op: output is line oriented.
func (c *apiConsole) Resize(Size) error { return nil }

func (c *apiConsole) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.pw.Close()
		c.out.Close()
		c.sessions.Release(c.sess)
	})
	return nil
}
