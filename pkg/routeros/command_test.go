package routeros

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_Words(t *testing.T) {
	cmd := NewCommand("/interface/print").
		With("stats", "").
		With("without-paging", "").
		Props("name", "rx-byte").
		Where("type", "ether")

	assert.Equal(t, []string{
		"/interface/print",
		"=stats=",
		"=without-paging=",
		"=.proplist=name,rx-byte",
		"?type=ether",
	}, cmd.Words())
	assert.Equal(t, "/interface/print", cmd.String())
}

func TestCommand_BuildersDoNotAlias(t *testing.T) {
	base := NewCommand("/ip/firewall/filter/print").Where("chain", "input")
	a := base.Where("disabled", "no")
	b := base.With("count-only", "")

	assert.Len(t, base.Query, 1)
	assert.Len(t, a.Query, 2)
	assert.Empty(t, base.Args)
	assert.Len(t, b.Args, 1)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{"api style", "/ip/address/print", []string{"/ip/address/print"}},
		{"cli style", "/ip address print", []string{"/ip/address/print"}},
		{"cli style with attribute", "/interface monitor-traffic interface=ether1 once",
			[]string{"/interface/monitor-traffic", "=interface=ether1", "=once="}},
		{"query", "/ppp/active/print ?service=pppoe", []string{"/ppp/active/print", "?service=pppoe"}},
		{"proplist", "/interface/print .proplist=name,type", []string{"/interface/print", "=.proplist=name,type"}},
		{"api attribute", "/system/identity/set =name=core-1", []string{"/system/identity/set", "=name=core-1"}},
		{"quoted value", `/log/info message="hello world"`, []string{"/log/info", "=message=hello world"}},
		{"escaped quote", `/log/info message="say \"hi\""`, []string{"/log/info", `=message=say "hi"`}},
		{"extra spaces", "  /system/resource/print   ", []string{"/system/resource/print"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd.Words())
		})
	}
}

func TestParseCommand_Errors(t *testing.T) {
	_, err := ParseCommand("   ")
	assert.ErrorIs(t, err, ErrEmptyCommand)

	_, err = ParseCommand("interface print")
	assert.Error(t, err)

	_, err = ParseCommand(`/log/info message="open`)
	assert.Error(t, err)

	_, err = ParseCommand("/interface/set =value")
	assert.NoError(t, err)

	_, err = ParseCommand("/interface/set ==x")
	assert.Error(t, err)
}

func TestErrorKinds(t *testing.T) {
	err := withContext(newError(KindUnreachable, errors.New("refused")), "r9", "/interface/print")

	assert.ErrorIs(t, err, ErrUnreachable)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, KindUnreachable, KindOf(err))
	assert.Contains(t, err.Error(), "router=r9")
	assert.Contains(t, err.Error(), "command=/interface/print")

	wrapped := fmt.Errorf("dashboard: %w", err)
	assert.Equal(t, KindUnreachable, KindOf(wrapped))

	assert.Equal(t, KindTimeout, KindOf(withContext(context.DeadlineExceeded, "r1", "")))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Nil(t, withContext(nil, "r1", "x"))

	assert.True(t, KindTimeout.Retryable())
	assert.True(t, KindSessionExpired.Retryable())
	assert.False(t, KindAuthFailed.Retryable())
	assert.False(t, KindCommandRejected.Retryable())
	assert.False(t, KindCommandRejected.dropsConn())
	assert.True(t, KindProtocol.dropsConn())
}

func TestIdentity(t *testing.T) {
	id := Identity{RouterID: "r1", Host: "192.0.2.1", Username: "admin", Password: "pw"}
	assert.Equal(t, "192.0.2.1:8728", id.Address())

	tlsID := id
	tlsID.TLS = true
	assert.Equal(t, "192.0.2.1:8729", tlsID.Address())
	assert.NotEqual(t, id.Key(), tlsID.Key())

	other := id
	other.Password = "pw2"
	assert.NotEqual(t, id.Key(), other.Key())
	assert.NotContains(t, id.Key(), "pw#")

	id.Port = 18728
	assert.Equal(t, "192.0.2.1:18728", id.Address())
}

func TestRow(t *testing.T) {
	r := Row{"running": "true", "disabled": "no", "rx-byte": "1024", "mtu": "x"}
	assert.True(t, r.Bool("running"))
	assert.False(t, r.Bool("disabled"))
	assert.EqualValues(t, 1024, r.Uint("rx-byte"))
	assert.EqualValues(t, 0, r.Int("mtu"))
	assert.Equal(t, "", r.Get("missing"))
}
