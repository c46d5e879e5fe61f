package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"RouterGate/pkg/routeros"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printTable(&buf, []routeros.Row{
		{"name": "ether1", ".id": "*1"},
		{"name": "ether2", ".id": "*2", "comment": "uplink"},
	}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{".ID", "COMMENT", "NAME"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"*1", "ether1"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"*2", "uplink", "ether2"}, strings.Fields(lines[2]))

	buf.Reset()
	require.NoError(t, printTable(&buf, nil))
	assert.Equal(t, "(no rows)\n", buf.String())
}

func TestRunExec_BadCommand(t *testing.T) {
	var buf bytes.Buffer
	err := runExec(context.Background(), &buf, execOptions{id: routeros.Identity{Host: "127.0.0.1"}}, `/ip "unterminated`)
	assert.Error(t, err)
	assert.Empty(t, buf.String())
}
