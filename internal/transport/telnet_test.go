package transport

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ziutek/telnet"

	"github.com/telnet2/shelld/pkg/types"
)

func dialTelnet(t *testing.T, l Listener) *telnet.Conn {
	t.Helper()
	conn, err := telnet.Dial("tcp", l.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetUnixWriteMode(true)
	return conn
}

func readUntil(t *testing.T, conn *telnet.Conn, marker string) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	data, err := conn.ReadUntil(marker)
	require.NoError(t, err, "waiting for %q", marker)
	return string(data)
}

func TestTelnet_Session(t *testing.T) {
	d := newDispatcher(t, nil)
	l := NewTelnet(types.ListenerConfig{Type: TypeTelnet, Address: "127.0.0.1:0", Banner: "shelld ready", Prompt: "$ "}, d)
	require.NoError(t, l.Bind(context.Background()))
	defer unbind(t, l)

	conn := dialTelnet(t, l)
	out := readUntil(t, conn, "$ ")
	assert.Contains(t, out, "shelld ready")

	_, err := conn.Write([]byte("echo hello telnet\n"))
	require.NoError(t, err)
	out = readUntil(t, conn, "$ ")
	assert.Contains(t, out, "hello telnet\r\n")

	_, err = conn.Write([]byte("nope\n"))
	require.NoError(t, err)
	out = readUntil(t, conn, "$ ")
	assert.Contains(t, out, "nope: command not found")

	require.Eventually(t, func() bool { return len(d.Sessions()) == 1 }, time.Second, 5*time.Millisecond)
	_, err = conn.Write([]byte("exit\n"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(d.Sessions()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestTelnet_CtrlCInterrupts(t *testing.T) {
	d := newDispatcher(t, nil)
	l := NewTelnet(types.ListenerConfig{Type: TypeTelnet, Address: "127.0.0.1:0"}, d)
	require.NoError(t, l.Bind(context.Background()))
	defer unbind(t, l)

	conn := dialTelnet(t, l)
	readUntil(t, conn, "% ")

	_, err := conn.Write([]byte("sleep 30\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(d.Manager().Inflight()) == 1 }, time.Second, 5*time.Millisecond)

	_, err = conn.Write([]byte{0x03})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(d.Manager().Inflight()) == 0 }, 2*time.Second, 10*time.Millisecond)

	_, err = conn.Write([]byte("echo after\n"))
	require.NoError(t, err)
	out := readUntil(t, conn, "after\r\n")
	assert.True(t, strings.HasSuffix(out, "after\r\n"))
}

func TestTelnet_UnbindClosesSessions(t *testing.T) {
	d := newDispatcher(t, nil)
	l := NewTelnet(types.ListenerConfig{Type: TypeTelnet, Address: "127.0.0.1:0"}, d)
	require.NoError(t, l.Bind(context.Background()))

	conn := dialTelnet(t, l)
	readUntil(t, conn, "% ")
	_, err := conn.Write([]byte("sleep 30\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(d.Manager().Inflight()) == 1 }, time.Second, 5*time.Millisecond)

	unbind(t, l)
	assert.Empty(t, d.Sessions())
	assert.Eventually(t, func() bool { return len(d.Manager().Inflight()) == 0 }, 2*time.Second, 10*time.Millisecond)
}
