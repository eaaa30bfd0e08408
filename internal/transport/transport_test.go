package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telnet2/shelld/internal/builtin"
	"github.com/telnet2/shelld/internal/command"
	"github.com/telnet2/shelld/internal/event"
	"github.com/telnet2/shelld/internal/loop"
	"github.com/telnet2/shelld/internal/session"
	"github.com/telnet2/shelld/pkg/types"
)

type outBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *outBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *outBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newDispatcher(t *testing.T, bus *event.Bus) *session.Dispatcher {
	t.Helper()
	l := loop.New(t.Name())
	t.Cleanup(l.Stop)
	m := command.NewManager(l, command.WithBus(bus))

	fs := afero.NewMemMapFs()
	for _, c := range []*command.Command{
		builtin.Echo(),
		builtin.Sleep(),
		builtin.Pwd(),
		builtin.Cat(fs),
	} {
		require.NoError(t, m.Add(context.Background(), c))
	}
	return session.NewDispatcher(m, bus)
}

func unbind(t *testing.T, l Listener) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.NoError(t, l.Unbind(ctx))
}

func TestNew(t *testing.T) {
	d := newDispatcher(t, nil)

	_, err := New(types.ListenerConfig{Type: "gopher", Address: ":70"}, d, nil)
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = New(types.ListenerConfig{Type: TypeTelnet}, d, nil)
	assert.Error(t, err)

	for _, typ := range []string{TypeTelnet, TypeSSH, TypeHTTP, TypeWebSocket} {
		l, err := New(types.ListenerConfig{Type: typ, Address: "127.0.0.1:0"}, d, nil)
		require.NoError(t, err, typ)
		assert.Equal(t, typ, l.Type())
		assert.Equal(t, typ+"@127.0.0.1:0", l.Name())
		assert.Equal(t, "127.0.0.1:0", l.Addr())
	}
}

func TestListen_RetriesAddressInUse(t *testing.T) {
	held, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := held.Addr().String()

	go func() {
		time.Sleep(150 * time.Millisecond)
		held.Close()
	}()

	ln, err := listen(context.Background(), addr)
	require.NoError(t, err)
	ln.Close()
}

func TestListen_GivesUp(t *testing.T) {
	old := BindRetryTimeout
	BindRetryTimeout = 200 * time.Millisecond
	defer func() { BindRetryTimeout = old }()

	held, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer held.Close()

	start := time.Now()
	_, err = listen(context.Background(), held.Addr().String())
	assert.True(t, errors.Is(err, syscall.EADDRINUSE), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestListen_PermanentError(t *testing.T) {
	start := time.Now()
	_, err := listen(context.Background(), "127.0.0.1:notaport")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), BindRetryTimeout)
}

func TestStreamServer_BindUnbind(t *testing.T) {
	handled := make(chan struct{}, 1)
	s := newStreamServer("raw", "raw", "127.0.0.1:0", func(ctx context.Context, conn net.Conn) {
		handled <- struct{}{}
		<-ctx.Done()
	})

	require.NoError(t, s.Bind(context.Background()))
	assert.ErrorIs(t, s.Bind(context.Background()), ErrAlreadyBound)
	assert.NotEqual(t, "127.0.0.1:0", s.Addr())

	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("connection not handled")
	}

	unbind(t, s)
	unbind(t, s)
	assert.Equal(t, "127.0.0.1:0", s.Addr())

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestInterruptReader(t *testing.T) {
	var interrupts int
	r := &interruptReader{r: bytes.NewReader([]byte("ab\x03c\x03\x03")), onInterrupt: func() { interrupts++ }}

	buf := make([]byte, 16)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))
	assert.Equal(t, 3, interrupts)
}

func TestLineReader(t *testing.T) {
	r := newLineReader(bytes.NewReader([]byte("one\r\ntwo\r\x00\nlast")))
	for _, want := range []string{"one", "two", "last"} {
		line, err := r.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}
	_, err := r.ReadLine()
	assert.Error(t, err)
}
