package builtin

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telnet2/shelld/internal/command"
	"github.com/telnet2/shelld/internal/event"
	"github.com/telnet2/shelld/internal/loop"
	"github.com/telnet2/shelld/internal/storage"
)

type testSession struct {
	mu   sync.Mutex
	vals map[string]string
}

func (s *testSession) ID() string { return "test" }

func (s *testSession) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vals[key]
	return v, ok
}

func (s *testSession) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = value
}

type harness struct {
	t    *testing.T
	m    *command.Manager
	fs   afero.Fs
	bus  *event.Bus
	sess *testSession
}

func newHarness(t *testing.T, listeners ...ListenerInfo) *harness {
	t.Helper()
	l := loop.New("builtin-test")
	t.Cleanup(l.Stop)
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	m := command.NewManager(l)
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/home/user/docs", 0755))
	require.NoError(t, afero.WriteFile(fs, "/home/user/notes.txt", []byte("remember\n"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/etc/motd", []byte("welcome\n"), 0644))

	pack := NewPack(Env{
		Registry:  m,
		Fs:        fs,
		Maps:      storage.NewMemoryMaps(),
		Bus:       bus,
		Listeners: func() []ListenerInfo { return listeners },
	})
	cmds, err := command.LookupSync(context.Background(), pack)
	require.NoError(t, err)
	for _, c := range cmds {
		require.NoError(t, m.Add(context.Background(), c))
	}

	return &harness{t: t, m: m, fs: fs, bus: bus, sess: &testSession{vals: map[string]string{}}}
}

func (h *harness) run(name string, args ...string) (string, command.Outcome) {
	h.t.Helper()
	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o, err := h.m.Execute(ctx, command.Request{Name: name, Args: args, Session: h.sess, Stdout: &out})
	require.NoError(h.t, err)
	return out.String(), o
}

func TestNewPack_Commands(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, []string{
		"bus-send", "bus-tail", "cat", "cd", "echo", "help",
		"local-map-get", "local-map-ls", "local-map-put", "local-map-rm", "ls", "pwd", "server-ls", "sleep",
	}, h.m.Names())
}

func TestEcho(t *testing.T) {
	h := newHarness(t)

	out, o := h.run("echo", "hello", "world")
	assert.Equal(t, command.Succeeded, o.Status)
	assert.Equal(t, "hello world\n", out)

	out, _ = h.run("echo", "-n", "no", "newline")
	assert.Equal(t, "no newline", out)

	out, _ = h.run("echo")
	assert.Equal(t, "\n", out)
}

func TestHelp(t *testing.T) {
	h := newHarness(t)

	out, o := h.run("help")
	assert.Equal(t, command.Succeeded, o.Status)
	assert.True(t, strings.HasPrefix(out, "available commands:\n"))
	assert.Contains(t, out, "echo")
	assert.Contains(t, out, "print arguments")

	out, _ = h.run("help", "local-map-*")
	assert.Contains(t, out, "local-map-get")
	assert.NotContains(t, out, "echo")

	out, _ = h.run("help", "sleep")
	assert.Contains(t, out, "usage: sleep seconds")

	_, o = h.run("help", "[")
	assert.Equal(t, command.Failed, o.Status)
}

func TestHelp_SkipsHiddenCommands(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Add(context.Background(), command.New("secret").Hide()))

	out, _ := h.run("help")
	assert.NotContains(t, out, "secret")
}

func TestSleep(t *testing.T) {
	h := newHarness(t)

	_, o := h.run("sleep")
	assert.Equal(t, command.Failed, o.Status)
	assert.Equal(t, 2, o.ExitCode())
	assert.Contains(t, o.Err.Error(), "usage: sleep seconds")

	_, o = h.run("sleep", "0")
	assert.Equal(t, command.Succeeded, o.Status)

	_, o = h.run("sleep", "10ms")
	assert.Equal(t, command.Succeeded, o.Status)

	_, o = h.run("sleep", "soon")
	assert.Equal(t, command.Failed, o.Status)

	_, o = h.run("sleep", "9999999999999")
	assert.Equal(t, command.Failed, o.Status)
	assert.Contains(t, o.Err.Error(), "too long")
}

func TestSleep_Cancel(t *testing.T) {
	h := newHarness(t)

	exe, err := h.m.Invoke(context.Background(), command.Request{Name: "sleep", Args: []string{"60"}})
	require.NoError(t, err)
	require.NoError(t, exe.Cancel())

	select {
	case <-exe.Settled():
	case <-time.After(time.Second):
		t.Fatal("sleep did not stop after cancel")
	}
	assert.Equal(t, command.Cancelled, exe.Outcome().Status)
}

func TestFilesystemCommands(t *testing.T) {
	h := newHarness(t)

	out, _ := h.run("pwd")
	assert.Equal(t, "/\n", out)

	_, o := h.run("cd", "home/user")
	require.Equal(t, command.Succeeded, o.Status)
	out, _ = h.run("pwd")
	assert.Equal(t, "/home/user\n", out)

	out, _ = h.run("ls")
	assert.Equal(t, "docs/\nnotes.txt\n", out)

	out, _ = h.run("cat", "notes.txt", "/etc/motd")
	assert.Equal(t, "remember\nwelcome\n", out)

	_, o = h.run("cd", "missing")
	assert.Equal(t, command.Failed, o.Status)
	assert.Contains(t, o.Err.Error(), "/home/user/missing: No such file or directory")

	_, o = h.run("cd", "..")
	require.Equal(t, command.Succeeded, o.Status)
	out, _ = h.run("pwd")
	assert.Equal(t, "/home\n", out)

	_, o = h.run("cd")
	require.Equal(t, command.Succeeded, o.Status)
	out, _ = h.run("pwd")
	assert.Equal(t, "/\n", out)

	_, o = h.run("ls", "/nowhere")
	assert.Equal(t, command.Failed, o.Status)

	_, o = h.run("cat", "/nowhere")
	assert.Equal(t, command.Failed, o.Status)
}

func TestLsUsesSessionPath(t *testing.T) {
	h := newHarness(t)
	h.sess.Put(SessionPathKey, "/etc")

	out, o := h.run("ls")
	assert.Equal(t, command.Succeeded, o.Status)
	assert.Equal(t, "motd\n", out)
}

func TestCat_Stdin(t *testing.T) {
	h := newHarness(t)

	var out bytes.Buffer
	o, err := h.m.Execute(context.Background(), command.Request{
		Name:   "cat",
		Stdin:  strings.NewReader("piped"),
		Stdout: &out,
	})
	require.NoError(t, err)
	assert.Equal(t, command.Succeeded, o.Status)
	assert.Equal(t, "piped", out.String())
}

func TestLocalMaps(t *testing.T) {
	h := newHarness(t)

	_, o := h.run("local-map-put", "cfg", "mode", "fast")
	require.Equal(t, command.Succeeded, o.Status)
	_, o = h.run("local-map-put", "cfg", "level", "3")
	require.Equal(t, command.Succeeded, o.Status)

	out, _ := h.run("local-map-get", "cfg", "mode", "other")
	assert.Equal(t, "mode: fast\nother: null\n", out)

	out, _ = h.run("local-map-get", "cfg")
	assert.Equal(t, "level: 3\nmode: fast\n", out)

	_, o = h.run("local-map-rm", "cfg", "mode", "missing")
	require.Equal(t, command.Succeeded, o.Status)
	out, _ = h.run("local-map-get", "cfg", "mode")
	assert.Equal(t, "mode: null\n", out)

	_, o = h.run("local-map-put", "other", "k", "v")
	require.Equal(t, command.Succeeded, o.Status)
	out, _ = h.run("local-map-ls")
	assert.Equal(t, "cfg\nother\n", out)
	out, _ = h.run("local-map-ls", "cfg")
	assert.Equal(t, "level\n", out)

	for _, name := range []string{"local-map-get", "local-map-put", "local-map-rm"} {
		_, o = h.run(name)
		assert.Equal(t, 2, o.ExitCode(), name)
	}
	_, o = h.run("local-map-put", "cfg", "only-key")
	assert.Equal(t, 2, o.ExitCode())
}

func TestBusSendAndTail(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var out bytes.Buffer
	writer := writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return out.Write(p)
	})
	tail, err := h.m.Invoke(context.Background(), command.Request{
		Name:   "bus-tail",
		Args:   []string{"news"},
		Stdout: writer,
	})
	require.NoError(t, err)

	// The tail subscribes asynchronously; resend until it shows up.
	assert.Eventually(t, func() bool {
		_, o := h.run("bus-send", "news", "hello", "there")
		if o.Status != command.Succeeded {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		return strings.Contains(out.String(), "hello there\n")
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, tail.Cancel())
	select {
	case <-tail.Settled():
	case <-time.After(time.Second):
		t.Fatal("bus-tail did not stop")
	}

	_, o := h.run("bus-send", "news")
	assert.Equal(t, 2, o.ExitCode())
	_, o = h.run("bus-tail")
	assert.Equal(t, 2, o.ExitCode())
}

func TestBusCommandsWithoutBus(t *testing.T) {
	exe := command.NewExecution(context.Background(), command.ExecutionConfig{
		Command: "bus-send",
		Args:    command.NewArgs("a", "b"),
	})
	exe.Run(BusSend(nil).Handler())
	assert.ErrorIs(t, exe.Outcome().Err, errNoBus)
}

func TestServerLs(t *testing.T) {
	h := newHarness(t,
		ListenerInfo{Type: "telnet", Name: "console", Address: "127.0.0.1:5000"},
		ListenerInfo{Type: "http", Name: "api", Address: "127.0.0.1:8080"},
	)

	out, o := h.run("server-ls")
	assert.Equal(t, command.Succeeded, o.Status)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "TYPE"))
	assert.True(t, strings.HasPrefix(lines[1], "http"))
	assert.Contains(t, lines[2], "127.0.0.1:5000")
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
