package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/telnet2/shelld/internal/filepack"
	"github.com/telnet2/shelld/internal/shell"
	"github.com/telnet2/shelld/internal/transport"
	"github.com/telnet2/shelld/pkg/types"
)

// TestServer is a running shell service with an HTTP and a telnet listener
// on loopback ports.
type TestServer struct {
	Service    *shell.Service
	BaseURL    string
	TelnetAddr string
	Config     *types.Config
	TempDir    string
	CommandDir string
}

// TestServerOption configures TestServer
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	envFile  string
	commands map[string]string
	watch    bool
}

// WithEnvFile sets the .env file to load
func WithEnvFile(path string) TestServerOption {
	return func(c *testServerConfig) {
		c.envFile = path
	}
}

// WithCommandFile adds a markdown command file to the file pack directory.
func WithCommandFile(name, content string) TestServerOption {
	return func(c *testServerConfig) {
		c.commands[name] = content
	}
}

// WithWatch reloads the file pack when its directory changes.
func WithWatch() TestServerOption {
	return func(c *testServerConfig) {
		c.watch = true
	}
}

// StartTestServer creates and starts a test server
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := &testServerConfig{commands: map[string]string{}}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.envFile != "" {
		_ = godotenv.Load(cfg.envFile)
	} else {
		_ = godotenv.Load("../../.env")
		_ = godotenv.Load(".env")
	}

	tempDir, err := os.MkdirTemp("", "shelld-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	commandDir := filepath.Join(tempDir, "commands")
	if err := os.MkdirAll(commandDir, 0o755); err != nil {
		os.RemoveAll(tempDir)
		return nil, err
	}
	for name, content := range cfg.commands {
		path := filepath.Join(commandDir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			os.RemoveAll(tempDir)
			return nil, err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			os.RemoveAll(tempDir)
			return nil, err
		}
	}

	appConfig := &types.Config{
		CommandPacks:    []string{"base", filepack.Prefix + commandDir},
		DataDir:         filepath.Join(tempDir, "data"),
		FsRoot:          tempDir,
		ShutdownTimeout: "2s",
		Variables:       map[string]string{"env": envOr("SHELLD_TEST_ENV", "citest")},
		Watch:           &cfg.watch,
		Listeners: []types.ListenerConfig{
			{Type: transport.TypeHTTP, Name: "api", Address: "127.0.0.1:0"},
			{Type: transport.TypeTelnet, Name: "console", Address: "127.0.0.1:0", Prompt: "$ "},
		},
	}

	svc, err := shell.New(appConfig, shell.WithWatchDebounce(50*time.Millisecond))
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("server failed to start: %w", err)
	}

	ts := &TestServer{
		Service:    svc,
		Config:     appConfig,
		TempDir:    tempDir,
		CommandDir: commandDir,
	}
	for _, l := range svc.Listeners() {
		switch l.Type() {
		case transport.TypeHTTP:
			ts.BaseURL = "http://" + l.Addr()
		case transport.TypeTelnet:
			ts.TelnetAddr = l.Addr()
		}
	}

	if err := waitForServer(ts.BaseURL, 5*time.Second); err != nil {
		ts.Stop()
		return nil, err
	}
	return ts, nil
}

// Stop shuts down the test server and cleans up
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := ts.Service.Close(ctx)
	if ts.TempDir != "" {
		os.RemoveAll(ts.TempDir)
	}
	return err
}

// Client returns a new test client for this server
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL)
}

// SSEClient returns a new SSE client for this server
func (ts *TestServer) SSEClient() *SSEClient {
	return NewSSEClient(ts.BaseURL)
}

// Telnet dials the telnet listener.
func (ts *TestServer) Telnet() (*TelnetClient, error) {
	return DialTelnet(ts.TelnetAddr, "$ ")
}

// WriteCommand writes a command file into the file pack directory.
func (ts *TestServer) WriteCommand(name, content string) error {
	return os.WriteFile(filepath.Join(ts.CommandDir, name), []byte(content), 0o644)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// waitForServer waits for the server to be ready
func waitForServer(baseURL string, timeout time.Duration) error {
	client := NewTestClient(baseURL)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(context.Background(), "/health")
		if err == nil && resp.IsSuccess() {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}
