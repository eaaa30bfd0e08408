// Package types holds the configuration types shared by the shelld packages
// and the command-line front-end.
package types

import "time"

// DefaultShutdownTimeout bounds how long close waits for running commands.
const DefaultShutdownTimeout = 10 * time.Second

// DefaultPacks is used when no configuration names any command pack.
var DefaultPacks = []string{"base"}

// Config represents the shelld configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// Command packs discovered on start: "base" or "file:<dir>"
	CommandPacks []string `json:"commandPacks,omitempty"`

	// Listeners bound on start
	Listeners []ListenerConfig `json:"listeners,omitempty"`

	// ShutdownTimeout is a Go duration string ("15s")
	ShutdownTimeout string `json:"shutdownTimeout,omitempty"`

	// DataDir persists local maps; empty keeps them in memory
	DataDir string `json:"dataDir,omitempty"`

	// FsRoot confines the filesystem commands; empty means the whole host
	FsRoot string `json:"fsRoot,omitempty"`

	// Variables are exposed to file pack templates as .vars
	Variables map[string]string `json:"variables,omitempty"`

	// Watch reloads file packs when their files change
	Watch *bool `json:"watch,omitempty"`

	Log *LogConfig `json:"log,omitempty"`
}

// ListenerConfig describes one transport listener.
type ListenerConfig struct {
	Type    string `json:"type"` // "telnet"|"ssh"|"http"|"websocket"
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`

	// SSH only: PEM private key; an ephemeral key is generated when empty
	HostKeyFile string `json:"hostKeyFile,omitempty"`

	Prompt string `json:"prompt,omitempty"`
	Banner string `json:"banner,omitempty"`

	// HTTP and WebSocket only: allowed CORS origins
	CORS []string `json:"cors,omitempty"`
}

// ListenerName returns Name, or type@address when unnamed.
func (l ListenerConfig) ListenerName() string {
	if l.Name != "" {
		return l.Name
	}
	return l.Type + "@" + l.Address
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Pretty bool   `json:"pretty,omitempty"`
	File   bool   `json:"file,omitempty"`
}

// Packs returns the configured packs, or DefaultPacks when none are set. A
// non-nil empty list loads no packs.
func (c *Config) Packs() []string {
	if c.CommandPacks == nil {
		return append([]string(nil), DefaultPacks...)
	}
	return c.CommandPacks
}

// Shutdown parses ShutdownTimeout, falling back to DefaultShutdownTimeout
// when it is empty or invalid.
func (c *Config) Shutdown() time.Duration {
	if c.ShutdownTimeout == "" {
		return DefaultShutdownTimeout
	}
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil || d <= 0 {
		return DefaultShutdownTimeout
	}
	return d
}

// WatchEnabled reports whether file packs are hot reloaded.
func (c *Config) WatchEnabled() bool {
	return c.Watch != nil && *c.Watch
}
