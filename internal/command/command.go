package command

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

// Handler runs one invocation. It must eventually complete exe with Succeed,
// Fail or Cancel, on any goroutine; returning from the handler does not
// complete the execution.
type Handler func(exe *Execution)

// RunFunc adapts a blocking function to a Handler: a nil return succeeds,
// anything else fails the execution.
func RunFunc(fn func(ctx context.Context, exe *Execution) error) Handler {
	return func(exe *Execution) {
		if err := fn(exe.Context(), exe); err != nil {
			_ = exe.Fail(err)
			return
		}
		_ = exe.Succeed()
	}
}

// Command is a named, user-invocable operation. Its name is fixed at
// creation; options and handler may change until and after registration,
// with each invocation using the definition current when it started.
type Command struct {
	name string

	mu          sync.RWMutex
	options     []Option
	handler     Handler
	description string
	usage       string
	hidden      bool

	owner atomic.Pointer[Manager]
}

// New creates an unregistered command with no options and no handler.
func New(name string) *Command {
	return &Command{name: name}
}

// Name returns the command name.
func (c *Command) Name() string { return c.name }

// Option appends an option and returns c for chaining.
func (c *Command) Option(o Option) *Command {
	c.mu.Lock()
	c.options = append(c.options, o)
	c.mu.Unlock()
	return c
}

// Options returns a copy of the declared options in order.
func (c *Command) Options() []Option {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Option(nil), c.options...)
}

// SetExecuteHandler installs h, replacing any previous handler. Invocations
// already running keep the handler they started with.
func (c *Command) SetExecuteHandler(h Handler) *Command {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
	return c
}

// Handler returns the current execute handler, or nil.
func (c *Command) Handler() Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handler
}

// Describe sets the one-line description shown by help.
func (c *Command) Describe(description string) *Command {
	c.mu.Lock()
	c.description = description
	c.mu.Unlock()
	return c
}

// Description returns the one-line description.
func (c *Command) Description() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.description
}

// SetUsage overrides the generated usage line.
func (c *Command) SetUsage(usage string) *Command {
	c.mu.Lock()
	c.usage = usage
	c.mu.Unlock()
	return c
}

// Usage returns the usage line, generated from the options unless overridden.
func (c *Command) Usage() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.usage != "" {
		return c.usage
	}
	parts := []string{c.name}
	for _, o := range c.options {
		parts = append(parts, o.synopsis())
	}
	return strings.Join(parts, " ")
}

// Hide keeps the command out of listings. It stays invocable.
func (c *Command) Hide() *Command {
	c.mu.Lock()
	c.hidden = true
	c.mu.Unlock()
	return c
}

// Hidden reports whether the command is hidden from listings.
func (c *Command) Hidden() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hidden
}

// Registered reports whether a manager currently owns the command.
func (c *Command) Registered() bool {
	return c.owner.Load() != nil
}

// Unregister removes the command from the manager that owns it. Lookups stop
// resolving it immediately; the registry entry is cleaned up on the manager
// loop. Unregister is idempotent, never blocks, and is safe to call from
// inside the command's own handler.
func (c *Command) Unregister() {
	m := c.owner.Swap(nil)
	if m == nil {
		return
	}
	m.forget(c)
}

// snapshot returns the definition an invocation runs with.
func (c *Command) snapshot() ([]Option, Handler) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Option(nil), c.options...), c.handler
}
