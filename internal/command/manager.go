package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/telnet2/shelld/internal/event"
	"github.com/telnet2/shelld/internal/logging"
	"github.com/telnet2/shelld/internal/loop"
)

// Manager is the registry of commands available to a shell service.
//
// Registry mutations run on the manager's loop, one at a time, and their
// completion callbacks are delivered there. Lookups may run on any goroutine
// and observe either the state before or after a concurrent mutation.
type Manager struct {
	loop *loop.Loop
	bus  *event.Bus
	log  zerolog.Logger

	mu       sync.RWMutex
	commands map[string]*Command
	closed   bool

	execMu   sync.Mutex
	inflight map[string]*Execution
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithBus publishes registry and execution events on b.
func WithBus(b *event.Bus) ManagerOption {
	return func(m *Manager) { m.bus = b }
}

// NewManager creates an empty, open manager bound to l.
func NewManager(l *loop.Loop, opts ...ManagerOption) *Manager {
	m := &Manager{
		loop:     l,
		log:      logging.Component("manager"),
		commands: make(map[string]*Command),
		inflight: make(map[string]*Execution),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Loop returns the loop the manager runs on.
func (m *Manager) Loop() *loop.Loop { return m.loop }

// AddCommand registers cmd asynchronously. done, if not nil, is called on the
// loop with nil on success, a *NameConflictError if the name is taken, or
// ErrClosed after Close. Of concurrent adds with the same name exactly one
// succeeds.
func (m *Manager) AddCommand(cmd *Command, done func(error)) {
	err := m.loop.Post(func() {
		err := m.add(cmd)
		if done != nil {
			done(err)
		}
	})
	if err != nil && done != nil {
		done(ErrClosed)
	}
}

// Add registers cmd and waits for the result. If ctx ends first the
// registration may still take effect.
func (m *Manager) Add(ctx context.Context, cmd *Command) error {
	result := make(chan error, 1)
	m.AddCommand(cmd, func(err error) { result <- err })
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) add(cmd *Command) error {
	if cmd == nil || cmd.Name() == "" || strings.ContainsAny(cmd.Name(), " \t\r\n") {
		return fmt.Errorf("invalid command name")
	}
	name := cmd.Name()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if existing, ok := m.commands[name]; ok && existing.owner.Load() == m {
		m.mu.Unlock()
		return &NameConflictError{Name: name}
	}
	if !cmd.owner.CompareAndSwap(nil, m) {
		m.mu.Unlock()
		return ErrAlreadyOwned
	}
	m.commands[name] = cmd
	m.mu.Unlock()

	m.log.Debug().Str("command", name).Msg("command registered")
	m.publish(event.Event{Type: event.CommandRegistered, Data: event.CommandData{Name: name}})
	return nil
}

// forget drops c's registry entry after Command.Unregister released it.
func (m *Manager) forget(c *Command) {
	cleanup := func() {
		m.mu.Lock()
		removed := false
		if m.commands[c.name] == c {
			delete(m.commands, c.name)
			removed = true
		}
		m.mu.Unlock()
		if removed {
			m.log.Debug().Str("command", c.name).Msg("command unregistered")
			m.publish(event.Event{Type: event.CommandUnregistered, Data: event.CommandData{Name: c.name}})
		}
	}
	if err := m.loop.Post(cleanup); err != nil {
		cleanup()
	}
}

// RemoveCommand unregisters the command registered under name and waits for
// the registry to reflect it. It must not be called from a loop task.
func (m *Manager) RemoveCommand(ctx context.Context, name string) error {
	m.mu.RLock()
	c, ok := m.commands[name]
	m.mu.RUnlock()
	if !ok || c.owner.Load() != m {
		return &NotFoundError{Name: name}
	}
	c.Unregister()
	// forget posted its cleanup before this barrier.
	err := m.loop.Do(ctx, func() {})
	if errors.Is(err, loop.ErrStopped) {
		return nil
	}
	return err
}

// Lookup returns the command registered under name.
func (m *Manager) Lookup(name string) (*Command, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, &NotFoundError{Name: name}
	}
	c, ok := m.commands[name]
	if !ok || c.owner.Load() != m {
		return nil, &NotFoundError{Name: name}
	}
	return c, nil
}

// Commands returns the registered commands sorted by name.
func (m *Manager) Commands() []*Command {
	m.mu.RLock()
	cmds := make([]*Command, 0, len(m.commands))
	for _, c := range m.commands {
		if c.owner.Load() == m {
			cmds = append(cmds, c)
		}
	}
	m.mu.RUnlock()
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].name < cmds[j].name })
	return cmds
}

// Names returns the registered command names sorted.
func (m *Manager) Names() []string {
	cmds := m.Commands()
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.name
	}
	return names
}

// Closed reports whether Close has taken effect.
func (m *Manager) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// CloseAsync closes the manager on the loop and calls done there. Every
// command is unregistered; later adds fail with ErrClosed. Closing twice is
// a no-op.
func (m *Manager) CloseAsync(done func()) {
	err := m.loop.Post(func() {
		m.closeNow()
		if done != nil {
			done()
		}
	})
	if err != nil {
		m.closeNow()
		if done != nil {
			done()
		}
	}
}

// Close closes the manager and waits for it. It must not be called from a
// loop task.
func (m *Manager) Close(ctx context.Context) error {
	err := m.loop.Do(ctx, m.closeNow)
	if errors.Is(err, loop.ErrStopped) {
		m.closeNow()
		return nil
	}
	return err
}

func (m *Manager) closeNow() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cmds := m.commands
	m.commands = make(map[string]*Command)
	m.mu.Unlock()

	for name, c := range cmds {
		if c.owner.CompareAndSwap(m, nil) {
			m.publish(event.Event{Type: event.CommandUnregistered, Data: event.CommandData{Name: name}})
		}
	}
	m.log.Debug().Int("commands", len(cmds)).Msg("manager closed")
}

// Request describes one invocation.
type Request struct {
	Name    string
	Args    []string
	Session Session
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
}

// Invoke resolves req.Name, binds its arguments, and starts the handler on a
// new goroutine. The returned execution is pending; its handler is the one
// installed when Invoke was called.
func (m *Manager) Invoke(ctx context.Context, req Request) (*Execution, error) {
	cmd, err := m.Lookup(req.Name)
	if err != nil {
		return nil, err
	}
	options, handler := cmd.snapshot()
	if handler == nil {
		return nil, &HandlerFault{Command: req.Name, Value: "no execute handler"}
	}
	args, err := Bind(req.Name, options, req.Args)
	if err != nil {
		return nil, err
	}

	exe := NewExecution(ctx, ExecutionConfig{
		Command: req.Name,
		Args:    args,
		Session: req.Session,
		Stdin:   req.Stdin,
		Stdout:  req.Stdout,
		Stderr:  req.Stderr,
	})
	exe.onComplete = m.completed
	exe.onSettle = m.untrack

	m.execMu.Lock()
	m.inflight[exe.id] = exe
	m.execMu.Unlock()

	m.publish(event.Event{Type: event.ExecutionStarted, Data: event.ExecutionData{
		ID:        exe.id,
		SessionID: exe.SessionID(),
		Command:   req.Name,
	}})

	go exe.Run(handler)
	return exe, nil
}

// Execute invokes req and waits for the outcome.
func (m *Manager) Execute(ctx context.Context, req Request) (Outcome, error) {
	exe, err := m.Invoke(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	return exe.Wait(ctx)
}

func (m *Manager) completed(exe *Execution) {
	o := exe.Outcome()
	data := event.ExecutionData{
		ID:        exe.id,
		SessionID: exe.SessionID(),
		Command:   exe.command,
		Status:    o.Status.String(),
	}
	if o.Err != nil {
		data.Error = o.Err.Error()
	}
	m.publish(event.Event{Type: event.ExecutionCompleted, Data: data})
}

func (m *Manager) untrack(exe *Execution) {
	m.execMu.Lock()
	delete(m.inflight, exe.id)
	m.execMu.Unlock()
}

// Inflight returns the executions whose handler is running or whose outcome
// is pending, oldest first.
func (m *Manager) Inflight() []*Execution {
	m.execMu.Lock()
	exes := make([]*Execution, 0, len(m.inflight))
	for _, exe := range m.inflight {
		exes = append(exes, exe)
	}
	m.execMu.Unlock()
	sort.Slice(exes, func(i, j int) bool { return exes[i].started.Before(exes[j].started) })
	return exes
}

// CancelAll cancels every pending execution and returns how many it
// cancelled.
func (m *Manager) CancelAll() int {
	n := 0
	for _, exe := range m.Inflight() {
		if !exe.Completed() && exe.Cancel() == nil {
			n++
		}
	}
	if n > 0 {
		m.log.Info().Int("count", n).Msg("cancelled in-flight executions")
	}
	return n
}

// WaitIdle waits until every tracked execution has completed and its handler
// has returned, or ctx is done.
func (m *Manager) WaitIdle(ctx context.Context) error {
	for _, exe := range m.Inflight() {
		select {
		case <-exe.Settled():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Manager) publish(ev event.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}
