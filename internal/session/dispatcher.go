package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/telnet2/shelld/internal/command"
	"github.com/telnet2/shelld/internal/event"
	"github.com/telnet2/shelld/internal/logging"
)

// Dispatcher runs command lines for sessions against a manager and tracks
// the open sessions.
type Dispatcher struct {
	manager *command.Manager
	bus     *event.Bus
	log     zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	gateMu  sync.Mutex
	gate    chan struct{}
	gateErr error
}

// ErrUnavailable is reported to lines that were waiting for a service that
// never started.
var ErrUnavailable = errors.New("shell service unavailable")

// NewDispatcher creates a dispatcher. bus may be nil.
func NewDispatcher(manager *command.Manager, bus *event.Bus) *Dispatcher {
	return &Dispatcher{
		manager:  manager,
		bus:      bus,
		log:      logging.Component("dispatcher"),
		sessions: make(map[string]*Session),
	}
}

// Manager returns the manager commands resolve against.
func (d *Dispatcher) Manager() *command.Manager { return d.manager }

// Open creates and tracks a session for listener.
func (d *Dispatcher) Open(listener string) *Session {
	s := New(listener)
	d.mu.Lock()
	d.sessions[s.id] = s
	d.mu.Unlock()

	d.log.Debug().Str("session", s.id).Str("listener", listener).Msg("session opened")
	d.publish(event.Event{Type: event.SessionOpened, Data: event.SessionData{ID: s.id, Listener: listener}})
	return s
}

// Close interrupts the session's foreground execution and forgets it.
// Closing twice is a no-op.
func (d *Dispatcher) Close(s *Session) {
	if !s.markClosed() {
		return
	}
	s.Interrupt()
	d.mu.Lock()
	delete(d.sessions, s.id)
	d.mu.Unlock()

	d.log.Debug().Str("session", s.id).Msg("session closed")
	d.publish(event.Event{Type: event.SessionClosed, Data: event.SessionData{ID: s.id, Listener: s.listener}})
}

// Session returns an open session by id.
func (d *Dispatcher) Session(id string) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[id]
	return s, ok
}

// Sessions returns the open sessions.
func (d *Dispatcher) Sessions() []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	return out
}

// Hold makes Exec wait until Release is called.
func (d *Dispatcher) Hold() {
	d.gateMu.Lock()
	defer d.gateMu.Unlock()
	if d.gate == nil {
		d.gate = make(chan struct{})
	}
}

// Release lets held and later lines run. With a non-nil err they fail with
// err instead. Only the first Release after Hold counts.
func (d *Dispatcher) Release(err error) {
	d.gateMu.Lock()
	defer d.gateMu.Unlock()
	if d.gate == nil {
		return
	}
	select {
	case <-d.gate:
		return
	default:
	}
	d.gateErr = err
	close(d.gate)
}

func (d *Dispatcher) wait(ctx context.Context) error {
	d.gateMu.Lock()
	g := d.gate
	d.gateMu.Unlock()
	if g == nil {
		return nil
	}
	select {
	case <-g:
	case <-ctx.Done():
		return ctx.Err()
	}
	d.gateMu.Lock()
	defer d.gateMu.Unlock()
	return d.gateErr
}

// Exec runs every command on line in order and returns the outcome of the
// last one. Errors a user can fix (unknown command, bad usage, parse
// errors) are written to stderr and reported as a failed outcome; the
// returned error is only set when ctx ends first. While the dispatcher is
// held, Exec waits for Release before parsing the line.
func (d *Dispatcher) Exec(ctx context.Context, s *Session, line string, stdin io.Reader, stdout, stderr io.Writer) (command.Outcome, error) {
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	if stderr == nil {
		stderr = stdout
	}
	if err := d.wait(ctx); err != nil {
		if ctx.Err() != nil {
			return command.Outcome{Status: command.Cancelled, Err: command.ErrCancelled}, err
		}
		fmt.Fprintf(stderr, "%v\n", err)
		return command.Outcome{Status: command.Failed, Err: err}, nil
	}

	var lookup Lookup
	if s != nil {
		lookup = s.Get
	}
	cmds, err := Parse(line, lookup)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return command.Outcome{Status: command.Failed, Err: &command.ExitError{Code: 2, Msg: err.Error()}}, nil
	}

	last := command.Outcome{Status: command.Succeeded}
	for _, argv := range cmds {
		o, err := d.run(ctx, s, argv, stdin, stdout, stderr)
		if err != nil {
			return o, err
		}
		last = o
		if o.Status == command.Cancelled {
			break
		}
	}
	return last, nil
}

func (d *Dispatcher) run(ctx context.Context, s *Session, argv []string, stdin io.Reader, stdout, stderr io.Writer) (command.Outcome, error) {
	req := command.Request{
		Name:   argv[0],
		Args:   argv[1:],
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
	}
	if s != nil {
		req.Session = s
	}

	exe, err := d.manager.Invoke(ctx, req)
	if err != nil {
		d.report(stderr, argv[0], err)
		return command.Outcome{Status: command.Failed, Err: err}, nil
	}

	if s != nil {
		s.setCurrent(exe)
		defer s.clearCurrent(exe)
	}

	o, err := exe.Wait(ctx)
	if err == nil && o.Status == command.Cancelled && ctx.Err() != nil {
		// the execution shares ctx and may observe its end first
		return o, ctx.Err()
	}
	if err != nil {
		if !exe.Completed() {
			_ = exe.Cancel()
		}
		return command.Outcome{Status: command.Cancelled, Err: command.ErrCancelled}, err
	}
	if o.Status == command.Failed {
		d.report(stderr, argv[0], o.Err)
	}
	return o, nil
}

func (d *Dispatcher) report(w io.Writer, name string, err error) {
	var nf *command.NotFoundError
	switch {
	case errors.As(err, &nf):
		fmt.Fprintf(w, "%s: command not found\n", name)
		if hints := d.manager.Suggest(name); len(hints) > 0 {
			fmt.Fprintf(w, "did you mean: %s?\n", strings.Join(hints, ", "))
		}
	case errors.Is(err, command.ErrUsage):
		fmt.Fprintf(w, "%v\n", err)
		if c, lerr := d.manager.Lookup(name); lerr == nil {
			fmt.Fprintf(w, "usage: %s\n", c.Usage())
		}
	default:
		fmt.Fprintf(w, "%v\n", err)
	}
}

func (d *Dispatcher) publish(ev event.Event) {
	if d.bus != nil {
		d.bus.Publish(ev)
	}
}
