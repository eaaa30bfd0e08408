package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telnet2/shelld/internal/logging"
)

// Session is the per-connection state an execution can read and write.
type Session interface {
	ID() string
	Get(key string) (string, bool)
	Put(key, value string)
}

// Status is the state of an execution.
type Status int

const (
	Pending Status = iota
	Succeeded
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Succeeded:
		return "success"
	case Failed:
		return "failure"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the terminal result of an execution.
type Outcome struct {
	Status Status
	Err    error
}

// exitCoder lets failure errors choose their exit code.
type exitCoder interface {
	ExitCode() int
}

// ExitCode maps the outcome to a process-style exit status.
func (o Outcome) ExitCode() int {
	switch o.Status {
	case Succeeded:
		return 0
	case Cancelled:
		return 130
	case Failed:
		var ec exitCoder
		if errors.As(o.Err, &ec) {
			return ec.ExitCode()
		}
		return 1
	default:
		return -1
	}
}

// ExitError fails an execution with a specific exit code.
type ExitError struct {
	Code int
	Msg  string
}

func (e *ExitError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) ExitCode() int { return e.Code }

// Execution is one in-flight invocation of a command. It completes exactly
// once; later completion attempts return ErrAlreadyCompleted and change
// nothing.
type Execution struct {
	id      string
	command string
	args    *Args
	session Session

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	ctx    context.Context
	cancel context.CancelFunc

	started time.Time
	log     zerolog.Logger

	mu        sync.Mutex
	outcome   Outcome
	cancelled bool
	returned  bool
	done      chan struct{}

	settled    chan struct{}
	settleOnce sync.Once

	onComplete func(*Execution)
	onSettle   func(*Execution)
}

// ExecutionConfig carries the inputs of a new execution.
type ExecutionConfig struct {
	Command string
	Args    *Args
	Session Session
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
}

// NewExecution creates a pending execution detached from any manager. The
// manager creates executions through Invoke; this is for handlers under test
// and for front-ends that run handlers directly.
func NewExecution(ctx context.Context, cfg ExecutionConfig) *Execution {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	if cfg.Args == nil {
		cfg.Args = NewArgs()
	}
	if cfg.Stdin == nil {
		cfg.Stdin = strings.NewReader("")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = io.Discard
	}
	if cfg.Stderr == nil {
		cfg.Stderr = cfg.Stdout
	}
	id := uuid.NewString()
	return &Execution{
		id:      id,
		command: cfg.Command,
		args:    cfg.Args,
		session: cfg.Session,
		stdin:   cfg.Stdin,
		stdout:  cfg.Stdout,
		stderr:  cfg.Stderr,
		ctx:     ctx,
		cancel:  cancel,
		started: time.Now(),
		log: logging.Component("execution").With().
			Str("execution", id).Str("command", cfg.Command).Logger(),
		done:    make(chan struct{}),
		settled: make(chan struct{}),
	}
}

// ID returns the execution id.
func (e *Execution) ID() string { return e.id }

// Command returns the name the command was invoked under.
func (e *Execution) Command() string { return e.command }

// Args returns the bound arguments.
func (e *Execution) Args() *Args { return e.args }

// Session returns the invoking session, or nil for sessionless invocations.
func (e *Execution) Session() Session { return e.session }

// SessionID returns the invoking session id or "".
func (e *Execution) SessionID() string {
	if e.session == nil {
		return ""
	}
	return e.session.ID()
}

func (e *Execution) Stdin() io.Reader  { return e.stdin }
func (e *Execution) Stdout() io.Writer { return e.stdout }
func (e *Execution) Stderr() io.Writer { return e.stderr }

// Printf writes formatted output to stdout.
func (e *Execution) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(e.stdout, format, a...)
}

// Println writes a line to stdout.
func (e *Execution) Println(a ...any) {
	_, _ = fmt.Fprintln(e.stdout, a...)
}

// Errorf writes formatted output to stderr.
func (e *Execution) Errorf(format string, a ...any) {
	_, _ = fmt.Fprintf(e.stderr, format, a...)
}

// Context is done when the execution completes or is cancelled.
func (e *Execution) Context() context.Context { return e.ctx }

// Started returns the invocation time.
func (e *Execution) Started() time.Time { return e.started }

// Cancelled reports whether the execution ended by cancellation. Handlers
// poll it (or watch Context) to stop early.
func (e *Execution) Cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// Succeed completes the execution successfully.
func (e *Execution) Succeed() error {
	return e.complete(Outcome{Status: Succeeded})
}

// Fail completes the execution with err. A nil err is replaced by a generic
// failure.
func (e *Execution) Fail(err error) error {
	if err == nil {
		err = errors.New("command failed")
	}
	return e.complete(Outcome{Status: Failed, Err: err})
}

// Cancel marks the execution cancelled and completes it. Cancelling a
// completed execution returns ErrAlreadyCompleted.
func (e *Execution) Cancel() error {
	return e.complete(Outcome{Status: Cancelled, Err: ErrCancelled})
}

func (e *Execution) complete(o Outcome) error {
	e.mu.Lock()
	if e.outcome.Status != Pending {
		prev := e.outcome.Status
		e.mu.Unlock()
		e.log.Warn().Str("status", prev.String()).Str("attempt", o.Status.String()).
			Msg("execution already completed")
		return ErrAlreadyCompleted
	}
	e.outcome = o
	e.cancelled = o.Status == Cancelled
	hook := e.onComplete
	settle := e.returned
	e.mu.Unlock()

	close(e.done)
	e.cancel()

	ev := e.log.Debug()
	if o.Err != nil && o.Status == Failed {
		ev = e.log.Info().Err(o.Err)
	}
	ev.Str("status", o.Status.String()).Dur("elapsed", time.Since(e.started)).Msg("execution completed")

	if hook != nil {
		hook(e)
	}
	if settle {
		e.settle()
	}
	return nil
}

// Run calls h on the current goroutine. A panicking handler fails the
// execution with a *HandlerFault. Run returns when h returns, which may be
// before the execution completes.
func (e *Execution) Run(h Handler) {
	defer e.handlerReturned()
	defer func() {
		if r := recover(); r != nil {
			fault := &HandlerFault{Command: e.command, Value: r, Stack: debug.Stack()}
			e.log.Error().Str("panic", fmt.Sprint(r)).Msg("command handler panicked")
			_ = e.Fail(fault)
		}
	}()
	if h == nil {
		_ = e.Fail(&HandlerFault{Command: e.command, Value: "no execute handler"})
		return
	}
	h(e)
}

// handlerReturned records that the handler goroutine has exited.
func (e *Execution) handlerReturned() {
	e.mu.Lock()
	e.returned = true
	settle := e.outcome.Status != Pending
	e.mu.Unlock()
	if settle {
		e.settle()
	}
}

func (e *Execution) settle() {
	e.settleOnce.Do(func() {
		close(e.settled)
		if e.onSettle != nil {
			e.onSettle(e)
		}
	})
}

// Done is closed when the execution completes.
func (e *Execution) Done() <-chan struct{} { return e.done }

// Settled is closed once the execution has completed and its handler has
// returned.
func (e *Execution) Settled() <-chan struct{} { return e.settled }

// Completed reports whether the execution has an outcome.
func (e *Execution) Completed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Outcome returns the outcome, with Status Pending while running.
func (e *Execution) Outcome() Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outcome
}

// Wait blocks until the execution completes or ctx is done.
func (e *Execution) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-e.done:
		return e.Outcome(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
