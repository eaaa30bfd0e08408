// Package loop provides the serialized execution context a shell service
// uses for registry mutations and completion callbacks.
//
// A Loop owns one goroutine that drains an unbounded FIFO of tasks. Posting
// never blocks, so callers on any goroutine (including a task running on the
// loop itself) can schedule work without risking deadlock. Tasks run one at a
// time in posting order.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/telnet2/shelld/internal/logging"
)

// ErrStopped is returned when work is submitted to a stopped loop.
var ErrStopped = errors.New("loop stopped")

// Task is a unit of work run on the loop goroutine.
type Task func()

// Loop is a single-goroutine task queue.
type Loop struct {
	name string
	log  zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Task
	stopped bool

	done chan struct{}
}

// New creates and starts a loop.
func New(name string) *Loop {
	l := &Loop{
		name: name,
		log:  logging.Component("loop").With().Str("loop", name).Logger(),
		done: make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Name returns the loop name.
func (l *Loop) Name() string { return l.name }

// Post schedules fn to run on the loop. It returns ErrStopped if the loop no
// longer accepts work.
func (l *Loop) Post(fn Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ErrStopped
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	return nil
}

// Do runs fn on the loop and waits for it to finish or for ctx to be done.
// Do must not be called from a task running on the same loop.
func (l *Loop) Do(ctx context.Context, fn Task) error {
	finished := make(chan struct{})
	if err := l.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// The loop drains its queue before exiting, so finished is closed too
		// unless fn itself is still blocked.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Stop stops accepting work. Tasks already queued still run. Stop is idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.cond.Signal()
	l.mu.Unlock()
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if len(l.queue) == 0 && l.stopped {
			l.mu.Unlock()
			return
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.exec(task)
	}
}

func (l *Loop) exec(task Task) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Str("panic", fmt.Sprint(r)).Msg("task panicked")
		}
	}()
	task()
}
