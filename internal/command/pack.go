package command

import (
	"context"
	"fmt"

	"github.com/telnet2/shelld/internal/loop"
)

// Pack is a named source of commands, discovered when a shell service starts.
// LookupCommands may block; it is never called on the service loop.
type Pack interface {
	Name() string
	LookupCommands(ctx context.Context) ([]*Command, error)
}

type funcPack struct {
	name string
	fn   func(ctx context.Context) ([]*Command, error)
}

func (p *funcPack) Name() string { return p.name }

func (p *funcPack) LookupCommands(ctx context.Context) ([]*Command, error) {
	return p.fn(ctx)
}

// NewPack adapts fn to a Pack.
func NewPack(name string, fn func(ctx context.Context) ([]*Command, error)) Pack {
	return &funcPack{name: name, fn: fn}
}

// NewStaticPack returns a pack that builds a fresh command from each factory
// on every lookup, so reloading never reuses a command that was unregistered.
func NewStaticPack(name string, factories ...func() *Command) Pack {
	return NewPack(name, func(ctx context.Context) ([]*Command, error) {
		cmds := make([]*Command, 0, len(factories))
		for _, f := range factories {
			cmds = append(cmds, f())
		}
		return cmds, nil
	})
}

// Lookup runs p.LookupCommands on its own goroutine and delivers the result
// to done on l. Failures, including panics and nil commands, arrive as a
// *DiscoveryError.
func Lookup(ctx context.Context, l *loop.Loop, p Pack, done func([]*Command, error)) {
	go func() {
		cmds, err := lookupSafe(ctx, p)
		if err != nil {
			cmds, err = nil, &DiscoveryError{Pack: p.Name(), Err: err}
		}
		if postErr := l.Post(func() { done(cmds, err) }); postErr != nil {
			done(nil, &DiscoveryError{Pack: p.Name(), Err: postErr})
		}
	}()
}

// LookupSync calls p.LookupCommands on the current goroutine with the same
// error handling as Lookup.
func LookupSync(ctx context.Context, p Pack) ([]*Command, error) {
	cmds, err := lookupSafe(ctx, p)
	if err != nil {
		return nil, &DiscoveryError{Pack: p.Name(), Err: err}
	}
	return cmds, nil
}

func lookupSafe(ctx context.Context, p Pack) (cmds []*Command, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lookup panicked: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmds, err = p.LookupCommands(ctx)
	if err != nil {
		return nil, err
	}
	for i, c := range cmds {
		if c == nil {
			return nil, fmt.Errorf("lookup returned a nil command at index %d", i)
		}
	}
	return cmds, nil
}
