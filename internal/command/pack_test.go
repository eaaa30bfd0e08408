package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telnet2/shelld/internal/loop"
)

type lookupResult struct {
	cmds []*Command
	err  error
}

func lookupOnLoop(t *testing.T, p Pack) lookupResult {
	t.Helper()
	l := loop.New("pack-test")
	defer l.Stop()

	ch := make(chan lookupResult, 1)
	Lookup(context.Background(), l, p, func(cmds []*Command, err error) {
		ch <- lookupResult{cmds, err}
	})
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatal("lookup callback not delivered")
		return lookupResult{}
	}
}

func TestStaticPack_FreshCommandsPerLookup(t *testing.T) {
	p := NewStaticPack("base",
		func() *Command { return New("help") },
		func() *Command { return New("ls") },
	)
	assert.Equal(t, "base", p.Name())

	first := lookupOnLoop(t, p)
	require.NoError(t, first.err)
	require.Len(t, first.cmds, 2)
	assert.Equal(t, "help", first.cmds[0].Name())
	assert.Equal(t, "ls", first.cmds[1].Name())

	second := lookupOnLoop(t, p)
	require.NoError(t, second.err)
	assert.NotSame(t, first.cmds[0], second.cmds[0])
}

func TestLookup_WrapsFailure(t *testing.T) {
	cause := errors.New("backend unavailable")
	p := NewPack("broken", func(context.Context) ([]*Command, error) {
		return nil, cause
	})

	r := lookupOnLoop(t, p)
	assert.Nil(t, r.cmds)
	assert.ErrorIs(t, r.err, ErrDiscovery)
	assert.ErrorIs(t, r.err, cause)

	var de *DiscoveryError
	require.ErrorAs(t, r.err, &de)
	assert.Equal(t, "broken", de.Pack)
}

func TestLookup_RecoversPanic(t *testing.T) {
	p := NewPack("panicky", func(context.Context) ([]*Command, error) {
		panic("oops")
	})
	r := lookupOnLoop(t, p)
	assert.ErrorIs(t, r.err, ErrDiscovery)
	assert.Contains(t, r.err.Error(), "oops")
}

func TestLookup_RejectsNilCommand(t *testing.T) {
	p := NewPack("holey", func(context.Context) ([]*Command, error) {
		return []*Command{New("ok"), nil}, nil
	})
	r := lookupOnLoop(t, p)
	assert.ErrorIs(t, r.err, ErrDiscovery)
	assert.Contains(t, r.err.Error(), "nil command at index 1")
	assert.Nil(t, r.cmds)

	cmds, err := LookupSync(context.Background(), p)
	assert.ErrorIs(t, err, ErrDiscovery)
	assert.Nil(t, cmds)
}

func TestLookup_EmptyPack(t *testing.T) {
	r := lookupOnLoop(t, NewStaticPack("empty"))
	require.NoError(t, r.err)
	assert.Empty(t, r.cmds)
}

func TestLookupSync_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	p := NewPack("p", func(context.Context) ([]*Command, error) {
		called = true
		return nil, nil
	})
	_, err := LookupSync(ctx, p)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrDiscovery)
	assert.False(t, called)
}

func TestLookup_StoppedLoopStillCallsBack(t *testing.T) {
	l := loop.New("stopped")
	l.Stop()
	<-l.Done()

	ch := make(chan error, 1)
	Lookup(context.Background(), l, NewStaticPack("p"), func(_ []*Command, err error) {
		ch <- err
	})
	select {
	case err := <-ch:
		assert.ErrorIs(t, err, loop.ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("callback not delivered")
	}
}
