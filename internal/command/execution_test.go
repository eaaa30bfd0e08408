package command

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecution_CompletesExactlyOnce(t *testing.T) {
	exe := NewExecution(context.Background(), ExecutionConfig{Command: "echo"})

	require.NoError(t, exe.Succeed())
	assert.ErrorIs(t, exe.Fail(errors.New("late")), ErrAlreadyCompleted)
	assert.ErrorIs(t, exe.Cancel(), ErrAlreadyCompleted)
	assert.ErrorIs(t, exe.Succeed(), ErrAlreadyCompleted)

	o := exe.Outcome()
	assert.Equal(t, Succeeded, o.Status)
	assert.NoError(t, o.Err)
	assert.False(t, exe.Cancelled())
}

func TestExecution_ConcurrentCompletion(t *testing.T) {
	exe := NewExecution(context.Background(), ExecutionConfig{Command: "race"})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				err = exe.Succeed()
			} else {
				err = exe.Fail(errors.New("x"))
			}
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestExecution_CancelledOnlyWhenCancelWins(t *testing.T) {
	for i := 0; i < 200; i++ {
		exe := NewExecution(context.Background(), ExecutionConfig{Command: "race"})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = exe.Succeed()
		}()
		go func() {
			defer wg.Done()
			_ = exe.Cancel()
		}()
		wg.Wait()

		assert.Equal(t, exe.Outcome().Status == Cancelled, exe.Cancelled(), "status %s", exe.Outcome().Status)
	}
}

func TestExecution_FailNilError(t *testing.T) {
	exe := NewExecution(context.Background(), ExecutionConfig{Command: "x"})
	require.NoError(t, exe.Fail(nil))
	o := exe.Outcome()
	assert.Equal(t, Failed, o.Status)
	assert.Error(t, o.Err)
	assert.Equal(t, 1, o.ExitCode())
}

func TestExecution_CancelSetsFlagAndContext(t *testing.T) {
	exe := NewExecution(context.Background(), ExecutionConfig{Command: "sleep"})
	require.NoError(t, exe.Cancel())

	assert.True(t, exe.Cancelled())
	assert.Error(t, exe.Context().Err())
	o, err := exe.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Cancelled, o.Status)
	assert.ErrorIs(t, o.Err, ErrCancelled)
	assert.Equal(t, 130, o.ExitCode())
}

func TestExecution_ExitCodes(t *testing.T) {
	assert.Equal(t, 0, Outcome{Status: Succeeded}.ExitCode())
	assert.Equal(t, -1, Outcome{Status: Pending}.ExitCode())
	assert.Equal(t, 3, Outcome{Status: Failed, Err: &ExitError{Code: 3}}.ExitCode())
	assert.Equal(t, "exit status 3", (&ExitError{Code: 3}).Error())
}

func TestExecution_WaitHonoursContext(t *testing.T) {
	exe := NewExecution(context.Background(), ExecutionConfig{Command: "x"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := exe.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, exe.Completed())
}

func TestExecution_RunRecoversPanic(t *testing.T) {
	exe := NewExecution(context.Background(), ExecutionConfig{Command: "boom"})
	exe.Run(func(*Execution) { panic("kaboom") })

	o := exe.Outcome()
	assert.Equal(t, Failed, o.Status)
	var fault *HandlerFault
	require.ErrorAs(t, o.Err, &fault)
	assert.Equal(t, "boom", fault.Command)
	assert.Equal(t, "kaboom", fault.Value)
	assert.NotEmpty(t, fault.Stack)
	assert.ErrorIs(t, o.Err, ErrHandlerFault)

	select {
	case <-exe.Settled():
	default:
		t.Fatal("execution should be settled")
	}
}

func TestExecution_SettlesAfterAsyncCompletion(t *testing.T) {
	exe := NewExecution(context.Background(), ExecutionConfig{Command: "async"})
	release := make(chan struct{})
	exe.Run(func(e *Execution) {
		go func() {
			<-release
			_ = e.Succeed()
		}()
	})

	select {
	case <-exe.Settled():
		t.Fatal("must not settle before completion")
	default:
	}
	close(release)

	select {
	case <-exe.Settled():
	case <-time.After(time.Second):
		t.Fatal("execution did not settle")
	}
}

func TestExecution_Output(t *testing.T) {
	var out, errOut bytes.Buffer
	exe := NewExecution(context.Background(), ExecutionConfig{
		Command: "echo",
		Stdout:  &out,
		Stderr:  &errOut,
	})
	exe.Printf("%s-%d", "a", 1)
	exe.Println()
	exe.Errorf("oops")

	assert.Equal(t, "a-1\n", out.String())
	assert.Equal(t, "oops", errOut.String())
	assert.NotEmpty(t, exe.ID())
	assert.Equal(t, "", exe.SessionID())
}
