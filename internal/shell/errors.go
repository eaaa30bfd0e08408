package shell

import (
	"errors"
	"fmt"
)

// ErrIllegalState is matched by every *IllegalStateError.
var ErrIllegalState = errors.New("illegal service state")

// State is a step in the service lifecycle. It only moves forward.
type State int32

const (
	Created State = iota
	Starting
	Running
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// IllegalStateError reports a lifecycle operation the current state does
// not allow.
type IllegalStateError struct {
	Op    string
	State State
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("cannot %s shell service in state %s", e.Op, e.State)
}

func (e *IllegalStateError) Is(target error) bool { return target == ErrIllegalState }
