package command

import (
	"errors"
	"fmt"
)

var (
	// ErrNameConflict is returned when a command name is already registered.
	ErrNameConflict = errors.New("command name conflict")
	// ErrNotFound is returned when no command is registered under a name.
	ErrNotFound = errors.New("command not found")
	// ErrClosed is returned by operations on a closed manager.
	ErrClosed = errors.New("command manager closed")
	// ErrAlreadyOwned is returned when a command is registered with a second manager.
	ErrAlreadyOwned = errors.New("command already registered with a manager")
	// ErrDiscovery marks a command pack lookup failure.
	ErrDiscovery = errors.New("command discovery failed")
	// ErrHandlerFault marks an execute handler that panicked or could not run.
	ErrHandlerFault = errors.New("command handler fault")
	// ErrUsage marks arguments that do not match the command's options.
	ErrUsage = errors.New("invalid command usage")
	// ErrAlreadyCompleted is returned when an execution is completed twice.
	ErrAlreadyCompleted = errors.New("execution already completed")
	// ErrCancelled is the outcome error of a cancelled execution.
	ErrCancelled = errors.New("execution cancelled")
)

// NameConflictError reports a duplicate registration.
type NameConflictError struct {
	Name string
}

func (e *NameConflictError) Error() string {
	return fmt.Sprintf("command %q is already registered", e.Name)
}

func (e *NameConflictError) Is(target error) bool { return target == ErrNameConflict }

// NotFoundError reports a lookup miss.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: command not found", e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ExitCode follows the shell convention for unknown commands.
func (e *NotFoundError) ExitCode() int { return 127 }

// DiscoveryError reports a failed CommandPack lookup.
type DiscoveryError struct {
	Pack string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("command pack %q: %v", e.Pack, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

func (e *DiscoveryError) Is(target error) bool { return target == ErrDiscovery }

// HandlerFault reports an execute handler that panicked instead of completing.
type HandlerFault struct {
	Command string
	Value   any
	Stack   []byte
}

func (e *HandlerFault) Error() string {
	return fmt.Sprintf("command %q handler fault: %v", e.Command, e.Value)
}

func (e *HandlerFault) Is(target error) bool { return target == ErrHandlerFault }

// UsageError reports arguments rejected by option binding.
type UsageError struct {
	Command string
	Err     error
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *UsageError) Unwrap() error { return e.Err }

func (e *UsageError) Is(target error) bool { return target == ErrUsage }

func (e *UsageError) ExitCode() int { return 2 }
