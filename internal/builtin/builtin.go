// Package builtin provides the base command pack every shell service loads:
// echo, help, sleep, filesystem navigation, shared local maps, event bus
// topics and listener listing.
package builtin

import (
	"github.com/spf13/afero"

	"github.com/telnet2/shelld/internal/command"
	"github.com/telnet2/shelld/internal/event"
	"github.com/telnet2/shelld/internal/storage"
)

// PackName is the name of the base pack.
const PackName = "base"

// SessionPathKey is the session key holding the working directory.
const SessionPathKey = "path"

// Registry lists the commands help can show. *command.Manager satisfies it.
type Registry interface {
	Commands() []*command.Command
}

// ListenerInfo describes one bound listener for server-ls.
type ListenerInfo struct {
	Type    string
	Name    string
	Address string
}

// Env is what the base commands operate on. Zero fields disable the
// commands that need them: they fail with a message instead of panicking.
type Env struct {
	Registry  Registry
	Fs        afero.Fs
	Maps      storage.Maps
	Bus       *event.Bus
	Listeners func() []ListenerInfo
}

// NewPack returns the base pack. Each lookup builds fresh commands.
func NewPack(env Env) command.Pack {
	if env.Fs == nil {
		env.Fs = afero.NewOsFs()
	}
	if env.Maps == nil {
		env.Maps = storage.NewMemoryMaps()
	}
	return command.NewStaticPack(PackName,
		func() *command.Command { return Echo() },
		func() *command.Command { return Help(env.Registry) },
		func() *command.Command { return Sleep() },
		func() *command.Command { return Pwd() },
		func() *command.Command { return Cd(env.Fs) },
		func() *command.Command { return Ls(env.Fs) },
		func() *command.Command { return Cat(env.Fs) },
		func() *command.Command { return LocalMapGet(env.Maps) },
		func() *command.Command { return LocalMapPut(env.Maps) },
		func() *command.Command { return LocalMapRm(env.Maps) },
		func() *command.Command { return LocalMapLs(env.Maps) },
		func() *command.Command { return BusSend(env.Bus) },
		func() *command.Command { return BusTail(env.Bus) },
		func() *command.Command { return ServerLs(env.Listeners) },
	)
}

// usageError fails exe with exit status 2 and a usage line.
func usageError(exe *command.Execution, usage string) {
	_ = exe.Fail(&command.ExitError{Code: 2, Msg: "usage: " + usage})
}
