package builtin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/telnet2/shelld/internal/command"
	"github.com/telnet2/shelld/internal/event"
)

var errNoBus = errors.New("no event bus")

// BusSend publishes a message on a bus topic.
func BusSend(bus *event.Bus) *command.Command {
	const usage = "bus-send address message"
	cmd := command.New("bus-send").
		Describe("send a message to a bus address").
		SetUsage(usage)
	cmd.SetExecuteHandler(func(exe *command.Execution) {
		args := exe.Args().Positional()
		if len(args) < 2 {
			usageError(exe, usage)
			return
		}
		if bus == nil {
			_ = exe.Fail(fmt.Errorf("bus-send: %w", errNoBus))
			return
		}
		msg := strings.Join(args[1:], " ")
		if err := bus.Send(args[0], []byte(msg)); err != nil {
			_ = exe.Fail(fmt.Errorf("bus-send: %w", err))
			return
		}
		_ = exe.Succeed()
	})
	return cmd
}

// BusTail prints every message sent to a bus address until cancelled.
func BusTail(bus *event.Bus) *command.Command {
	const usage = "bus-tail address"
	cmd := command.New("bus-tail").
		Describe("print messages sent to a bus address").
		SetUsage(usage)
	cmd.SetExecuteHandler(func(exe *command.Execution) {
		if exe.Args().Len() < 1 {
			usageError(exe, usage)
			return
		}
		if bus == nil {
			_ = exe.Fail(fmt.Errorf("bus-tail: %w", errNoBus))
			return
		}

		msgs, err := bus.Tail(exe.Context(), exe.Args().Arg(0))
		if err != nil {
			_ = exe.Fail(fmt.Errorf("bus-tail: %w", err))
			return
		}
		for {
			select {
			case payload, ok := <-msgs:
				if !ok {
					// Bus closed underneath us.
					if !exe.Completed() {
						_ = exe.Succeed()
					}
					return
				}
				exe.Println(string(payload))
			case <-exe.Context().Done():
				if !exe.Completed() {
					_ = exe.Cancel()
				}
				return
			}
		}
	})
	return cmd
}
