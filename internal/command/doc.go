/*
Package command defines commands, their executions, and the registry that
holds them.

A Command is a name plus a list of Options and an execute Handler:

	echo := command.New("echo").
		Option(command.Option{Name: "n", Short: "n", Arity: command.Flag}).
		SetExecuteHandler(func(exe *command.Execution) {
			exe.Printf("%s", strings.Join(exe.Args().Positional(), " "))
			if !exe.Args().Bool("n") {
				exe.Println()
			}
			_ = exe.Succeed()
		})

A Manager owns registered commands. Mutations (AddCommand, RemoveCommand,
Close, Command.Unregister cleanup) run on the manager's loop in submission
order; Lookup reads concurrently. A command is owned by at most one manager
and its name is unique within it.

Invoke binds arguments with pflag and runs the handler on its own goroutine.
Handlers complete the Execution exactly once with Succeed, Fail or Cancel.
A handler that panics fails its execution with a *HandlerFault.

A Pack is a named source of commands that a shell service queries when it
starts. Lookup runs a pack off the loop and delivers the result on it.
*/
package command
