package builtin

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/telnet2/shelld/internal/command"
)

// Echo prints its arguments separated by spaces. A leading -n suppresses the
// trailing newline.
func Echo() *command.Command {
	cmd := command.New("echo").
		Describe("print arguments").
		SetUsage("echo [-n] args...")
	cmd.SetExecuteHandler(func(exe *command.Execution) {
		args := exe.Args().Positional()
		newline := true
		if len(args) > 0 && args[0] == "-n" {
			newline = false
			args = args[1:]
		}
		exe.Printf("%s", strings.Join(args, " "))
		if newline {
			exe.Println()
		}
		_ = exe.Succeed()
	})
	return cmd
}

// Help lists the registered commands, or describes one command. A glob
// argument filters the listing.
func Help(reg Registry) *command.Command {
	cmd := command.New("help").
		Describe("list available commands").
		SetUsage("help [command|pattern]")
	cmd.SetExecuteHandler(func(exe *command.Execution) {
		if reg == nil {
			_ = exe.Fail(fmt.Errorf("help: no command registry"))
			return
		}
		pattern := exe.Args().Arg(0)
		if pattern != "" && !doublestar.ValidatePattern(pattern) {
			_ = exe.Fail(fmt.Errorf("help: bad pattern %q", pattern))
			return
		}

		var matched []*command.Command
		for _, c := range reg.Commands() {
			if pattern == c.Name() {
				describe(exe, c)
				_ = exe.Succeed()
				return
			}
			if c.Hidden() {
				continue
			}
			if pattern != "" {
				if ok, _ := doublestar.Match(pattern, c.Name()); !ok {
					continue
				}
			}
			matched = append(matched, c)
		}

		exe.Println("available commands:")
		w := tabwriter.NewWriter(exe.Stdout(), 0, 4, 2, ' ', 0)
		for _, c := range matched {
			fmt.Fprintf(w, "  %s\t%s\n", c.Name(), c.Description())
		}
		_ = w.Flush()
		_ = exe.Succeed()
	})
	return cmd
}

func describe(exe *command.Execution, c *command.Command) {
	exe.Printf("usage: %s\n", c.Usage())
	if d := c.Description(); d != "" {
		exe.Printf("\n%s\n", d)
	}
	opts := c.Options()
	if len(opts) == 0 {
		return
	}
	exe.Println()
	w := tabwriter.NewWriter(exe.Stdout(), 0, 4, 2, ' ', 0)
	for _, o := range opts {
		flag := "--" + o.LongName()
		if o.Short != "" {
			flag = "-" + o.Short + ", " + flag
		}
		desc := o.Description
		if o.Default != "" {
			desc += fmt.Sprintf(" (default %s)", o.Default)
		}
		fmt.Fprintf(w, "  %s\t%s\n", flag, strings.TrimSpace(desc))
	}
	_ = w.Flush()
}

// Sleep completes after the given number of seconds, or on cancellation.
// Go duration syntax ("1m30s") is accepted too.
func Sleep() *command.Command {
	cmd := command.New("sleep").
		Describe("wait for a number of seconds").
		SetUsage("sleep seconds")
	cmd.SetExecuteHandler(func(exe *command.Execution) {
		if exe.Args().Len() == 0 {
			usageError(exe, "sleep seconds")
			return
		}
		d, err := parseSleep(exe.Args().Arg(0))
		if err != nil {
			_ = exe.Fail(fmt.Errorf("sleep: %w", err))
			return
		}
		if d <= 0 {
			_ = exe.Succeed()
			return
		}

		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			_ = exe.Succeed()
		case <-exe.Context().Done():
			if !exe.Completed() {
				_ = exe.Cancel()
			}
		}
	})
	return cmd
}

const maxSleepSeconds = math.MaxInt64 / int64(time.Second)

func parseSleep(arg string) (time.Duration, error) {
	if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
		if n > maxSleepSeconds {
			return 0, fmt.Errorf("time interval %q too long", arg)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid time interval %q", arg)
	}
	return d, nil
}
