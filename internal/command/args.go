package command

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// Args holds the option values and positional arguments bound for one
// invocation. Option values are keyed by Option.Name.
type Args struct {
	raw        []string
	positional []string
	values     map[string][]string
	set        map[string]bool
}

// NewArgs returns Args with only positional arguments, as used by commands
// that declare no options.
func NewArgs(positional ...string) *Args {
	return &Args{
		raw:        positional,
		positional: positional,
		values:     map[string][]string{},
		set:        map[string]bool{},
	}
}

// Raw returns the arguments as typed, before binding.
func (a *Args) Raw() []string { return a.raw }

// Positional returns the arguments that were not consumed by options.
func (a *Args) Positional() []string { return a.positional }

// Arg returns the i-th positional argument or "".
func (a *Args) Arg(i int) string {
	if i < 0 || i >= len(a.positional) {
		return ""
	}
	return a.positional[i]
}

// Len returns the number of positional arguments.
func (a *Args) Len() int { return len(a.positional) }

// IsSet reports whether the option was given explicitly.
func (a *Args) IsSet(name string) bool { return a.set[name] }

// Get returns the last bound value of an option, falling back to its default.
func (a *Args) Get(name string) (string, bool) {
	vals := a.values[name]
	if len(vals) == 0 {
		return "", false
	}
	return vals[len(vals)-1], true
}

// String returns the option value or "".
func (a *Args) String(name string) string {
	v, _ := a.Get(name)
	return v
}

// Values returns every bound value of a Multi option.
func (a *Args) Values(name string) []string {
	return append([]string(nil), a.values[name]...)
}

// Bool returns the option as a boolean. Unset flags are false.
func (a *Args) Bool(name string) bool {
	v, ok := a.Get(name)
	if !ok {
		return false
	}
	b, _ := strconv.ParseBool(v)
	return b
}

// Int returns the option as an integer.
func (a *Args) Int(name string) (int, error) {
	v, ok := a.Get(name)
	if !ok {
		return 0, fmt.Errorf("option %q not set", name)
	}
	return strconv.Atoi(v)
}

// Duration returns the option as a duration.
func (a *Args) Duration(name string) (time.Duration, error) {
	v, ok := a.Get(name)
	if !ok {
		return 0, fmt.Errorf("option %q not set", name)
	}
	return time.ParseDuration(v)
}

// Bind parses raw against options. Commands without options take every
// argument as positional, including ones that look like flags.
func Bind(command string, options []Option, raw []string) (*Args, error) {
	if len(options) == 0 {
		return NewArgs(raw...), nil
	}

	fs := pflag.NewFlagSet(command, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false

	seen := make(map[string]bool, len(options))
	shorts := make(map[string]bool, len(options))
	for _, o := range options {
		if err := o.check(); err != nil {
			return nil, &UsageError{Command: command, Err: err}
		}
		long := o.LongName()
		if seen[long] || (o.Short != "" && shorts[o.Short]) {
			return nil, &UsageError{Command: command, Err: fmt.Errorf("option %q defined twice", o.Name)}
		}
		seen[long] = true
		if o.Short != "" {
			shorts[o.Short] = true
		}

		switch o.Arity {
		case Flag:
			def, _ := strconv.ParseBool(o.Default)
			fs.BoolP(long, o.Short, def, o.Description)
		case Single:
			fs.StringP(long, o.Short, o.Default, o.Description)
		case Multi:
			fs.StringArrayP(long, o.Short, nil, o.Description)
		default:
			return nil, &UsageError{Command: command, Err: fmt.Errorf("option %q has unknown arity %v", o.Name, o.Arity)}
		}
	}

	if err := fs.Parse(raw); err != nil {
		return nil, &UsageError{Command: command, Err: err}
	}

	args := &Args{
		raw:        raw,
		positional: fs.Args(),
		values:     make(map[string][]string, len(options)),
		set:        make(map[string]bool, len(options)),
	}
	for _, o := range options {
		long := o.LongName()
		changed := fs.Changed(long)
		if !changed {
			if o.Required {
				return nil, &UsageError{Command: command, Err: fmt.Errorf("missing required option --%s", long)}
			}
			if o.Default != "" {
				args.values[o.Name] = []string{o.Default}
			}
			continue
		}

		args.set[o.Name] = true
		switch o.Arity {
		case Flag:
			v, _ := fs.GetBool(long)
			args.values[o.Name] = []string{strconv.FormatBool(v)}
		case Single:
			v, _ := fs.GetString(long)
			if err := o.validate(v); err != nil {
				return nil, &UsageError{Command: command, Err: err}
			}
			args.values[o.Name] = []string{v}
		case Multi:
			vs, _ := fs.GetStringArray(long)
			for _, v := range vs {
				if err := o.validate(v); err != nil {
					return nil, &UsageError{Command: command, Err: err}
				}
			}
			args.values[o.Name] = vs
		}
	}
	return args, nil
}
