package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Arity is the number of values an option takes.
type Arity int

const (
	// Flag options take no value and bind to "true" when present.
	Flag Arity = iota
	// Single options take exactly one value; repeats keep the last.
	Single
	// Multi options may be repeated and keep every value in order.
	Multi
)

func (a Arity) String() string {
	switch a {
	case Flag:
		return "flag"
	case Single:
		return "single"
	case Multi:
		return "multi"
	default:
		return fmt.Sprintf("arity(%d)", int(a))
	}
}

// OptionType is the value type an option accepts.
type OptionType int

const (
	String OptionType = iota
	Int
	Bool
	Duration
)

func (t OptionType) String() string {
	switch t {
	case String:
		return "string"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Duration:
		return "duration"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Option describes one flag or argument a command accepts. Options are values:
// a Command stores its own copy, so changing an Option after passing it to
// Command.Option has no effect on the command.
type Option struct {
	// Name identifies the option in Args. Required.
	Name string
	// Short is the one-letter form ("v" for -v). Optional.
	Short string
	// Long is the long form without dashes. Defaults to Name.
	Long string
	// Arity is Flag, Single or Multi.
	Arity Arity
	// Type validates values of Single and Multi options.
	Type OptionType
	// Default is bound when the option is absent.
	Default string
	// Required rejects invocations that omit the option.
	Required bool
	// Description is shown in usage text.
	Description string
}

// LongName returns the long flag form.
func (o Option) LongName() string {
	if o.Long != "" {
		return o.Long
	}
	return o.Name
}

// check validates the option definition itself.
func (o Option) check() error {
	if o.Name == "" {
		return fmt.Errorf("option without a name")
	}
	if len(o.Short) > 1 {
		return fmt.Errorf("option %q: short form %q must be a single character", o.Name, o.Short)
	}
	if o.Default != "" && o.Arity != Flag {
		if err := o.validate(o.Default); err != nil {
			return fmt.Errorf("option %q default: %w", o.Name, err)
		}
	}
	return nil
}

// validate checks a value against the option type.
func (o Option) validate(value string) error {
	switch o.Type {
	case Int:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("--%s expects an integer, got %q", o.LongName(), value)
		}
	case Bool:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("--%s expects a boolean, got %q", o.LongName(), value)
		}
	case Duration:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("--%s expects a duration, got %q", o.LongName(), value)
		}
	}
	return nil
}

// synopsis renders the option for usage lines, e.g. "[-n]" or "--count=int".
func (o Option) synopsis() string {
	var b strings.Builder
	if o.Short != "" {
		b.WriteString("-" + o.Short + "|")
	}
	b.WriteString("--" + o.LongName())
	if o.Arity != Flag {
		b.WriteString("=" + o.Type.String())
	}
	if o.Arity == Multi {
		b.WriteString("...")
	}
	if o.Required {
		return b.String()
	}
	return "[" + b.String() + "]"
}
