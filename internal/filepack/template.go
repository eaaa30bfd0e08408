package filepack

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/telnet2/shelld/internal/command"
)

var (
	bracedVar = regexp.MustCompile(`\$\{(\w+)\}`)
	bareVar   = regexp.MustCompile(`\$(\w+)`)
)

// render expands the command template for one execution.
func (p *Pack) render(tmplStr string, options []command.Option, exe *command.Execution) (string, error) {
	data := p.templateData(options, exe)
	tmplStr = expandSimpleVariables(tmplStr, data)

	tmpl, err := template.New(exe.Command()).
		Option("missingkey=zero").
		Funcs(templateFuncs(exe)).
		Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template: %w", err)
	}
	return buf.String(), nil
}

// templateData builds the value templates execute against:
//
//	.args   positional arguments
//	.input  positional arguments joined by spaces
//	.opts   option values by name (bool for flags, []string for multi)
//	.vars   pack variables
//	.env    process environment
//	.cwd    session working directory
//
// Numbered keys ("1", "2", ...) and option names are also set at the top
// level for $1 and ${name} substitution.
func (p *Pack) templateData(options []command.Option, exe *command.Execution) map[string]any {
	args := exe.Args()
	data := make(map[string]any)

	positional := args.Positional()
	data["args"] = positional
	data["input"] = strings.Join(positional, " ")
	for i, a := range positional {
		data[strconv.Itoa(i+1)] = a
	}

	opts := make(map[string]any, len(options))
	for _, o := range options {
		switch o.Arity {
		case command.Flag:
			opts[o.Name] = args.Bool(o.Name)
		case command.Multi:
			opts[o.Name] = args.Values(o.Name)
		default:
			opts[o.Name] = args.String(o.Name)
		}
		if _, taken := data[o.Name]; !taken {
			data[o.Name] = opts[o.Name]
		}
	}
	data["opts"] = opts

	data["vars"] = p.vars
	for k, v := range p.vars {
		data["var_"+k] = v
	}
	data["env"] = envMap()

	cwd := "/"
	if s := exe.Session(); s != nil {
		if v, ok := s.Get("path"); ok && v != "" {
			cwd = v
		}
	}
	data["cwd"] = cwd
	return data
}

// expandSimpleVariables replaces ${name} and $name with known values before
// template parsing. Unknown names are left alone.
func expandSimpleVariables(s string, data map[string]any) string {
	lookup := func(name string) (string, bool) {
		v, ok := data[name]
		if !ok {
			return "", false
		}
		switch v := v.(type) {
		case []string:
			return strings.Join(v, " "), true
		case map[string]any, map[string]string:
			return "", false
		default:
			return fmt.Sprint(v), true
		}
	}

	s = bracedVar.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := lookup(match[2 : len(match)-1]); ok {
			return val
		}
		return match
	})
	return bareVar.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := lookup(match[1:]); ok {
			return val
		}
		return match
	})
}

func templateFuncs(exe *command.Execution) template.FuncMap {
	return template.FuncMap{
		"env": os.Getenv,
		"session": func(key string) string {
			if s := exe.Session(); s != nil {
				v, _ := s.Get(key)
				return v
			}
			return ""
		},
		"default": func(defaultVal string, val any) string {
			s := fmt.Sprint(val)
			if val == nil || s == "" {
				return defaultVal
			}
			return s
		},
		"trim":    strings.TrimSpace,
		"upper":   strings.ToUpper,
		"lower":   strings.ToLower,
		"replace": strings.ReplaceAll,
		"split":   strings.Split,
		"join":    strings.Join,
	}
}

func envMap() map[string]string {
	env := make(map[string]string)
	for _, e := range os.Environ() {
		k, v, ok := strings.Cut(e, "=")
		if ok {
			env[k] = v
		}
	}
	return env
}
