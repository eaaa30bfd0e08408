// Package filepack turns a directory of markdown files into a command pack.
//
// Each *.md file below the directory becomes one command, named by its
// relative path without the extension and with path separators replaced by
// ":" (git/status.md is "git:status"). Optional YAML frontmatter declares the
// description, usage and options; the body is a text/template whose output is
// the command's stdout.
package filepack

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/telnet2/shelld/internal/command"
	"github.com/telnet2/shelld/internal/logging"
)

// Prefix marks file pack references in configuration: "file:<dir>".
const Prefix = "file:"

// Definition is a parsed command file.
type Definition struct {
	Name        string
	Path        string
	Description string
	Usage       string
	Hidden      bool
	Options     []command.Option
	Template    string
}

type frontmatter struct {
	Description string       `yaml:"description"`
	Usage       string       `yaml:"usage"`
	Hidden      bool         `yaml:"hidden"`
	Options     []optionSpec `yaml:"options"`
}

type optionSpec struct {
	Name        string `yaml:"name"`
	Short       string `yaml:"short"`
	Long        string `yaml:"long"`
	Arity       string `yaml:"arity"`
	Type        string `yaml:"type"`
	Default     string `yaml:"default"`
	Required    bool   `yaml:"required"`
	Description string `yaml:"description"`
}

func (s optionSpec) option() (command.Option, error) {
	o := command.Option{
		Name:        s.Name,
		Short:       s.Short,
		Long:        s.Long,
		Default:     s.Default,
		Required:    s.Required,
		Description: s.Description,
	}
	switch strings.ToLower(s.Arity) {
	case "", "single":
		o.Arity = command.Single
	case "flag":
		o.Arity = command.Flag
	case "multi", "multiple":
		o.Arity = command.Multi
	default:
		return o, fmt.Errorf("option %q: unknown arity %q", s.Name, s.Arity)
	}
	switch strings.ToLower(s.Type) {
	case "", "string":
		o.Type = command.String
	case "int", "integer":
		o.Type = command.Int
	case "bool", "boolean":
		o.Type = command.Bool
	case "duration":
		o.Type = command.Duration
	default:
		return o, fmt.Errorf("option %q: unknown type %q", s.Name, s.Type)
	}
	if o.Name == "" {
		return o, fmt.Errorf("option without a name")
	}
	return o, nil
}

// Pack loads commands from markdown files under a directory.
type Pack struct {
	dir     string
	fs      afero.Fs
	pattern string
	vars    map[string]string
	log     zerolog.Logger
}

// Option configures a Pack.
type Option func(*Pack)

// WithFs reads command files from fs instead of the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(p *Pack) { p.fs = fs }
}

// WithPattern restricts which files become commands. The default is "**/*.md".
func WithPattern(pattern string) Option {
	return func(p *Pack) { p.pattern = pattern }
}

// WithVariables exposes fixed values to templates as .vars.
func WithVariables(vars map[string]string) Option {
	return func(p *Pack) { p.vars = vars }
}

// New creates a pack reading dir.
func New(dir string, opts ...Option) *Pack {
	p := &Pack{
		dir:     dir,
		fs:      afero.NewOsFs(),
		pattern: "**/*.md",
		vars:    map[string]string{},
		log:     logging.Component("filepack").With().Str("dir", dir).Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "file:<dir>".
func (p *Pack) Name() string { return Prefix + p.dir }

// Dir returns the directory the pack reads.
func (p *Pack) Dir() string { return p.dir }

// LookupCommands parses every matching file. Files that fail to parse are
// logged and skipped; a missing directory is an error.
func (p *Pack) LookupCommands(ctx context.Context) ([]*command.Command, error) {
	defs, err := p.Definitions(ctx)
	if err != nil {
		return nil, err
	}
	cmds := make([]*command.Command, 0, len(defs))
	for _, def := range defs {
		cmds = append(cmds, p.build(def))
	}
	return cmds, nil
}

// Definitions parses the command files without building commands.
func (p *Pack) Definitions(ctx context.Context) ([]*Definition, error) {
	info, err := p.fs.Stat(p.dir)
	if err != nil {
		return nil, fmt.Errorf("command directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("command directory %s is not a directory", p.dir)
	}

	var defs []*Definition
	err = afero.Walk(p.fs, p.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(p.dir, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if ok, _ := doublestar.Match(p.pattern, rel); !ok {
			return nil
		}

		def, parseErr := p.parse(path)
		if parseErr != nil {
			p.log.Warn().Err(parseErr).Str("file", rel).Msg("skipping command file")
			return nil
		}
		def.Name = strings.ReplaceAll(strings.TrimSuffix(rel, filepath.Ext(rel)), "/", ":")
		def.Path = path
		defs = append(defs, def)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// parse reads a command file. Without frontmatter the whole file is the
// template.
func (p *Pack) parse(path string) (*Definition, error) {
	content, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return nil, err
	}

	def := &Definition{}
	body, meta, found, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}
	if !found {
		def.Template = string(content)
		return def, nil
	}

	var fm frontmatter
	if err := yaml.Unmarshal(meta, &fm); err != nil {
		return nil, fmt.Errorf("frontmatter: %w", err)
	}
	def.Description = fm.Description
	def.Usage = fm.Usage
	def.Hidden = fm.Hidden
	for _, spec := range fm.Options {
		o, err := spec.option()
		if err != nil {
			return nil, err
		}
		def.Options = append(def.Options, o)
	}
	def.Template = strings.TrimSpace(string(body))
	return def, nil
}

// splitFrontmatter separates a leading "---" delimited YAML block.
func splitFrontmatter(content []byte) (body, meta []byte, found bool, err error) {
	lines := bytes.SplitAfter(content, []byte("\n"))
	if len(lines) == 0 || strings.TrimSpace(string(lines[0])) != "---" {
		return content, nil, false, nil
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(string(lines[i])) == "---" {
			return bytes.Join(lines[i+1:], nil), bytes.Join(lines[1:i], nil), true, nil
		}
	}
	return nil, nil, false, fmt.Errorf("unterminated frontmatter")
}

func (p *Pack) build(def *Definition) *command.Command {
	cmd := command.New(def.Name).Describe(def.Description)
	if def.Usage != "" {
		cmd.SetUsage(def.Usage)
	}
	if def.Hidden {
		cmd.Hide()
	}
	for _, o := range def.Options {
		cmd.Option(o)
	}

	tmpl := def.Template
	cmd.SetExecuteHandler(func(exe *command.Execution) {
		out, err := p.render(tmpl, def.Options, exe)
		if err != nil {
			_ = exe.Fail(fmt.Errorf("%s: %w", def.Name, err))
			return
		}
		exe.Printf("%s", out)
		if out != "" && !strings.HasSuffix(out, "\n") {
			exe.Println()
		}
		_ = exe.Succeed()
	})
	return cmd
}
