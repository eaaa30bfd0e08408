package session

import (
	"errors"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ErrUnsupported is returned for shell syntax the dispatcher does not run:
// pipes, redirections, subshells, command substitution and the like.
var ErrUnsupported = errors.New("unsupported syntax")

// Lookup resolves $NAME references while parsing. Unknown names expand to "".
type Lookup func(name string) (string, bool)

// Parse splits a command line into argument vectors, one per command.
// Commands are separated by ";" or newlines. Quoting follows POSIX shell
// rules.
func Parse(line string, lookup Lookup) ([][]string, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangPOSIX),
		syntax.KeepComments(false),
	)
	file, err := parser.Parse(strings.NewReader(line), "")
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	var cmds [][]string
	for _, stmt := range file.Stmts {
		if stmt.Background || stmt.Coprocess || stmt.Negated || len(stmt.Redirs) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, describe(stmt))
		}
		call, ok := stmt.Cmd.(*syntax.CallExpr)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, describe(stmt))
		}
		if len(call.Assigns) > 0 {
			return nil, fmt.Errorf("%w: variable assignment", ErrUnsupported)
		}
		if len(call.Args) == 0 {
			continue
		}

		argv := make([]string, 0, len(call.Args))
		for _, word := range call.Args {
			s, err := wordToString(word, lookup)
			if err != nil {
				return nil, err
			}
			argv = append(argv, s)
		}
		cmds = append(cmds, argv)
	}
	return cmds, nil
}

func describe(stmt *syntax.Stmt) string {
	switch {
	case stmt.Background:
		return "background job"
	case len(stmt.Redirs) > 0:
		return "redirection"
	}
	switch stmt.Cmd.(type) {
	case *syntax.BinaryCmd:
		return "pipeline or list"
	case *syntax.Subshell, *syntax.Block:
		return "command group"
	case nil:
		return "empty statement"
	default:
		return "compound command"
	}
}

// wordToString flattens a word into its literal value.
func wordToString(word *syntax.Word, lookup Lookup) (string, error) {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(unescape(p.Value))
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				switch q := qp.(type) {
				case *syntax.Lit:
					sb.WriteString(unescapeQuoted(q.Value))
				case *syntax.ParamExp:
					v, err := expand(q, lookup)
					if err != nil {
						return "", err
					}
					sb.WriteString(v)
				default:
					return "", fmt.Errorf("%w: substitution", ErrUnsupported)
				}
			}
		case *syntax.ParamExp:
			v, err := expand(p, lookup)
			if err != nil {
				return "", err
			}
			sb.WriteString(v)
		default:
			return "", fmt.Errorf("%w: substitution", ErrUnsupported)
		}
	}
	return sb.String(), nil
}

func expand(p *syntax.ParamExp, lookup Lookup) (string, error) {
	if p.Param == nil || p.Exp != nil || p.Repl != nil || p.Slice != nil || p.Length || p.Excl || p.Index != nil {
		return "", fmt.Errorf("%w: parameter expansion", ErrUnsupported)
	}
	if lookup == nil {
		return "", nil
	}
	v, _ := lookup(p.Param.Value)
	return v, nil
}

// unescape drops the backslash of escaped characters in unquoted text.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			if s[i] == '\n' {
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// unescapeQuoted handles the escapes allowed inside double quotes.
func unescapeQuoted(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && strings.IndexByte("$`\"\\\n", s[i+1]) >= 0 {
			i++
			if s[i] == '\n' {
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
