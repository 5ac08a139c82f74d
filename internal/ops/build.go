package ops

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/deixis/opsdeck/internal/runner"
	"mvdan.cc/sh/v3/syntax"
)

// Descriptor names an operation and its arguments, e.g.
// {Operation: "docker.pull", Args: {"image": "nginx:latest"}}.
type Descriptor struct {
	Operation string            `json:"operation"`
	Args      map[string]string `json:"args,omitempty"`
	Dir       string            `json:"dir,omitempty"`     // overrides the operation's directory
	Timeout   time.Duration     `json:"timeout,omitempty"` // overrides the operation's timeout
	Source    string            `json:"-"`                 // surface that issued the request
}

// Build translates d into a runner request. Every rendered argv token is
// shell-quoted, so argument values are never interpreted by the shell.
// Dir is returned as given; the Engine resolves it against the workspace.
func (c *Catalog) Build(d Descriptor) (runner.Request, error) {
	s, ok := c.Lookup(d.Operation)
	if !ok {
		return runner.Request{}, fmt.Errorf("%w: %q", ErrUnknownOperation, d.Operation)
	}

	values, err := s.resolveArgs(d.Args)
	if err != nil {
		return runner.Request{}, err
	}
	line, err := s.commandLine(values)
	if err != nil {
		return runner.Request{}, err
	}

	dir := d.Dir
	if dir == "" {
		dir = s.Dir
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = s.Timeout
	}
	return runner.Request{Command: line, Dir: dir, Timeout: timeout}, nil
}

// resolveArgs applies defaults and validates args against the declared
// parameters.
func (s *Spec) resolveArgs(args map[string]string) (map[string]string, error) {
	for name := range args {
		if _, ok := s.param(name); !ok {
			return nil, fmt.Errorf("%w: %s does not take %q", ErrInvalidArg, s.Name, name)
		}
	}

	values := make(map[string]string, len(s.Params))
	for _, p := range s.Params {
		v := strings.TrimSpace(args[p.Name])
		if v == "" {
			v = p.Default
		}
		if v == "" {
			if p.Required {
				return nil, fmt.Errorf("%w: %s requires %q", ErrMissingArg, s.Name, p.Name)
			}
			values[p.Name] = ""
			continue
		}
		if re, ok := s.patterns[p.Name]; ok && !re.MatchString(v) {
			return nil, fmt.Errorf("%w: %s=%q does not match %s", ErrInvalidArg, p.Name, v, p.Pattern)
		}
		values[p.Name] = v
	}
	return values, nil
}

// commandLine renders and quotes the argv tokens. Tokens that render
// empty are dropped.
func (s *Spec) commandLine(values map[string]string) (string, error) {
	parts := make([]string, 0, len(s.Argv))
	for i, tok := range s.Argv {
		rendered, err := render(tok, values)
		if err != nil {
			return "", fmt.Errorf("operation %s: argv[%d]: %w", s.Name, i, err)
		}
		if rendered == "" {
			continue
		}
		quoted, err := syntax.Quote(rendered, syntax.LangBash)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrInvalidArg, s.Name, err)
		}
		parts = append(parts, quoted)
	}
	return strings.Join(parts, " "), nil
}

// render expands one argv token. The arg function fails on parameters
// the operation does not declare.
func render(tok string, values map[string]string) (string, error) {
	tmpl, err := template.New("argv").Funcs(template.FuncMap{
		"arg": func(name string) (string, error) {
			v, ok := values[name]
			if !ok {
				return "", fmt.Errorf("undeclared parameter %q", name)
			}
			return v, nil
		},
	}).Option("missingkey=error").Parse(tok)
	if err != nil {
		return "", fmt.Errorf("template parse: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return "", fmt.Errorf("template render: %w", err)
	}
	return buf.String(), nil
}
