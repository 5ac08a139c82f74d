// Package ops translates named operations (docker.pull, kubectl.run,
// terraform.apply, ...) into command lines, runs them through the
// command runner and records the results in a transcript. It is
// consumed by the dashboard, the MCP server and the CLI.
package ops

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/deixis/opsdeck/internal/config"
	"github.com/deixis/opsdeck/internal/runner"
	"github.com/deixis/opsdeck/internal/transcript"
)

// CommandRunner executes one command line.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, req runner.Request) runner.Result
}

// Engine holds shared dependencies for all operations.
type Engine struct {
	Config    *config.Config
	Runner    CommandRunner
	Catalog   *Catalog
	Log       *transcript.Log
	Logger    *slog.Logger
	Workspace string // relative working directories resolve from here

	// LookPath resolves tool binaries. Nil uses exec.LookPath.
	LookPath func(name string) (string, error)
}

// Execute builds d, runs it and appends the result to the transcript.
// Errors report descriptors that could not be turned into a command;
// nothing is run or recorded in that case. Execution failures are
// reported in the entry's Status.
func (e *Engine) Execute(ctx context.Context, d Descriptor) (transcript.Entry, error) {
	spec, ok := e.Catalog.Lookup(d.Operation)
	if !ok {
		return transcript.Entry{}, fmt.Errorf("%w: %q", ErrUnknownOperation, d.Operation)
	}
	req, err := e.Catalog.Build(d)
	if err != nil {
		return transcript.Entry{}, err
	}
	dir, err := e.resolveDir(req.Dir)
	if err != nil {
		return transcript.Entry{}, err
	}
	req.Dir = dir

	if spec.Tool != "" && !e.toolAvailable(spec.Tool) {
		return transcript.Entry{}, NewErrToolUnavailable(spec.Tool)
	}

	return e.run(ctx, req, spec.Name, d.Source), nil
}

// Preview returns the command line d would run, without running it.
func (e *Engine) Preview(d Descriptor) (runner.Request, error) {
	req, err := e.Catalog.Build(d)
	if err != nil {
		return runner.Request{}, err
	}
	dir, err := e.resolveDir(req.Dir)
	if err != nil {
		return runner.Request{}, err
	}
	req.Dir = dir
	return req, nil
}

// ExecRaw runs a free-form command line and appends the result. The
// command is interpreted by the shell; callers decide whether the
// issuing surface may do that. A relative Dir resolves from the
// workspace but is not confined to it.
func (e *Engine) ExecRaw(ctx context.Context, req runner.Request, source string) transcript.Entry {
	if req.Dir == "" {
		req.Dir = e.workspace()
	} else if !filepath.IsAbs(req.Dir) {
		req.Dir = filepath.Join(e.workspace(), req.Dir)
	}
	return e.run(ctx, req, "", source)
}

// Match resolves a phrase to an operation and executes it with default
// arguments.
func (e *Engine) Match(ctx context.Context, text, source string) (transcript.Entry, error) {
	spec, ok := e.Catalog.Match(text)
	if !ok {
		return transcript.Entry{}, fmt.Errorf("%w: no operation matches %q", ErrUnknownOperation, strings.TrimSpace(text))
	}
	return e.Execute(ctx, Descriptor{Operation: spec.Name, Source: source})
}

func (e *Engine) run(ctx context.Context, req runner.Request, operation, source string) transcript.Entry {
	if req.Timeout <= 0 && e.Config != nil {
		req.Timeout = e.Config.Timeout()
	}

	res := e.Runner.Run(ctx, req)
	entry := transcript.Entry{Operation: operation, Source: source, Result: res}
	if e.Log != nil {
		entry = e.Log.Append(entry)
	}

	e.logger().Info("command executed",
		"run_id", res.RunID,
		"operation", operation,
		"source", source,
		"command", res.Command,
		"dir", res.Dir,
		"status", string(res.Status),
		"exit_code", res.ExitCode,
		"duration", res.Duration,
	)
	return entry
}

// resolveDir resolves dir relative to the workspace and validates it
// is within the workspace boundary.
func (e *Engine) resolveDir(dir string) (string, error) {
	ws := e.workspace()
	if dir == "" {
		return ws, nil
	}

	var abs string
	if filepath.IsAbs(dir) {
		abs = filepath.Clean(dir)
	} else {
		abs = filepath.Clean(filepath.Join(ws, dir))
	}

	rel, err := filepath.Rel(ws, abs)
	if err != nil {
		return "", fmt.Errorf("%w: resolving dir: %v", ErrInvalidArg, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: dir %q is outside workspace %q", ErrInvalidArg, dir, ws)
	}
	return abs, nil
}

func (e *Engine) workspace() string {
	if e.Workspace == "" {
		return "."
	}
	return e.Workspace
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}
