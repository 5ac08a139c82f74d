// Package mcp provides the opsdeck MCP server, registering the
// operation tools and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/deixis/opsdeck"
	"github.com/deixis/opsdeck/internal/config"
	"github.com/deixis/opsdeck/internal/ops"
	"github.com/deixis/opsdeck/internal/runner"
	"github.com/deixis/opsdeck/internal/transcript"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/time/rate"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	engine  *ops.Engine
	limiter *rate.Limiter // nil means unlimited
}

// NewServer creates an MCP server with all opsdeck tools registered.
func NewServer(engine *ops.Engine, opts ...ServerOption) *mcp.Server {
	var so serverOptions
	for _, o := range opts {
		o(&so)
	}
	h := &handler{engine: engine, limiter: so.limiter}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	}
	if so.followRoots {
		mcpOpts.InitializedHandler = func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateWorkspaceFromRoots(ctx, req.Session)
		}
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "opsdeck", Version: opsdeck.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "ops_list",
		Description: "List the named operations (docker, kubectl, terraform, ansible, jenkins, shell) with their parameters.",
	}, h.listHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "ops_run",
		Description: `Run a named operation, e.g. operation="docker.pull" args={"image":"nginx:latest"}.

Arguments are validated and shell-quoted; they are never interpreted by the shell.
The result reports status (success, non_zero_exit, timed_out, setup_error), exit code,
stdout and stderr. A non-zero exit is a normal result, not a tool error.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "ops_exec",
		Description: `Run a free-form shell command line (pipes, && and redirection allowed).

Only available when the workspace configuration sets allow_raw: true.`,
	}, h.execHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "ops_phrase",
		Description: `Match a natural-language phrase (e.g. "show docker containers") to an operation and run it with default arguments.`,
	}, h.phraseHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "ops_transcript",
		Description: "Show the terminal transcript of recent commands and their output.",
	}, h.transcriptHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "ops_inspect",
		Description: "Show the full record of one run (command, directory, status, exit code, duration, stdout, stderr) by run_id.",
	}, h.inspectHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "ops_tools",
		Description: "Report which external tools (docker, kubectl, terraform, ansible) are installed.",
	}, h.toolsHandler)

	return s
}

// ServerOption configures the opsdeck MCP server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	limiter     *rate.Limiter
	followRoots bool
}

// WithRateLimit limits run-type tool calls (ops_run, ops_exec, ops_phrase).
func WithRateLimit(l *rate.Limiter) ServerOption {
	return func(o *serverOptions) {
		o.limiter = l
	}
}

// WithRoots makes the server adopt the client's first file root as the
// workspace when a session initialises.
func WithRoots() ServerOption {
	return func(o *serverOptions) {
		o.followRoots = true
	}
}

// updateWorkspaceFromRoots queries the client for MCP roots and updates
// the engine's workspace and config if a valid root is returned.
// This is called during session initialization, before any tool calls.
func (h *handler) updateWorkspaceFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil || len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}

	loaded, err := config.Load(u.Path)
	if err != nil {
		return
	}
	catalog, err := ops.FromConfig(loaded.Config)
	if err != nil {
		return
	}

	if r, ok := h.engine.Runner.(*runner.Runner); ok {
		r.Timeout = loaded.Config.Timeout()
		r.MaxOutput = loaded.Config.MaxOutputBytes()
	}
	h.engine.Config = loaded.Config
	h.engine.Catalog = catalog
	h.engine.Workspace = loaded.Root
}

// allow reports whether a run-type call may proceed.
func (h *handler) allow() bool {
	return h.limiter == nil || h.limiter.Allow()
}

// entryText formats one transcript entry for a tool result.
func entryText(e transcript.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s\n", e.Status)
	fmt.Fprintf(&b, "Run: %s\n", e.RunID)
	if e.Operation != "" {
		fmt.Fprintf(&b, "Operation: %s\n", e.Operation)
	}
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, "Exit code: %d\n", e.ExitCode)
	}
	fmt.Fprintf(&b, "Duration: %s\n", e.Duration.Round(time.Millisecond))
	fmt.Fprintln(&b)
	b.WriteString(transcript.FormatEntry(e))
	return b.String()
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
