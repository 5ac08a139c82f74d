package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/deixis/opsdeck/internal/ops"
	"github.com/deixis/opsdeck/internal/runner"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const source = "mcp"

type runParams struct {
	Operation      string            `json:"operation" jsonschema:"operation name from ops_list, e.g. docker.pull"`
	Args           map[string]string `json:"args,omitempty" jsonschema:"operation arguments keyed by parameter name, e.g. image for docker.pull"`
	Dir            string            `json:"dir,omitempty" jsonschema:"working directory relative to the workspace; defaults to the workspace root"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" jsonschema:"override the operation timeout, in seconds"`
	DryRun         bool              `json:"dry_run,omitempty" jsonschema:"only show the command line that would run"`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	if params.Operation == "" {
		return errorResult("operation is required")
	}
	d := ops.Descriptor{
		Operation: params.Operation,
		Args:      params.Args,
		Dir:       params.Dir,
		Timeout:   time.Duration(params.TimeoutSeconds) * time.Second,
		Source:    source,
	}

	if params.DryRun {
		preview, err := h.engine.Preview(d)
		if err != nil {
			return errorResult(fmt.Sprintf("ops_run failed: %v", err))
		}
		return textResult(fmt.Sprintf("Would run in %s:\n$ %s", preview.Dir, preview.Command))
	}

	if !h.allow() {
		return errorResult("rate limit exceeded; retry later")
	}
	entry, err := h.engine.Execute(ctx, d)
	if err != nil {
		return errorResult(fmt.Sprintf("ops_run failed: %v", err))
	}
	return textResult(entryText(entry))
}

type execParams struct {
	Command        string `json:"command" jsonschema:"shell command line to run"`
	Dir            string `json:"dir,omitempty" jsonschema:"working directory; relative paths resolve from the workspace"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"timeout in seconds; defaults to the configured timeout"`
}

func (h *handler) execHandler(ctx context.Context, req *mcp.CallToolRequest, params execParams) (*mcp.CallToolResult, any, error) {
	if h.engine.Config == nil || !h.engine.Config.AllowRaw {
		return errorResult("ops_exec is disabled; set allow_raw: true in .opsdeck to enable it")
	}
	if params.Command == "" {
		return errorResult("command is required")
	}
	if !h.allow() {
		return errorResult("rate limit exceeded; retry later")
	}
	entry := h.engine.ExecRaw(ctx, runner.Request{
		Command: params.Command,
		Dir:     params.Dir,
		Timeout: time.Duration(params.TimeoutSeconds) * time.Second,
	}, source)
	return textResult(entryText(entry))
}

type phraseParams struct {
	Text string `json:"text" jsonschema:"natural-language request, e.g. show docker containers"`
}

func (h *handler) phraseHandler(ctx context.Context, req *mcp.CallToolRequest, params phraseParams) (*mcp.CallToolResult, any, error) {
	if params.Text == "" {
		return errorResult("text is required")
	}
	if !h.allow() {
		return errorResult("rate limit exceeded; retry later")
	}
	entry, err := h.engine.Match(ctx, params.Text, source)
	if err != nil {
		return errorResult(fmt.Sprintf("ops_phrase failed: %v", err))
	}
	return textResult(entryText(entry))
}
