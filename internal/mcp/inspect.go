package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/deixis/opsdeck/internal/transcript"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type transcriptParams struct {
	Last int `json:"last,omitempty" jsonschema:"only show the most recent N commands; 0 shows everything retained"`
}

func (h *handler) transcriptHandler(ctx context.Context, req *mcp.CallToolRequest, params transcriptParams) (*mcp.CallToolResult, any, error) {
	log := h.engine.Log
	if log == nil || log.Len() == 0 {
		return textResult("No commands have been run yet.")
	}
	if params.Last <= 0 {
		return textResult(log.String())
	}

	var b strings.Builder
	entries := log.Last(params.Last)
	fmt.Fprintf(&b, "Last %d of %d commands:\n\n", len(entries), log.Len())
	for i, e := range entries {
		if i > 0 {
			fmt.Fprintln(&b)
		}
		fmt.Fprintf(&b, "[%d] %s\n", e.Seq, e.RunID)
		b.WriteString(transcript.FormatEntry(e))
	}
	return textResult(b.String())
}

type inspectParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID from an ops_run, ops_exec or ops_phrase result"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}
	if h.engine.Log == nil {
		return errorResult(fmt.Sprintf("Run %s not found.", params.RunID))
	}
	e, ok := h.engine.Log.Get(params.RunID)
	if !ok {
		return errorResult(fmt.Sprintf("Run %s not found; it may have been dropped from the transcript.", params.RunID))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s\n", e.RunID)
	if e.Operation != "" {
		fmt.Fprintf(&b, "Operation: %s\n", e.Operation)
	}
	fmt.Fprintf(&b, "Source: %s\n", e.Source)
	fmt.Fprintf(&b, "Command: %s\n", e.Command)
	fmt.Fprintf(&b, "Dir: %s\n", e.Dir)
	fmt.Fprintf(&b, "Status: %s\n", e.Status)
	fmt.Fprintf(&b, "Exit code: %d\n", e.ExitCode)
	fmt.Fprintf(&b, "Started: %s\n", e.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Duration: %s\n", e.Duration)
	if e.Truncated {
		fmt.Fprintln(&b, "Output was truncated.")
	}
	fmt.Fprintf(&b, "\nstdout:\n%s\n", orNone(e.Stdout))
	fmt.Fprintf(&b, "\nstderr:\n%s\n", orNone(e.Stderr))
	return textResult(b.String())
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return strings.TrimRight(s, "\n")
}
