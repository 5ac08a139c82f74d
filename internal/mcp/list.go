package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/deixis/opsdeck/internal/ops"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type listParams struct {
	Group string `json:"group,omitempty" jsonschema:"only list operations of this group, e.g. docker"`
}

func (h *handler) listHandler(ctx context.Context, req *mcp.CallToolRequest, params listParams) (*mcp.CallToolResult, any, error) {
	var specs []*ops.Spec
	for _, s := range h.engine.Catalog.List() {
		if params.Group != "" && s.Group() != params.Group {
			continue
		}
		specs = append(specs, s)
	}
	if len(specs) == 0 {
		return textResult(fmt.Sprintf("No operations in group %q.", params.Group))
	}
	return textResult(formatSpecs(specs))
}

func formatSpecs(specs []*ops.Spec) string {
	var b strings.Builder
	group := ""
	for _, s := range specs {
		if g := s.Group(); g != group {
			if group != "" {
				fmt.Fprintln(&b)
			}
			fmt.Fprintf(&b, "%s:\n", g)
			group = g
		}
		fmt.Fprintf(&b, "  %s", s.Name)
		if s.Mutating {
			b.WriteString(" (mutating)")
		}
		fmt.Fprintf(&b, " - %s\n", s.Description)
		for _, p := range s.Params {
			fmt.Fprintf(&b, "      %s", p.Name)
			switch {
			case p.Required:
				b.WriteString(" (required)")
			case p.Default != "":
				fmt.Fprintf(&b, " (default %q)", p.Default)
			}
			if p.Description != "" {
				fmt.Fprintf(&b, ": %s", p.Description)
			}
			fmt.Fprintln(&b)
		}
	}
	return b.String()
}

type toolsParams struct{}

func (h *handler) toolsHandler(ctx context.Context, req *mcp.CallToolRequest, params toolsParams) (*mcp.CallToolResult, any, error) {
	var b strings.Builder
	for _, t := range h.engine.Tools() {
		if t.Available {
			fmt.Fprintf(&b, "%s: available (%s)\n", t.Name, t.Path)
			continue
		}
		fmt.Fprintf(&b, "%s: not installed", t.Name)
		if t.Install != "" {
			fmt.Fprintf(&b, " (install: %s)", t.Install)
		}
		fmt.Fprintln(&b)
	}
	if b.Len() == 0 {
		return textResult("No external tools are required by the catalog.")
	}
	return textResult(b.String())
}
