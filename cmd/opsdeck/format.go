package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/deixis/opsdeck/internal/ops"
	"github.com/deixis/opsdeck/internal/runner"
	"github.com/deixis/opsdeck/internal/transcript"
	"github.com/fatih/color"
)

var (
	success   = color.New(color.FgGreen).SprintFunc()
	failure   = color.New(color.FgRed).SprintFunc()
	highlight = color.New(color.FgCyan).SprintFunc()
	warning   = color.New(color.FgYellow).SprintFunc()
)

// formatEntry renders one result for the terminal: the command, its
// output, and a closing status line.
func formatEntry(e transcript.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", highlight("$ "+e.Command))

	if e.Status == runner.SetupError {
		fmt.Fprintf(&b, "%s\n", failure("ERROR: "+strings.TrimRight(e.Stderr, "\n")))
		return b.String()
	}

	if e.Stdout != "" {
		b.WriteString(e.Stdout)
		if !strings.HasSuffix(e.Stdout, "\n") {
			b.WriteString("\n")
		}
	}
	if e.Stderr != "" {
		for _, line := range strings.Split(strings.TrimRight(e.Stderr, "\n"), "\n") {
			fmt.Fprintf(&b, "%s\n", warning(line))
		}
	}
	if e.Truncated {
		fmt.Fprintf(&b, "%s\n", warning("[output truncated]"))
	}

	took := e.Duration.Round(time.Millisecond)
	switch e.Status {
	case runner.Success:
		fmt.Fprintf(&b, "%s\n", success(fmt.Sprintf("ok (%s)", took)))
	case runner.NonZeroExit:
		fmt.Fprintf(&b, "%s\n", failure(fmt.Sprintf("ERROR: Command failed with exit code %d (%s)", e.ExitCode, took)))
	case runner.TimedOut:
		fmt.Fprintf(&b, "%s\n", failure(fmt.Sprintf("ERROR: Command timed out after %s", took)))
	}
	return b.String()
}

// formatCatalog lists operations grouped by tool.
func formatCatalog(specs []*ops.Spec) string {
	var b strings.Builder
	group := ""
	for _, s := range specs {
		if g := s.Group(); g != group {
			if group != "" {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%s\n", highlight(g))
			group = g
		}
		name := s.Name
		var params []string
		for _, p := range s.Params {
			switch {
			case p.Required:
				params = append(params, p.Name+"=")
			default:
				params = append(params, "["+p.Name+"=]")
			}
		}
		if len(params) > 0 {
			name += " " + strings.Join(params, " ")
		}
		fmt.Fprintf(&b, "  %-40s %s", name, s.Description)
		if s.Mutating {
			fmt.Fprintf(&b, " %s", warning("(mutating)"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// formatTools reports tool availability, one line per tool.
func formatTools(tools []ops.ToolStatus) string {
	var b strings.Builder
	for _, t := range tools {
		if t.Available {
			fmt.Fprintf(&b, "  %-20s %s %s\n", t.Name, success("ok"), t.Path)
			continue
		}
		fmt.Fprintf(&b, "  %-20s %s", t.Name, failure("missing"))
		if t.Install != "" {
			fmt.Fprintf(&b, " install: %s", t.Install)
		}
		b.WriteString("\n")
	}
	return b.String()
}
