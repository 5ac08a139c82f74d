package transcript

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/deixis/opsdeck/internal/runner"
)

// Render writes the terminal view of the log: the welcome banner
// followed by every retained entry.
func (l *Log) Render(w io.Writer) error {
	var b strings.Builder
	if l.welcome != "" {
		b.WriteString(l.welcome)
		b.WriteString("\n")
	}
	for _, e := range l.Entries() {
		b.WriteString("\n")
		writeEntry(&b, e)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// String returns the rendered log.
func (l *Log) String() string {
	var b strings.Builder
	_ = l.Render(&b)
	return b.String()
}

// FormatEntry returns the terminal view of a single entry.
func FormatEntry(e Entry) string {
	var b strings.Builder
	writeEntry(&b, e)
	return b.String()
}

func writeEntry(b *strings.Builder, e Entry) {
	fmt.Fprintf(b, "$ %s\n", e.Command)
	if e.Status == runner.SetupError {
		fmt.Fprintf(b, "ERROR: %s\n", strings.TrimRight(e.Stderr, "\n"))
		return
	}

	writeBlock(b, "", e.Stdout)
	writeBlock(b, "stderr: ", e.Stderr)
	if e.Truncated {
		b.WriteString("[output truncated]\n")
	}

	switch e.Status {
	case runner.NonZeroExit:
		fmt.Fprintf(b, "ERROR: Command failed with exit code %d\n", e.ExitCode)
	case runner.TimedOut:
		fmt.Fprintf(b, "ERROR: Command timed out after %s\n", e.Duration.Round(time.Millisecond))
	}
}

func writeBlock(b *strings.Builder, prefix, text string) {
	if text == "" {
		return
	}
	b.WriteString(prefix)
	b.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteString("\n")
	}
}
