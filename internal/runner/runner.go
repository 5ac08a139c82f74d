// Package runner executes shell command lines as supervised child
// processes with timeouts and output size limits. Every call returns a
// Result; failures are classified in Result.Status, never returned as
// errors.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"mvdan.cc/sh/v3/syntax"
)

// waitDelay bounds how long Wait keeps draining output pipes after the
// child has exited or been killed.
const waitDelay = 2 * time.Second

// Runner executes command lines through the host shell.
// A Runner must not be copied after first use.
type Runner struct {
	Timeout   time.Duration // default per-request timeout; 0 means unbounded
	MaxOutput int           // per-stream cap in bytes; 0 means unlimited

	// Shell is the interpreter prefix, e.g. ["bash", "-c"]. The command
	// line is appended as the final argument. Nil selects the host shell.
	Shell []string

	spawned atomic.Int64
}

// Spawned returns the number of child processes started by r.
func (r *Runner) Spawned() int64 {
	return r.spawned.Load()
}

// Run executes req and blocks until the process exits or is terminated.
// A cancelled or expired ctx terminates the process like a timeout.
func (r *Runner) Run(ctx context.Context, req Request) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	res := Result{
		RunID:     uuid.New().String(),
		Command:   req.Command,
		Dir:       req.Dir,
		ExitCode:  NoExitCode,
		StartedAt: start,
	}
	if res.Dir == "" {
		res.Dir = "."
	}

	if strings.TrimSpace(req.Command) == "" {
		return setupError(res, "empty command")
	}
	if err := checkDir(res.Dir); err != nil {
		return setupError(res, err.Error())
	}

	shell := r.Shell
	if len(shell) == 0 {
		shell = hostShell()
	}
	if lang, ok := shellLang(shell[0]); ok {
		if err := checkSyntax(req.Command, lang); err != nil {
			return setupError(res, fmt.Sprintf("parsing command: %v", err))
		}
	}

	cmd := exec.Command(shell[0], append(shell[1:], req.Command)...)
	cmd.Dir = res.Dir
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	outW := &limitWriter{buf: &stdout, limit: r.MaxOutput}
	errW := &limitWriter{buf: &stderr, limit: r.MaxOutput}
	cmd.Stdout = outW
	cmd.Stderr = errW

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.Timeout
	}
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	if err := cmd.Start(); err != nil {
		return setupError(res, fmt.Sprintf("starting %s: %v", shell[0], err))
	}
	r.spawned.Add(1)
	res.StartedAt = time.Now()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	terminated := false
	select {
	case waitErr = <-done:
	case <-expired:
		terminated = true
	case <-ctx.Done():
		terminated = true
	}
	if terminated {
		killProcessGroup(cmd)
		<-done
	}

	res.Duration = time.Since(res.StartedAt)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Truncated = outW.dropped || errW.dropped

	if terminated {
		res.Status = TimedOut
		return res
	}

	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			// Wait failed without an exit status; report what we have.
			res.Status = NonZeroExit
			if res.Stderr == "" {
				res.Stderr = waitErr.Error()
			}
			return res
		}
	}

	res.ExitCode = cmd.ProcessState.ExitCode()
	if res.ExitCode == 0 {
		res.Status = Success
	} else {
		res.Status = NonZeroExit
	}
	return res
}

func setupError(res Result, msg string) Result {
	res.Status = SetupError
	res.Stderr = msg
	res.Duration = time.Since(res.StartedAt)
	return res
}

// checkDir verifies dir exists and is a directory.
func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("working directory %q does not exist", dir)
		}
		return fmt.Errorf("working directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("working directory %q is not a directory", dir)
	}
	return nil
}

// checkSyntax rejects command lines the shell could not parse.
func checkSyntax(command string, lang syntax.LangVariant) error {
	_, err := syntax.NewParser(syntax.Variant(lang)).Parse(strings.NewReader(command), "")
	return err
}

// shellLang returns the grammar of the shell binary bin. It reports
// false for shells the parser does not model.
func shellLang(bin string) (syntax.LangVariant, bool) {
	if runtime.GOOS == "windows" {
		return 0, false
	}
	switch filepath.Base(bin) {
	case "bash", "zsh":
		return syntax.LangBash, true
	case "sh", "dash":
		return syntax.LangPOSIX, true
	case "ksh", "mksh":
		return syntax.LangMirBSDKorn, true
	}
	return 0, false
}

// limitWriter writes up to limit bytes to buf, then silently discards the rest.
type limitWriter struct {
	buf     *bytes.Buffer
	limit   int
	dropped bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if w.limit <= 0 {
		return w.buf.Write(p)
	}
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		if len(p) > 0 {
			w.dropped = true
		}
		return len(p), nil // discard
	}
	if len(p) > remaining {
		// Write only what fits, but report all bytes as consumed
		// to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		w.dropped = true
		return len(p), nil
	}
	return w.buf.Write(p)
}
