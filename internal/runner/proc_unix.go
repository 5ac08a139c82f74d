//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

const fallbackShell = "/bin/sh"

// hostShell prefers bash and falls back to /bin/sh.
func hostShell() []string {
	if path, err := exec.LookPath("bash"); err == nil {
		return []string{path, "-c"}
	}
	return []string{fallbackShell, "-c"}
}

// setProcessGroup places the child in its own process group so that a
// timeout can terminate everything it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the child's process group, falling
// back to the child alone.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}
