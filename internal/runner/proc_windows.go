//go:build windows

package runner

import (
	"os"
	"os/exec"
)

func hostShell() []string {
	comspec := os.Getenv("COMSPEC")
	if comspec == "" {
		comspec = "cmd.exe"
	}
	return []string{comspec, "/c"}
}

func setProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup kills the child only; grandchildren are not tracked
// on Windows.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
