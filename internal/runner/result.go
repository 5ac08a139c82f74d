package runner

import "time"

// Status classifies how an execution resolved.
type Status string

const (
	// Success means the process exited with code 0.
	Success Status = "success"
	// NonZeroExit means the process ran and exited unsuccessfully.
	NonZeroExit Status = "non_zero_exit"
	// TimedOut means the runner had to terminate the process.
	TimedOut Status = "timed_out"
	// SetupError means a precondition failed and nothing was spawned.
	SetupError Status = "setup_error"
)

// NoExitCode is reported when the process never exited on its own
// (TimedOut) or was never spawned (SetupError).
const NoExitCode = -1

// Request describes one command to run.
type Request struct {
	Command string        // shell command line, must be non-empty
	Dir     string        // working directory; "" means "."
	Timeout time.Duration // 0 falls back to the runner default
}

// Result holds the outcome of a command execution.
type Result struct {
	RunID     string        `json:"run_id"`
	Command   string        `json:"command"`
	Dir       string        `json:"dir"`
	Status    Status        `json:"status"`
	ExitCode  int           `json:"exit_code"` // NoExitCode unless the process exited
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	Truncated bool          `json:"truncated,omitempty"` // a stream exceeded the size cap
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// OK reports whether the command succeeded.
func (r *Result) OK() bool {
	return r.Status == Success
}
