package subprocess

import "time"

// State classifies how a single copy's process terminated.
type State string

const (
	// Completed means the process ran to termination on its own; the
	// exit code may still be nonzero.
	Completed State = "completed"

	// TimedOut means the process exceeded its deadline and was killed
	// along with its descendants.
	TimedOut State = "timeout"

	// LaunchFailed means the process could never be started.
	LaunchFailed State = "launch_failed"
)

// Outcome is the full record of one process execution.
type Outcome struct {
	State    State
	ExitCode int
	Stdout   string
	Stderr   string
	WallTime time.Duration
	Err      error
}

// Succeeded reports whether the process completed with a zero exit
// status.
func (o Outcome) Succeeded() bool {
	return o.State == Completed && o.ExitCode == 0
}
