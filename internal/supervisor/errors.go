package supervisor

import (
	"errors"
	"fmt"
)

// ErrNotRunning is returned when a console command is sent while the
// server is not accepting input
var ErrNotRunning = errors.New("server is not running")

// ErrNotInstalled is returned when a start is requested before any
// installation exists
var ErrNotInstalled = errors.New("server is not installed")

// ErrEULANotAccepted is returned when a start is requested before the
// license agreement has been accepted
var ErrEULANotAccepted = errors.New("eula has not been accepted")

// ProcessSpawnError wraps a failure to launch the server process
type ProcessSpawnError struct {
	Command string
	Err     error
}

func (e *ProcessSpawnError) Error() string {
	return fmt.Sprintf("failed to spawn server process %q: %v", e.Command, e.Err)
}

func (e *ProcessSpawnError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that an operation did not finish within its
// deadline. Stage identifies which phase timed out ("startup" or "stop").
type TimeoutError struct {
	Stage   string
	Seconds int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not complete within %ds", e.Stage, e.Seconds)
}

// UnexpectedExitError reports that the server process terminated without a
// stop having been requested
type UnexpectedExitError struct {
	ExitCode int
	Signal   string
}

func (e *UnexpectedExitError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("server exited unexpectedly (signal %s)", e.Signal)
	}
	return fmt.Sprintf("server exited unexpectedly (exit code %d)", e.ExitCode)
}
