package errors

import (
	"fmt"
	"time"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *GroveError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(path string, cause error) *GroveError {
	return Wrap(cause, ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration in %s", path)).
		WithDetail("path", path)
}

// ValidationFailed creates a validation error naming the violated field and constraint.
func ValidationFailed(field, constraint string) *GroveError {
	return New(ErrCodeConfigValidation, fmt.Sprintf("%s must be %s", field, constraint)).
		WithDetail("field", field).
		WithDetail("constraint", constraint)
}

// JobConflict creates the error returned when a reprocessing job is already requested or running.
func JobConflict(marker string) *GroveError {
	return New(ErrCodeJobConflict, "reprocessing already in progress").
		WithDetail("marker", marker)
}

// CorruptState creates an error for a marker file that exists but cannot be parsed.
func CorruptState(path string, cause error) *GroveError {
	return Wrap(cause, ErrCodeCorruptState, fmt.Sprintf("cannot determine job state from %s", path)).
		WithDetail("path", path)
}

// TransientIO creates an error for a single file or directory operation that failed.
func TransientIO(op, path string, cause error) *GroveError {
	return Wrap(cause, ErrCodeTransientIO, fmt.Sprintf("%s %s", op, path)).
		WithDetail("op", op).
		WithDetail("path", path)
}

// TranscodeFailed creates an error for a transcode that exited unsuccessfully.
func TranscodeFailed(input string, elapsed time.Duration, cause error) *GroveError {
	return Wrap(cause, ErrCodeTranscodeFailed, fmt.Sprintf("transcode failed: %s", input)).
		WithDetail("input", input).
		WithDetail("elapsed", elapsed.String())
}

// AlreadyRunning creates an error for a second instance of a process.
func AlreadyRunning(name string, pid int) *GroveError {
	return New(ErrCodeAlreadyRunning, fmt.Sprintf("%s already running with PID %d", name, pid)).
		WithDetail("process", name).
		WithDetail("pid", pid)
}
