package model

import (
	"errors"
	"fmt"
	"strings"
)

// ExitCode defines standard CLI exit codes. Each stage of the meshing
// round trip has its own code so scripts can tell a missing Docker daemon
// from a failed Netgen run.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitInvalidInput indicates bad flags, configuration or input files.
	ExitInvalidInput ExitCode = 2

	// ExitDockerNotRunning indicates the Docker daemon is not accessible.
	ExitDockerNotRunning ExitCode = 3

	// ExitProvisioningFailed indicates the image could not be pulled or
	// the container could not be created or started.
	ExitProvisioningFailed ExitCode = 4

	// ExitStagingFailed indicates the geometry could not be archived or
	// copied into the container.
	ExitStagingFailed ExitCode = 5

	// ExitToolFailed indicates the meshing tool exited with a non-zero
	// status or could not be executed.
	ExitToolFailed ExitCode = 6

	// ExitRetrievalFailed indicates the output mesh could not be fetched,
	// extracted or decoded.
	ExitRetrievalFailed ExitCode = 7
)

// Sentinel errors classifying the failing stage. They are matched with
// errors.Is against any CLIError carrying the corresponding exit code.
var (
	ErrProvisioning  = errors.New("provisioning failed")
	ErrStaging       = errors.New("staging failed")
	ErrToolExecution = errors.New("tool execution failed")
	ErrRetrieval     = errors.New("retrieval failed")
)

// stageSentinels maps exit codes to the stage sentinel they represent.
// ExitDockerNotRunning is a provisioning failure too.
var stageSentinels = map[ExitCode]error{
	ExitDockerNotRunning:   ErrProvisioning,
	ExitProvisioningFailed: ErrProvisioning,
	ExitStagingFailed:      ErrStaging,
	ExitToolFailed:         ErrToolExecution,
	ExitRetrievalFailed:    ErrRetrieval,
}

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the stage sentinel for e.Code, so that
// errors.Is(err, model.ErrStaging) works on any wrapped CLIError.
func (e *CLIError) Is(target error) bool {
	sentinel, ok := stageSentinels[e.Code]
	return ok && sentinel == target
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}

// ToolExitError reports that the meshing tool ran but exited with a
// non-zero status. Output is the combined stdout/stderr of the run.
type ToolExitError struct {
	ExitCode int
	Output   []byte
}

// Error includes the last line of tool output, which for Netgen is
// usually the reason the run was aborted.
func (e *ToolExitError) Error() string {
	msg := fmt.Sprintf("tool exited with status %d", e.ExitCode)
	if last := lastLine(e.Output); last != "" {
		msg += ": " + last
	}
	return msg
}

func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimRight(string(b), "\r\n "), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
