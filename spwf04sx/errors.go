package spwf04sx

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrProtocolViolation is wrapped by every error that means the host and the module no longer
	// agree on the state of the link. It stops the polling loop.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrNotActive is returned when finishing an operation that is not the active one.
	ErrNotActive = errors.New("operation is not the active operation")
	// ErrNotWritten is returned when finishing an operation whose request is still being sent.
	ErrNotWritten = errors.New("operation has not been written")
	// ErrNotEnqueued is returned when reading from an operation that was never enqueued.
	ErrNotEnqueued = errors.New("operation was never enqueued")

	// ErrStopped is observed by every blocked call when the driver is turned off.
	ErrStopped = errors.New("driver turned off")
	// ErrNotRunning is returned when work is submitted while the driver is off.
	ErrNotRunning = errors.New("driver is not running")

	// ErrNotFromPool is returned when releasing an object the pool never produced.
	ErrNotFromPool = errors.New("object was not produced by this pool")
	// ErrAlreadyReleased is returned when releasing an object that is already idle.
	ErrAlreadyReleased = errors.New("object already released")

	// ErrTooManyParameters is returned when an operation is given more than MaxParameters.
	ErrTooManyParameters = errors.New("too many parameters")

	// ErrHTTPInProgress is returned when starting an HTTP request while another is open.
	ErrHTTPInProgress = errors.New("an HTTP request is already in progress")
	// ErrNoHTTPRequest is returned when reading an HTTP response with no request open.
	ErrNoHTTPRequest = errors.New("no HTTP request in progress")
)

// RequestFailedError is returned when the module's reply does not have the expected shape. It
// carries the raw reply text; the link itself is still in sync, so the call may be retried.
type RequestFailedError struct {
	Command  CommandID
	Response string
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("request failed: %s: %s", e.Command, e.Response)
}

func newRequestFailedError(cmd CommandID, response string) error {
	return &RequestFailedError{Command: cmd, Response: response}
}

// IsRequestFailed reports whether err is, or wraps, a RequestFailedError.
func IsRequestFailed(err error) bool {
	var rf *RequestFailedError
	return errors.As(err, &rf)
}

func protocolViolationf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrProtocolViolation, format, args...)
}
