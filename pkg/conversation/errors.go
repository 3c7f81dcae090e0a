package conversation

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conversation package. The first four are the
// kinds carried by SessionError.
var (
	// ErrDeviceUnavailable indicates the microphone could not be acquired.
	// The remote channel is never opened in that case.
	ErrDeviceUnavailable = errors.New("conversation: device unavailable")

	// ErrChannel indicates the remote channel reported an error or failed
	// to open.
	ErrChannel = errors.New("conversation: channel error")

	// ErrChannelClosedUnexpectedly indicates the channel closed before the
	// partner ended the conversation. The transcript is discarded.
	ErrChannelClosedUnexpectedly = errors.New("conversation: channel closed unexpectedly")

	// ErrReportGenerationFailed indicates no report could be produced.
	ErrReportGenerationFailed = errors.New("conversation: report generation failed")

	// ErrInvalidTransition indicates an operation was not allowed in the
	// current state.
	ErrInvalidTransition = errors.New("conversation: invalid state transition")

	// ErrStopped is returned by Start when Stop or Reset won the race with
	// an in-flight open.
	ErrStopped = errors.New("conversation: stopped")
)

// SessionError is a terminal session failure.
type SessionError struct {
	// Kind is one of ErrDeviceUnavailable, ErrChannel,
	// ErrChannelClosedUnexpectedly or ErrReportGenerationFailed.
	Kind error

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %v", e.Kind, e.Cause)
	}
	return e.Kind.Error()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *SessionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// KindName returns a short snake_case name for the error kind, used on the
// wire and as a metrics label.
func (e *SessionError) KindName() string {
	return KindName(e.Kind)
}

// KindName maps a kind sentinel to its wire name.
func KindName(kind error) string {
	switch {
	case errors.Is(kind, ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(kind, ErrChannel):
		return "channel_error"
	case errors.Is(kind, ErrChannelClosedUnexpectedly):
		return "channel_closed_unexpectedly"
	case errors.Is(kind, ErrReportGenerationFailed):
		return "report_generation_failed"
	default:
		return "internal"
	}
}

func newSessionError(kind, cause error) *SessionError {
	return &SessionError{Kind: kind, Cause: cause}
}

// IsDeviceUnavailable returns true if err means the microphone failed.
func IsDeviceUnavailable(err error) bool {
	return errors.Is(err, ErrDeviceUnavailable)
}

// IsChannelFailure returns true for both channel error kinds.
func IsChannelFailure(err error) bool {
	return errors.Is(err, ErrChannel) || errors.Is(err, ErrChannelClosedUnexpectedly)
}
