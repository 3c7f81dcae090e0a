package realtime

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// Sentinel errors for the realtime package.
var (
	// ErrMissingAPIKey indicates the API key was not provided.
	ErrMissingAPIKey = errors.New("realtime: API key is required")

	// ErrClosed indicates the channel has been closed.
	ErrClosed = errors.New("realtime: channel closed")

	// ErrSetupTimeout indicates setupComplete never arrived.
	ErrSetupTimeout = errors.New("realtime: setup not confirmed")
)

// ConnectionError describes a failure of the Live websocket.
type ConnectionError struct {
	// Reason is a short description, or the server's close reason.
	Reason string

	// Code is the websocket close code, zero when the socket did not close
	// with a close frame.
	Code int

	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("realtime: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("realtime: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(reason string, cause error) *ConnectionError {
	e := &ConnectionError{Reason: reason, Cause: cause}
	var ce *websocket.CloseError
	if errors.As(cause, &ce) {
		e.Code = ce.Code
		if ce.Text != "" {
			e.Reason = ce.Text
		}
	}
	return e
}

// IsNormalClose reports whether err is a clean close initiated by the server.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
