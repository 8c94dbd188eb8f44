package driver

import (
	"errors"
	"fmt"
)

// Kind classifies a failed call.
type Kind int

// Error kinds.
const (
	KindCallMethod Kind = 1 << iota
	KindTimeout
	KindConnection
	KindAlertExists
)

// String satisfies fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindCallMethod:
		return "call_method_error"
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection_error"
	case KindAlertExists:
		return "alert_exists"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error types.
var (
	// ErrTimeout is returned when no reply arrived within the call timeout.
	ErrTimeout = errors.New("timeout waiting for reply")

	// ErrConnectionClosed is returned for calls pending or issued after the
	// connection went away.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrAlertExists is returned for Input and Runtime calls while a
	// javascript dialog is open.
	ErrAlertExists = errors.New("javascript dialog is open")

	// ErrInvalidWebsocketMessage is the error returned when an invalid
	// websocket message was received.
	ErrInvalidWebsocketMessage = errors.New("invalid websocket message")
)

// Error is returned by every failed Call.
type Error struct {
	Kind   Kind
	Method string
	// Code and Message are filled for KindCallMethod.
	Code    int64
	Message string
	Err     error
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	if e.Kind == KindCallMethod {
		return fmt.Sprintf("%s: %s (%d)", e.Method, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Method, e.Kind, e.Err)
}

// Unwrap returns the underlying sentinel.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a driver error of any of the kinds in mask.
func IsKind(err error, mask Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind&mask != 0
}
