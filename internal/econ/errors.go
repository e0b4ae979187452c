package econ

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by client operations after Close.
	ErrClosed = errors.New("econ: client closed")

	// ErrAuthFailed indicates the server did not accept the password.
	ErrAuthFailed = errors.New("econ: authentication failed")
)

// HandshakeError describes a failed connection attempt. It is logged by the
// reconnect loop and never returned to callers of Send or Receive.
type HandshakeError struct {
	Addr  string
	Stage string
	Cause error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("econ %s: %s: %v", e.Addr, e.Stage, e.Cause)
}

func (e *HandshakeError) Unwrap() error {
	return e.Cause
}
