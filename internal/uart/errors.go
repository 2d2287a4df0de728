package uart

import (
	"errors"
	"fmt"
)

var (
	// ErrNotImplemented is reported by a driver that cannot honour a request on
	// the current platform or backend.
	ErrNotImplemented = errors.New("feature not implemented by driver")

	// ErrNoDevice is returned when a device index does not resolve to a port.
	ErrNoDevice = errors.New("no such device")

	// ErrClosed is returned by every operation on a handle after Stop or Close.
	ErrClosed = errors.New("uart closed")
)

// NoCode marks an Error that carries no driver error code.
const NoCode = 0

// Error is the single failure type raised by the binding shim. It carries the
// operation name, a human readable message and, for reads and writes, the
// driver error code.
type Error struct {
	Op   string
	Msg  string
	Code int
	Err  error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("uart %s: %s", e.Op, e.Msg)
	if e.Code != NoCode {
		s += fmt.Sprintf(" (err %d)", e.Code)
	}
	if e.Err != nil && e.Err.Error() != e.Msg {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// DriverError is a backend failure carrying the backend's numeric status.
// Status values are negative so they read like the byte counts a failed
// read or write would have returned.
type DriverError struct {
	Status int
	Err    error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%v (status %d)", e.Err, e.Status)
}

func (e *DriverError) Unwrap() error { return e.Err }

func newError(op, msg string, err error) *Error {
	e := &Error{Op: op, Msg: msg, Err: err}
	var de *DriverError
	if errors.As(err, &de) {
		e.Code = de.Status
	}
	return e
}
