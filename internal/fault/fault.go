// Package fault carries the fatal error type shared by the setup steps and
// the ring. Every fatal condition in a run is reported as a single line
// naming the step that failed and the underlying error text.
package fault

import (
	"errors"
	"syscall"
)

// OpError records the step that failed and why
type OpError struct {
	Op  string // name of the failing step (open, fallocate, ring_submit, ...)
	Err error  // underlying error, usually a syscall.Errno
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return e.Op + ": unknown error"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// Cause lets github.com/pkg/errors walk through an OpError.
func (e *OpError) Cause() error { return e.Err }

// Wrap returns nil when err is nil, otherwise an *OpError for op.
// Path errors from the os package are reduced to their errno so the
// message names the step once.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return &OpError{Op: op, Err: errno}
	}
	return &OpError{Op: op, Err: err}
}

// Errno wraps a negative kernel result code.
func Errno(op string, res int32) error {
	return &OpError{Op: op, Err: syscall.Errno(-res)}
}

// Op returns the failing step name carried by err, or "" if there is none.
func Op(err error) string {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Op
	}
	return ""
}
