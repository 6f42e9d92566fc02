package conn

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionConflict is returned to a send whose target version or
	// conflict keys no longer match the server state. It is never retried.
	ErrVersionConflict = errors.New("conn: version conflict")

	// ErrClosedBeforeConfirm is returned to a send that was still waiting for
	// its confirmation when the connection dropped.
	ErrClosedBeforeConfirm = errors.New("conn: closed before confirmation")

	// ErrConnect covers dial and handshake failures.
	ErrConnect = errors.New("conn: connect failed")

	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("conn: closed")

	// ErrUnexpectedMessage is a protocol violation the codec cannot see: a
	// well-formed message with no matching request.
	ErrUnexpectedMessage = errors.New("conn: unexpected message")
)

// ConnError wraps connection failures with a stable sentinel for errors.Is,
// while preserving Cause for inspection/logging.
type ConnError struct {
	Err error

	// Op describes the operation: "dial", "handshake", "read", "write", "dispatch".
	Op string

	// Addr is the server address.
	Addr string

	Cause error
}

func (e *ConnError) Error() string {
	msg := e.Err.Error()
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Addr != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Addr)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ConnError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func wrapConnErr(op string, sentinel error, addr string, cause error) error {
	return &ConnError{
		Err:   sentinel,
		Op:    op,
		Addr:  addr,
		Cause: cause,
	}
}
