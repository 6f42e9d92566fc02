package client

import (
	"errors"
	"fmt"
)

var (
	// ErrIdentityMismatch stops the client when a reconnect lands on a
	// server announcing a different source than the first connection.
	ErrIdentityMismatch = errors.New("client: server identity mismatch")

	// ErrClientClosed is returned to requests still queued when Close is called,
	// and to requests made afterwards.
	ErrClientClosed = errors.New("client: closed")
)

// ClientError carries the operation and addresses around a client failure.
type ClientError struct {
	Err error

	// Op describes the operation: "open", "attach", "close".
	Op string

	Addr string

	// Want and Have hold the expected and announced sources on identity mismatch.
	Want string
	Have string

	Cause error
}

func (e *ClientError) Error() string {
	msg := e.Err.Error()
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Want != "" || e.Have != "" {
		msg = fmt.Sprintf("%s (want %q, have %q)", msg, e.Want, e.Have)
	}
	if e.Addr != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Addr)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ClientError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}
