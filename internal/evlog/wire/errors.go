package wire

import (
	"errors"
	"fmt"

	"github.com/julianstephens/evlog/internal/evlog/errorutil"
)

var (
	// ErrShortBuffer means more bytes are needed. It is the only non-fatal
	// decode outcome.
	ErrShortBuffer = errors.New("wire: short buffer")

	// ErrProtocol covers every fatal decode failure.
	ErrProtocol = errors.New("wire: protocol violation")

	ErrUnknownType     = errors.New("wire: unknown message type")
	ErrProtoVersion    = errors.New("wire: unsupported protocol version")
	ErrTooLarge        = errors.New("wire: record too large")
	ErrOverrun         = errors.New("wire: record overruns subscribe body")
	ErrChecksum        = errors.New("wire: checksum mismatch")
	ErrPayloadEncoding = errors.New("wire: payload encoding")
)

type ParseErrorKind uint8

const (
	KindShort ParseErrorKind = iota
	KindUnknownType
	KindProtoVersion
	KindTooLarge
	KindOverrun
	KindChecksum
)

func (k ParseErrorKind) String() string {
	switch k {
	case KindShort:
		return "short"
	case KindUnknownType:
		return "unknown_type"
	case KindProtoVersion:
		return "proto_version"
	case KindTooLarge:
		return "too_large"
	case KindOverrun:
		return "overrun"
	case KindChecksum:
		return "checksum"
	default:
		return "unknown"
	}
}

// ParseError describes a failed inbound decode.
type ParseError struct {
	Kind        ParseErrorKind
	Coordinates *errorutil.Coordinates
	// Field is the field being read when the error occurred.
	Field string
	Want  int
	Have  int
	Err   error
}

func (e *ParseError) Error() string {
	cause := "<nil>"
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return fmt.Sprintf("wire parse error kind=%s %s field=%s want=%d have=%d: %s",
		e.Kind.String(), e.Coordinates.FormatCoordinates(), e.Field, e.Want, e.Have, cause)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	switch target {
	case ErrShortBuffer:
		return e.Kind == KindShort
	case ErrProtocol:
		return e.Kind != KindShort
	}
	return false
}

// AsParseError unwraps err into a *ParseError.
func AsParseError(err error) (*ParseError, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsShort reports whether err only signals that more input is needed.
func IsShort(err error) bool {
	return errors.Is(err, ErrShortBuffer)
}

// IsFatal reports whether err is a protocol violation.
func IsFatal(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// CodecError describes a failure encoding or decoding a message payload tuple.
type CodecError struct {
	Field string
	Index int
	Err   error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("wire: payload field=%s index=%d: %v", e.Field, e.Index, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

func (e *CodecError) Is(target error) bool {
	return target == ErrPayloadEncoding
}
