package errorutil

import (
	"fmt"
	"strings"
)

// Coordinates holds positional information (message type, cursor offset,
// stream version) used in error formatting across the evlog packages.
type Coordinates struct {
	// MsgType is the wire message type being decoded when the error occurred.
	MsgType *uint8

	// Offset is the byte offset within the inbound buffer.
	Offset *int

	// Version is the stream version associated with the error.
	Version *uint32
}

// At is a convenience constructor for offset-only coordinates.
func At(offset int) *Coordinates {
	return &Coordinates{Offset: &offset}
}

// WithMsgType returns a copy of c with the message type set.
func (c *Coordinates) WithMsgType(t uint8) *Coordinates {
	out := Coordinates{}
	if c != nil {
		out = *c
	}
	out.MsgType = &t
	return &out
}

// WithVersion returns a copy of c with the stream version set.
func (c *Coordinates) WithVersion(v uint32) *Coordinates {
	out := Coordinates{}
	if c != nil {
		out = *c
	}
	out.Version = &v
	return &out
}

// FormatCoordinates returns the non-nil coordinates as "msg=X at=Y v=Z".
// Returns an empty string if all coordinates are nil.
func (c *Coordinates) FormatCoordinates() string {
	if c == nil {
		return ""
	}

	var parts []string
	if c.MsgType != nil {
		parts = append(parts, fmt.Sprintf("msg=%d", *c.MsgType))
	}
	if c.Offset != nil {
		parts = append(parts, fmt.Sprintf("at=%d", *c.Offset))
	}
	if c.Version != nil {
		parts = append(parts, fmt.Sprintf("v=%d", *c.Version))
	}
	return strings.Join(parts, " ")
}

// String implements the Stringer interface for Coordinates.
func (c *Coordinates) String() string {
	return c.FormatCoordinates()
}
