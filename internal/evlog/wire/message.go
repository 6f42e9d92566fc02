package wire

import (
	"encoding/binary"

	"github.com/julianstephens/evlog/internal/evlog/errorutil"
)

// DecodeMessage decodes one inbound message from the front of buf and
// returns it with the number of bytes it occupied. Inbound messages carry no
// length prefix, so a message that is not fully buffered yields
// ErrShortBuffer and n == 0; buf is never modified.
func DecodeMessage(buf []byte) (msg Message, n int, err error) {
	c := NewCursor(buf)
	rawType, err := c.U8("msg_type")
	if err != nil {
		return nil, 0, err
	}

	switch MsgType(rawType) {
	case MsgHello:
		msg, err = decodeHello(c)
	case MsgEvent:
		var rec Event
		rec, err = DecodeRecord(c)
		msg = &EventMsg{Record: rec}
	case MsgEventConfirm:
		msg, err = decodeEventConfirm(c)
	case MsgSubscribe:
		msg, err = decodeSubscribe(c)
	case MsgSubscribeEnd:
		err = expectProtoVersion(c)
		msg = &SubscribeEnd{}
	default:
		err = &ParseError{
			Kind:        KindUnknownType,
			Coordinates: errorutil.At(0),
			Field:       "msg_type",
			Have:        int(rawType),
			Err:         ErrUnknownType,
		}
	}

	if err != nil {
		if pe, ok := AsParseError(err); ok && pe.Coordinates != nil {
			pe.Coordinates = pe.Coordinates.WithMsgType(rawType)
		}
		return nil, 0, err
	}
	return msg, c.Offset(), nil
}

func expectProtoVersion(c *Cursor) error {
	at := c.Offset()
	v, err := c.U8("proto_version")
	if err != nil {
		return err
	}
	if v != ProtocolVersion {
		return &ParseError{
			Kind:        KindProtoVersion,
			Coordinates: errorutil.At(at),
			Field:       "proto_version",
			Want:        ProtocolVersion,
			Have:        int(v),
			Err:         ErrProtoVersion,
		}
	}
	return nil
}

func decodeHello(c *Cursor) (*Hello, error) {
	if err := expectProtoVersion(c); err != nil {
		return nil, err
	}
	raw, err := c.Bytes(SourceSize, "source")
	if err != nil {
		return nil, err
	}
	h := &Hello{}
	copy(h.Source[:], raw)
	return h, nil
}

func decodeEventConfirm(c *Cursor) (*EventConfirm, error) {
	if err := expectProtoVersion(c); err != nil {
		return nil, err
	}
	v, err := c.U64("version")
	if err != nil {
		return nil, err
	}
	return &EventConfirm{Version: uint32(v)}, nil //nolint:gosec
}

func decodeSubscribe(c *Cursor) (*SubscribeResp, error) {
	if err := expectProtoVersion(c); err != nil {
		return nil, err
	}
	vStart, err := c.U64("v_start")
	if err != nil {
		return nil, err
	}
	size, err := c.U64("size")
	if err != nil {
		return nil, err
	}
	flags, err := c.U8("flags")
	if err != nil {
		return nil, err
	}

	bodyAt := c.Offset()
	if size > MaxSubscribeSize {
		return nil, &ParseError{
			Kind:        KindTooLarge,
			Coordinates: errorutil.At(bodyAt),
			Field:       "size",
			Have:        int(size), //nolint:gosec
			Err:         ErrTooLarge,
		}
	}
	body, err := c.Bytes(int(size), "body") //nolint:gosec
	if err != nil {
		return nil, err
	}

	resp := &SubscribeResp{
		VStart: uint32(vStart), //nolint:gosec
		Size:   size,
		Flags:  flags,
	}
	bc := NewCursor(body)
	for bc.Remaining() > 0 {
		at := bc.Offset()
		rec, err := DecodeRecord(bc)
		if err != nil {
			if IsShort(err) {
				// The body is complete, so a short record is corruption.
				return nil, &ParseError{
					Kind:        KindOverrun,
					Coordinates: errorutil.At(bodyAt + at),
					Field:       "record",
					Want:        int(size), //nolint:gosec
					Have:        at,
					Err:         ErrOverrun,
				}
			}
			if pe, ok := AsParseError(err); ok {
				pe.Coordinates = errorutil.At(bodyAt + at)
			}
			return nil, err
		}
		resp.Records = append(resp.Records, rec)
	}
	return resp, nil
}

// The Append* functions build inbound messages as the server sends them.

// AppendHello appends a Hello message.
func AppendHello(dst []byte, src Source) []byte {
	dst = append(dst, byte(MsgHello), ProtocolVersion)
	return append(dst, src[:]...)
}

// AppendEventMsg appends a live Event message carrying ev.
func AppendEventMsg(dst []byte, ev Event) []byte {
	dst = append(dst, byte(MsgEvent))
	return AppendRecord(dst, ev)
}

// AppendEventConfirm appends an EventConfirm. Pass ConflictVersion to reject.
func AppendEventConfirm(dst []byte, version uint64) []byte {
	dst = append(dst, byte(MsgEventConfirm), ProtocolVersion)
	return binary.LittleEndian.AppendUint64(dst, version)
}

// AppendSubscribeResp appends a Subscribe response carrying records.
func AppendSubscribeResp(dst []byte, vStart uint64, flags uint8, records []Event) []byte {
	var body []byte
	for _, rec := range records {
		body = AppendRecord(body, rec)
	}
	dst = append(dst, byte(MsgSubscribe), ProtocolVersion)
	dst = binary.LittleEndian.AppendUint64(dst, vStart)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(len(body)))
	dst = append(dst, flags)
	return append(dst, body...)
}

// AppendSubscribeEnd appends a SubscribeEnd message.
func AppendSubscribeEnd(dst []byte) []byte {
	return append(dst, byte(MsgSubscribeEnd), ProtocolVersion)
}
