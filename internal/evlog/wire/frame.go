package wire

import (
	"encoding/binary"

	"github.com/julianstephens/evlog/internal/evlog/errorutil"
)

// MaxFrameSize bounds an outbound frame body (type byte plus payload).
const MaxFrameSize = MaxRecordSize + 1024

// EncodeFrame builds [u32 LE len(type+payload)][u8 type][payload].
func EncodeFrame(t MsgType, payload []byte) []byte {
	frameLen := uint32(len(payload)) + MsgTypeSize //nolint:gosec
	data := make([]byte, FrameHeaderSize+int(frameLen))
	binary.LittleEndian.PutUint32(data[:FrameHeaderSize], frameLen)
	data[FrameHeaderSize] = byte(t)
	copy(data[FrameHeaderSize+MsgTypeSize:], payload)
	return data
}

// DecodeFrame splits one length-prefixed outbound frame off the front of
// buf. Servers and tests use it; the client only encodes frames.
func DecodeFrame(buf []byte) (t MsgType, payload []byte, n int, err error) {
	c := NewCursor(buf)
	frameLen, err := c.U32("frame_len")
	if err != nil {
		return 0, nil, 0, err
	}
	if frameLen < MsgTypeSize || frameLen > MaxFrameSize {
		return 0, nil, 0, &ParseError{
			Kind:        KindTooLarge,
			Coordinates: errorutil.At(0),
			Field:       "frame_len",
			Want:        MaxFrameSize,
			Have:        int(frameLen),
			Err:         ErrTooLarge,
		}
	}
	body, err := c.Bytes(int(frameLen), "frame_body")
	if err != nil {
		return 0, nil, 0, err
	}
	return MsgType(body[0]), body[MsgTypeSize:], c.Offset(), nil
}

// EncodeEventFrame builds an outbound Event frame.
func EncodeEventFrame(req EventRequest) ([]byte, error) {
	keys := req.ConflictKeys
	if keys == nil {
		keys = []string{}
	}
	data := req.Data
	if data == nil {
		data = []byte{}
	}
	payload, err := EncodeTuple(req.TargetVersion, keys, data)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(MsgEvent, payload), nil
}

// EncodeSubscribeFrame builds an outbound Subscribe frame.
func EncodeSubscribeFrame(req SubscribeRequest) ([]byte, error) {
	payload, err := EncodeTuple(req.Flags, req.From, req.MaxBytes)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(MsgSubscribe, payload), nil
}

// DecodeEventRequest parses the payload of an outbound Event frame.
func DecodeEventRequest(payload []byte) (EventRequest, error) {
	d := newTupleDecoder(payload)
	if err := d.expectLen(3); err != nil {
		return EventRequest{}, err
	}
	target, err := d.uint("target_version")
	if err != nil {
		return EventRequest{}, err
	}
	keys, err := d.strings("conflict_keys")
	if err != nil {
		return EventRequest{}, err
	}
	data, err := d.bytes("data")
	if err != nil {
		return EventRequest{}, err
	}
	return EventRequest{
		TargetVersion: uint32(target), //nolint:gosec
		ConflictKeys:  keys,
		Data:          data,
	}, nil
}

// DecodeSubscribeRequest parses the payload of an outbound Subscribe frame.
func DecodeSubscribeRequest(payload []byte) (SubscribeRequest, error) {
	d := newTupleDecoder(payload)
	if err := d.expectLen(3); err != nil {
		return SubscribeRequest{}, err
	}
	flags, err := d.uint("flags")
	if err != nil {
		return SubscribeRequest{}, err
	}
	from, err := d.uint("from")
	if err != nil {
		return SubscribeRequest{}, err
	}
	maxBytes, err := d.uint("maxbytes")
	if err != nil {
		return SubscribeRequest{}, err
	}
	//nolint:gosec
	return SubscribeRequest{
		Flags:    uint8(flags),
		From:     uint32(from),
		MaxBytes: uint32(maxBytes),
	}, nil
}
