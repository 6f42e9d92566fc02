package wire

import (
	"encoding/binary"

	"github.com/julianstephens/evlog/internal/evlog/errorutil"
)

// DecodeRecord reads one event record at the cursor. On ErrShortBuffer the
// cursor may have advanced; callers discard it and retry from the original
// position once more bytes arrive. The returned Data is a private copy.
func DecodeRecord(c *Cursor) (Event, error) {
	start := c.Offset()
	if err := c.need(RecordHeaderSize, "record_header"); err != nil {
		return Event{}, err
	}

	size, _ := c.U32("size")
	crc, _ := c.U32("crc32")
	batch, _ := c.U16("batch_size")
	proto, _ := c.U8("proto_version")
	flags, _ := c.U8("flags")

	if proto != ProtocolVersion {
		return Event{}, &ParseError{
			Kind:        KindProtoVersion,
			Coordinates: errorutil.At(start),
			Field:       "proto_version",
			Want:        ProtocolVersion,
			Have:        int(proto),
			Err:         ErrProtoVersion,
		}
	}
	if size > MaxRecordSize {
		return Event{}, &ParseError{
			Kind:        KindTooLarge,
			Coordinates: errorutil.At(start),
			Field:       "size",
			Want:        MaxRecordSize,
			Have:        int(size),
			Err:         ErrTooLarge,
		}
	}

	data, err := c.Bytes(int(size), "data")
	if err != nil {
		return Event{}, err
	}

	return Event{
		CRC32:     crc,
		BatchSize: batch,
		Flags:     flags,
		Data:      append([]byte(nil), data...),
	}, nil
}

// EncodedRecordSize returns the wire size of a record carrying n data bytes.
func EncodedRecordSize(n int) int {
	return RecordHeaderSize + n
}

// AppendRecord appends the wire form of ev to dst. Version is not transmitted.
func AppendRecord(dst []byte, ev Event) []byte {
	var hdr [RecordHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(ev.Data))) //nolint:gosec
	binary.LittleEndian.PutUint32(hdr[4:8], ev.CRC32)
	binary.LittleEndian.PutUint16(hdr[8:10], ev.BatchSize)
	hdr[10] = ProtocolVersion
	hdr[11] = ev.Flags
	dst = append(dst, hdr[:]...)
	return append(dst, ev.Data...)
}
