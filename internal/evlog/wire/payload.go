package wire

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeTuple encodes values as a msgpack array. Supported element types are
// unsigned integers, strings, byte slices and string slices; integers always
// use the most compact msgpack form so the output is deterministic.
func EncodeTuple(values ...any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)

	if err := enc.EncodeArrayLen(len(values)); err != nil {
		return nil, &CodecError{Field: "tuple", Index: -1, Err: err}
	}
	for i, v := range values {
		var err error
		switch x := v.(type) {
		case uint8:
			err = enc.EncodeUint(uint64(x))
		case uint16:
			err = enc.EncodeUint(uint64(x))
		case uint32:
			err = enc.EncodeUint(uint64(x))
		case uint64:
			err = enc.EncodeUint(x)
		case uint:
			err = enc.EncodeUint(uint64(x))
		case string:
			err = enc.EncodeString(x)
		case []byte:
			err = enc.EncodeBytes(x)
		case []string:
			err = encodeStrings(enc, x)
		default:
			err = fmt.Errorf("unsupported element type %T", v)
		}
		if err != nil {
			return nil, &CodecError{Field: "tuple", Index: i, Err: err}
		}
	}
	return buf.Bytes(), nil
}

func encodeStrings(enc *msgpack.Encoder, ss []string) error {
	if err := enc.EncodeArrayLen(len(ss)); err != nil {
		return err
	}
	for _, s := range ss {
		if err := enc.EncodeString(s); err != nil {
			return err
		}
	}
	return nil
}

// tupleDecoder reads a msgpack array element by element.
type tupleDecoder struct {
	dec   *msgpack.Decoder
	index int
}

func newTupleDecoder(payload []byte) *tupleDecoder {
	return &tupleDecoder{dec: msgpack.NewDecoder(bytes.NewReader(payload))}
}

func (d *tupleDecoder) fail(field string, err error) error {
	return &CodecError{Field: field, Index: d.index, Err: err}
}

func (d *tupleDecoder) expectLen(want int) error {
	n, err := d.dec.DecodeArrayLen()
	if err != nil {
		return d.fail("tuple", err)
	}
	if n != want {
		return d.fail("tuple", fmt.Errorf("want %d elements, have %d", want, n))
	}
	return nil
}

func (d *tupleDecoder) uint(field string) (uint64, error) {
	v, err := d.dec.DecodeUint64()
	if err != nil {
		return 0, d.fail(field, err)
	}
	d.index++
	return v, nil
}

func (d *tupleDecoder) bytes(field string) ([]byte, error) {
	v, err := d.dec.DecodeBytes()
	if err != nil {
		return nil, d.fail(field, err)
	}
	d.index++
	return v, nil
}

func (d *tupleDecoder) strings(field string) ([]string, error) {
	n, err := d.dec.DecodeArrayLen()
	if err != nil {
		return nil, d.fail(field, err)
	}
	out := make([]string, 0, max(n, 0))
	for i := 0; i < n; i++ {
		s, err := d.dec.DecodeString()
		if err != nil {
			return nil, d.fail(field, err)
		}
		out = append(out, s)
	}
	d.index++
	return out, nil
}
