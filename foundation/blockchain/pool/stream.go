package pool

import (
	"encoding/binary"
	"errors"
)

// ErrMalformedBinary is returned when a binary stream is truncated, carries a
// bad varint, or declares a size larger than the remaining input.
var ErrMalformedBinary = errors.New("malformed binary stream")

// maxSize caps any length prefix read from the wire so a corrupt stream can't
// drive an allocation of arbitrary size.
const maxSize = 1 << 26

// Encoder builds the canonical little-endian byte stream for chain entities.
// Scalars are fixed width; variable-length items carry a varint size prefix.
type Encoder struct {
	buf []byte
}

// NewEncoder constructs an encoder with a reasonable starting capacity.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 512)}
}

// Bytes returns the accumulated stream.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// PutUint8 appends a single byte.
func (e *Encoder) PutUint8(v uint8) {
	e.buf = append(e.buf, v)
}

// PutUint16 appends a little-endian uint16.
func (e *Encoder) PutUint16(v uint16) {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
}

// PutUint32 appends a little-endian uint32.
func (e *Encoder) PutUint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

// PutUint64 appends a little-endian uint64.
func (e *Encoder) PutUint64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

// PutInt32 appends a little-endian int32.
func (e *Encoder) PutInt32(v int32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(v))
}

// PutInt64 appends a little-endian int64.
func (e *Encoder) PutInt64(v int64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(v))
}

// PutSize appends a varint size prefix.
func (e *Encoder) PutSize(n int) {
	e.buf = binary.AppendUvarint(e.buf, uint64(n))
}

// PutBytes appends a size prefix followed by the raw bytes.
func (e *Encoder) PutBytes(b []byte) {
	e.PutSize(len(b))
	e.buf = append(e.buf, b...)
}

// PutString appends a size prefix followed by the string bytes.
func (e *Encoder) PutString(s string) {
	e.PutSize(len(s))
	e.buf = append(e.buf, s...)
}

// PutFixed appends raw bytes with no size prefix. Use for fixed-width fields
// like hashes, public keys and signatures.
func (e *Encoder) PutFixed(b []byte) {
	e.buf = append(e.buf, b...)
}

// =============================================================================

// Decoder consumes a canonical byte stream produced by Encoder. The first
// failure latches; every later Get reports the same ErrMalformedBinary.
type Decoder struct {
	buf []byte
	off int
	err error
}

// NewDecoder constructs a decoder over the given stream.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{buf: data}
}

// Err reports the latched decode failure, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Remaining reports how many bytes have not been consumed yet.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.off
}

func (d *Decoder) fail() {
	if d.err == nil {
		d.err = ErrMalformedBinary
	}
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.buf) {
		d.fail()
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

// GetUint8 consumes a single byte.
func (d *Decoder) GetUint8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// GetUint16 consumes a little-endian uint16.
func (d *Decoder) GetUint16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// GetUint32 consumes a little-endian uint32.
func (d *Decoder) GetUint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// GetUint64 consumes a little-endian uint64.
func (d *Decoder) GetUint64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// GetInt32 consumes a little-endian int32.
func (d *Decoder) GetInt32() int32 {
	return int32(d.GetUint32())
}

// GetInt64 consumes a little-endian int64.
func (d *Decoder) GetInt64() int64 {
	return int64(d.GetUint64())
}

// GetSize consumes a varint size prefix.
func (d *Decoder) GetSize() int {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf[d.off:])
	if n <= 0 || v > maxSize {
		d.fail()
		return 0
	}
	d.off += n
	return int(v)
}

// GetBytes consumes a size prefix and that many raw bytes.
func (d *Decoder) GetBytes() []byte {
	n := d.GetSize()
	if d.err != nil {
		return nil
	}
	b := d.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// GetString consumes a size prefix and that many bytes as a string.
func (d *Decoder) GetString() string {
	n := d.GetSize()
	if d.err != nil {
		return ""
	}
	b := d.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

// GetFixed consumes exactly n raw bytes with no size prefix.
func (d *Decoder) GetFixed(n int) []byte {
	b := d.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
