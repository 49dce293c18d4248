// Package codec implements the flat binary encoding shared by the wire
// protocol and segment storage.
//
// Every field is written as a fixed-width little-endian value, or as an
// 8-byte length followed by raw bytes for buffers and strings. The format
// carries no tags: readers must consume fields in exactly the order they were
// written.
package codec

import (
	"encoding/binary"
	"math"

	kverrors "github.com/devrev/framekv/internal/errors"
)

const initialCapacity = 64

// Serializer accumulates encoded fields into a growable buffer.
type Serializer struct {
	buf []byte
}

// NewSerializer creates a serializer with a small preallocated buffer.
func NewSerializer() *Serializer {
	return &Serializer{buf: make([]byte, 0, initialCapacity)}
}

// grow makes room for n more bytes, doubling capacity as needed.
func (s *Serializer) grow(n int) {
	need := len(s.buf) + n
	if need <= cap(s.buf) {
		return
	}
	newCap := cap(s.buf) * 2
	if newCap < initialCapacity {
		newCap = initialCapacity
	}
	for newCap < need {
		newCap *= 2
	}
	grown := make([]byte, len(s.buf), newCap)
	copy(grown, s.buf)
	s.buf = grown
}

func (s *Serializer) PutUint16(v uint16) {
	s.grow(2)
	s.buf = binary.LittleEndian.AppendUint16(s.buf, v)
}

func (s *Serializer) PutUint32(v uint32) {
	s.grow(4)
	s.buf = binary.LittleEndian.AppendUint32(s.buf, v)
}

func (s *Serializer) PutUint64(v uint64) {
	s.grow(8)
	s.buf = binary.LittleEndian.AppendUint64(s.buf, v)
}

func (s *Serializer) PutInt32(v int32) { s.PutUint32(uint32(v)) }

func (s *Serializer) PutInt64(v int64) { s.PutUint64(uint64(v)) }

func (s *Serializer) PutFloat64(v float64) { s.PutUint64(math.Float64bits(v)) }

func (s *Serializer) PutBool(v bool) {
	s.grow(1)
	if v {
		s.buf = append(s.buf, 1)
	} else {
		s.buf = append(s.buf, 0)
	}
}

// PutRaw appends b with no length prefix. The reader must know len(b).
func (s *Serializer) PutRaw(b []byte) {
	s.grow(len(b))
	s.buf = append(s.buf, b...)
}

// PutBytes appends an 8-byte length followed by b.
func (s *Serializer) PutBytes(b []byte) {
	s.PutUint64(uint64(len(b)))
	s.PutRaw(b)
}

// PutString appends an 8-byte length followed by the raw string bytes.
func (s *Serializer) PutString(v string) {
	s.PutUint64(uint64(len(v)))
	s.grow(len(v))
	s.buf = append(s.buf, v...)
}

// Len returns the number of bytes written so far.
func (s *Serializer) Len() int { return len(s.buf) }

// Bytes returns the encoded buffer. The serializer must not be reused after
// the result is handed to another owner.
func (s *Serializer) Bytes() []byte { return s.buf }

// Deserializer reads fields from the front of a buffer.
//
// Reading past the end puts the deserializer in a sticky error state: the
// failing read and all later reads return zero values and Err reports an
// OutOfBounds error. Callers check Err once after decoding a group of fields.
type Deserializer struct {
	buf []byte
	off int
	err error
}

// NewDeserializer wraps buf without copying it.
func NewDeserializer(buf []byte) *Deserializer {
	return &Deserializer{buf: buf}
}

// Err returns the first out-of-bounds error, if any.
func (d *Deserializer) Err() error { return d.err }

// Remaining returns the number of unread bytes.
func (d *Deserializer) Remaining() int { return len(d.buf) - d.off }

// Offset returns the number of bytes consumed.
func (d *Deserializer) Offset() int { return d.off }

func (d *Deserializer) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > d.Remaining() {
		d.err = kverrors.OutOfBounds("deserializer", d.off+n, len(d.buf))
		d.off = len(d.buf)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *Deserializer) GetUint16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *Deserializer) GetUint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *Deserializer) GetUint64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *Deserializer) GetInt32() int32 { return int32(d.GetUint32()) }

func (d *Deserializer) GetInt64() int64 { return int64(d.GetUint64()) }

func (d *Deserializer) GetFloat64() float64 { return math.Float64frombits(d.GetUint64()) }

func (d *Deserializer) GetBool() bool {
	b := d.take(1)
	if b == nil {
		return false
	}
	return b[0] != 0
}

// GetRaw reads exactly n bytes and returns a copy.
func (d *Deserializer) GetRaw(n int) []byte {
	b := d.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// GetBytes reads a length-prefixed buffer and returns a copy.
func (d *Deserializer) GetBytes() []byte {
	n := d.GetUint64()
	if d.err != nil {
		return nil
	}
	if n > uint64(d.Remaining()) {
		d.take(d.Remaining() + 1)
		return nil
	}
	return d.GetRaw(int(n))
}

// GetString reads a length-prefixed string.
func (d *Deserializer) GetString() string {
	n := d.GetUint64()
	if d.err != nil {
		return ""
	}
	if n > uint64(d.Remaining()) {
		d.take(d.Remaining() + 1)
		return ""
	}
	return string(d.take(int(n)))
}
