package model

import (
	"bytes"

	"github.com/devrev/framekv/internal/codec"
)

// Value is an immutable opaque payload. Its buffer is never shared: the
// constructor, Clone and Bytes all copy.
type Value struct {
	data []byte
}

// NewValue copies b into a new Value.
func NewValue(b []byte) Value {
	if len(b) == 0 {
		return Value{}
	}
	return Value{data: append([]byte(nil), b...)}
}

// StringValue is a convenience constructor for textual payloads.
func StringValue(s string) Value {
	if s == "" {
		return Value{}
	}
	return Value{data: []byte(s)}
}

// Len returns the payload length.
func (v Value) Len() int { return len(v.data) }

// Bytes returns a copy of the payload.
func (v Value) Bytes() []byte { return append([]byte(nil), v.data...) }

// String returns the payload as text.
func (v Value) String() string { return string(v.data) }

// Clone returns an independent copy.
func (v Value) Clone() Value { return NewValue(v.data) }

// Equal compares payload bytes.
func (v Value) Equal(o Value) bool { return bytes.Equal(v.data, o.data) }

// Decoder returns a deserializer over the payload. The payload must not be
// modified while decoding, which holds because Value never exposes its buffer.
func (v Value) Decoder() *codec.Deserializer { return codec.NewDeserializer(v.data) }

// Encode writes the value as length:8 + raw bytes.
func (v Value) Encode(s *codec.Serializer) {
	s.PutBytes(v.data)
}

// DecodeValue reads a value written by Encode.
func DecodeValue(d *codec.Deserializer) Value {
	b := d.GetBytes()
	if len(b) == 0 {
		return Value{}
	}
	return Value{data: b}
}

// ValueFrom takes ownership of a serializer's buffer.
func ValueFrom(s *codec.Serializer) Value {
	return Value{data: s.Bytes()}
}
