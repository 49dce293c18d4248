package column

import (
	"fmt"

	"github.com/devrev/framekv/internal/codec"
	kverrors "github.com/devrev/framekv/internal/errors"
)

// Descriptor is everything needed to reattach to a column's segments from
// any node.
type Descriptor struct {
	Kind     Kind
	ID       string
	Home     int
	Capacity int
	Size     int
}

func (c *Column[T]) Descriptor() Descriptor {
	return Descriptor{
		Kind:     c.codec.kind,
		ID:       c.id,
		Home:     c.storage.HomeNode,
		Capacity: c.capacity,
		Size:     c.size,
	}
}

// Encode writes kind:1, id, home:8, capacity:8, size:8.
func (d Descriptor) Encode(s *codec.Serializer) {
	s.PutRaw([]byte{byte(d.Kind)})
	s.PutString(d.ID)
	s.PutInt64(int64(d.Home))
	s.PutInt64(int64(d.Capacity))
	s.PutInt64(int64(d.Size))
}

// DecodeDescriptor reads a descriptor written by Encode. Errors surface
// through the deserializer.
func DecodeDescriptor(d *codec.Deserializer) Descriptor {
	var kind Kind
	if b := d.GetRaw(1); len(b) == 1 {
		kind = Kind(b[0])
	}
	return Descriptor{
		Kind:     kind,
		ID:       d.GetString(),
		Home:     int(d.GetInt64()),
		Capacity: int(d.GetInt64()),
		Size:     int(d.GetInt64()),
	}
}

// Open reattaches to the column described by desc. The backend, id
// generator and metrics come from st; home and capacity come from desc.
func Open(st Storage, desc Descriptor) (Any, error) {
	if desc.Capacity <= 0 || desc.Size < 0 || len(desc.ID) != IDLength {
		return nil, kverrors.InvalidArgument(
			fmt.Sprintf("invalid column descriptor %+v", desc), nil)
	}
	switch desc.Kind {
	case KindInt:
		return open(st, desc, intCodec), nil
	case KindDouble:
		return open(st, desc, doubleCodec), nil
	case KindBool:
		return open(st, desc, boolCodec), nil
	case KindString:
		return open(st, desc, stringCodec), nil
	default:
		return nil, kverrors.InvalidArgument(fmt.Sprintf("unknown column type %q", byte(desc.Kind)), nil)
	}
}

func open[T Scalar](st Storage, desc Descriptor, ec elemCodec[T]) *Column[T] {
	st = st.withDefaults()
	st.HomeNode = desc.Home

	c := &Column[T]{
		storage:  st,
		codec:    ec,
		id:       desc.ID,
		capacity: desc.Capacity,
		size:     desc.Size,
	}

	count := (desc.Size + desc.Capacity - 1) / desc.Capacity
	for seq := 0; seq < count; seq++ {
		c.segments = append(c.segments, segmentKey(desc.ID, seq, desc.Home))
	}
	if count > 0 {
		c.fill = desc.Size - (count-1)*desc.Capacity
	}
	return c
}
