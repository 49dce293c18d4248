// Package column stores typed, append-only columns as fixed-capacity
// segments in a key-value backend.
//
// A column keeps only metadata in memory: its id, its segment keys and how
// full the last segment is. Element i lives in segment i/capacity at offset
// i%capacity, and every access goes through the backend.
package column

import (
	"context"
	"fmt"

	"github.com/devrev/framekv/internal/codec"
	kverrors "github.com/devrev/framekv/internal/errors"
	"github.com/devrev/framekv/internal/model"
)

// Kind is the element type tag of a column.
type Kind byte

const (
	KindInt    Kind = 'I'
	KindBool   Kind = 'B'
	KindDouble Kind = 'D'
	KindString Kind = 'S'
)

// ParseKind validates a type letter.
func ParseKind(b byte) (Kind, error) {
	switch k := Kind(b); k {
	case KindInt, KindBool, KindDouble, KindString:
		return k, nil
	default:
		return 0, kverrors.InvalidArgument(fmt.Sprintf("unknown column type %q", b), nil)
	}
}

func (k Kind) String() string { return string(rune(k)) }

// Scalar is the set of element types a column can hold.
type Scalar interface {
	int64 | float64 | bool | string
}

type elemCodec[T Scalar] struct {
	kind Kind
	put  func(*codec.Serializer, T)
	get  func(*codec.Deserializer) T
}

var (
	intCodec    = elemCodec[int64]{KindInt, (*codec.Serializer).PutInt64, (*codec.Deserializer).GetInt64}
	doubleCodec = elemCodec[float64]{KindDouble, (*codec.Serializer).PutFloat64, (*codec.Deserializer).GetFloat64}
	boolCodec   = elemCodec[bool]{KindBool, (*codec.Serializer).PutBool, (*codec.Deserializer).GetBool}
	stringCodec = elemCodec[string]{KindString, (*codec.Serializer).PutString, (*codec.Deserializer).GetString}
)

// Any is implemented only by the four Column instantiations.
type Any interface {
	Kind() Kind
	Size() int
	ID() string
	SegmentKeys() []model.Key
	Descriptor() Descriptor
	Truncate(size int)
	sealed()
}

// Column is a segmented column of T. It is not safe for concurrent mutation;
// concurrent readers are fine.
type Column[T Scalar] struct {
	storage  Storage
	codec    elemCodec[T]
	id       string
	capacity int
	segments []model.Key
	fill     int
	size     int
}

func newColumn[T Scalar](st Storage, c elemCodec[T]) *Column[T] {
	st = st.withDefaults()
	return &Column[T]{
		storage:  st,
		codec:    c,
		id:       st.IDs.NextID(),
		capacity: st.SegmentCapacity,
	}
}

func NewInts(st Storage) *Column[int64]      { return newColumn(st, intCodec) }
func NewDoubles(st Storage) *Column[float64] { return newColumn(st, doubleCodec) }
func NewBools(st Storage) *Column[bool]      { return newColumn(st, boolCodec) }
func NewStrings(st Storage) *Column[string]  { return newColumn(st, stringCodec) }

// New creates an empty column of the given kind.
func New(st Storage, kind Kind) (Any, error) {
	switch kind {
	case KindInt:
		return NewInts(st), nil
	case KindDouble:
		return NewDoubles(st), nil
	case KindBool:
		return NewBools(st), nil
	case KindString:
		return NewStrings(st), nil
	default:
		return nil, kverrors.InvalidArgument(fmt.Sprintf("unknown column type %q", byte(kind)), nil)
	}
}

// As returns c as a *Column[T]. A column of another kind is a programming
// error and panics with a type mismatch.
func As[T Scalar](c Any) *Column[T] {
	typed, ok := c.(*Column[T])
	if !ok {
		var zero T
		panic(kverrors.TypeMismatch(fmt.Sprintf("%T column", zero), c.Kind().String()))
	}
	return typed
}

func (c *Column[T]) sealed() {}

func (c *Column[T]) Kind() Kind    { return c.codec.kind }
func (c *Column[T]) Size() int     { return c.size }
func (c *Column[T]) ID() string    { return c.id }
func (c *Column[T]) Capacity() int { return c.capacity }

// SegmentKeys returns a copy of the segment keys in order.
func (c *Column[T]) SegmentKeys() []model.Key {
	return append([]model.Key(nil), c.segments...)
}

// Push appends v. A new segment is allocated and published empty when the
// last one is full; then the last segment is read, extended and written back.
func (c *Column[T]) Push(ctx context.Context, v T) error {
	if len(c.segments) == 0 || c.fill == c.capacity {
		if err := c.allocate(ctx); err != nil {
			return err
		}
	}

	key := c.segments[len(c.segments)-1]
	vals, err := c.load(ctx, key)
	if err != nil {
		return err
	}
	if len(vals) < c.fill {
		return kverrors.InternalError(
			fmt.Sprintf("segment %s holds %d elements, expected %d", key, len(vals), c.fill), nil)
	}

	// elements past fill were left by a truncated push
	if err := c.store(ctx, key, append(vals[:c.fill], v)); err != nil {
		return err
	}
	c.fill++
	c.size++
	return nil
}

// PushAll appends every value in order.
func (c *Column[T]) PushAll(ctx context.Context, vals ...T) error {
	for _, v := range vals {
		if err := c.Push(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

func (c *Column[T]) allocate(ctx context.Context) error {
	key := segmentKey(c.id, len(c.segments), c.storage.HomeNode)
	if err := c.store(ctx, key, nil); err != nil {
		return err
	}
	c.segments = append(c.segments, key)
	c.fill = 0
	c.storage.Metrics.RecordSegmentAllocated()
	return nil
}

// Get returns element i. Out-of-range i panics.
func (c *Column[T]) Get(ctx context.Context, i int) (T, error) {
	c.check(i)

	var zero T
	seg, off := i/c.capacity, i%c.capacity
	vals, err := c.load(ctx, c.segments[seg])
	if err != nil {
		return zero, err
	}
	if off >= len(vals) {
		return zero, kverrors.InternalError(
			fmt.Sprintf("segment %s holds %d elements, need offset %d", c.segments[seg], len(vals), off), nil)
	}
	return vals[off], nil
}

// Set overwrites element i. Out-of-range i panics.
func (c *Column[T]) Set(ctx context.Context, i int, v T) error {
	c.check(i)

	key := c.segments[i/c.capacity]
	vals, err := c.load(ctx, key)
	if err != nil {
		return err
	}
	off := i % c.capacity
	if off >= len(vals) {
		return kverrors.InternalError(
			fmt.Sprintf("segment %s holds %d elements, need offset %d", key, len(vals), off), nil)
	}
	vals[off] = v
	return c.store(ctx, key, vals)
}

// Values reads the whole column in order.
func (c *Column[T]) Values(ctx context.Context) ([]T, error) {
	out := make([]T, 0, c.size)
	for seq, key := range c.segments {
		vals, err := c.load(ctx, key)
		if err != nil {
			return nil, err
		}
		want := c.capacity
		if seq == len(c.segments)-1 {
			want = c.fill
		}
		if len(vals) < want {
			return nil, kverrors.InternalError(
				fmt.Sprintf("segment %s holds %d elements, expected %d", key, len(vals), want), nil)
		}
		out = append(out, vals[:want]...)
	}
	if len(out) != c.size {
		return nil, kverrors.InternalError(
			fmt.Sprintf("column %s holds %d elements, expected %d", c.id, len(out), c.size), nil)
	}
	return out, nil
}

// Truncate shrinks the column back to size elements. It only forgets
// metadata: stored elements past size are ignored by later reads and
// overwritten by later pushes. Growing panics.
func (c *Column[T]) Truncate(size int) {
	if size < 0 || size > c.size {
		panic(kverrors.OutOfBounds("column truncate", size, c.size+1))
	}
	count := (size + c.capacity - 1) / c.capacity
	c.segments = c.segments[:count]
	c.size = size
	c.fill = 0
	if count > 0 {
		c.fill = size - (count-1)*c.capacity
	}
}

func (c *Column[T]) check(i int) {
	if i < 0 || i >= c.size {
		panic(kverrors.OutOfBounds("column", i, c.size))
	}
}

// load waits for the segment rather than failing on a miss: on another node
// the PUT that created it may still be in flight.
func (c *Column[T]) load(ctx context.Context, key model.Key) ([]T, error) {
	v, err := c.storage.Backend.WaitAndGet(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load segment %s: %w", key, err)
	}
	return decodeSegment(c.codec, v)
}

func (c *Column[T]) store(ctx context.Context, key model.Key, vals []T) error {
	if err := c.storage.Backend.Put(ctx, key, encodeSegment(c.codec, vals)); err != nil {
		return fmt.Errorf("store segment %s: %w", key, err)
	}
	return nil
}

// Segment layout: count:8 then count elements.
func encodeSegment[T Scalar](ec elemCodec[T], vals []T) model.Value {
	s := codec.NewSerializer()
	s.PutUint64(uint64(len(vals)))
	for _, v := range vals {
		ec.put(s, v)
	}
	return model.ValueFrom(s)
}

func decodeSegment[T Scalar](ec elemCodec[T], v model.Value) ([]T, error) {
	d := v.Decoder()
	n := d.GetUint64()
	// every element takes at least one byte
	if n > uint64(d.Remaining()) {
		return nil, kverrors.ProtocolViolation(
			fmt.Sprintf("segment declares %d %s elements in %d bytes", n, ec.kind, d.Remaining()), nil)
	}

	vals := make([]T, n)
	for i := range vals {
		vals[i] = ec.get(d)
	}
	if err := d.Err(); err != nil {
		return nil, kverrors.ProtocolViolation(fmt.Sprintf("truncated %s segment", ec.kind), err)
	}
	if d.Remaining() != 0 {
		return nil, kverrors.ProtocolViolation(
			fmt.Sprintf("%d trailing bytes in %s segment", d.Remaining(), ec.kind), nil)
	}
	return vals, nil
}
