package column

import (
	"context"
	"fmt"
	"testing"

	"github.com/devrev/framekv/internal/codec"
	kverrors "github.com/devrev/framekv/internal/errors"
	"github.com/devrev/framekv/internal/model"
	"github.com/devrev/framekv/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localBackend serves columns straight from a store.
type localBackend struct {
	s    *store.Store
	puts int
}

func (b *localBackend) Put(_ context.Context, key model.Key, value model.Value) error {
	b.puts++
	b.s.Put(key, value)
	return nil
}

func (b *localBackend) Get(_ context.Context, key model.Key) (model.Value, error) {
	return b.s.Get(key)
}

func (b *localBackend) WaitAndGet(ctx context.Context, key model.Key) (model.Value, error) {
	return b.s.WaitAndGet(ctx, key)
}

func testStorage(capacity int) (Storage, *localBackend) {
	b := &localBackend{s: store.NewStore(nil, nil)}
	return Storage{
		Backend:         b,
		IDs:             &CounterGenerator{Prefix: "col"},
		HomeNode:        2,
		SegmentCapacity: capacity,
	}, b
}

func requirePanicCode(t *testing.T, code kverrors.ErrorCode, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		err, ok := r.(*kverrors.StorageError)
		require.True(t, ok, "panic value %T is not a storage error", r)
		assert.Equal(t, code, err.Code)
	}()
	fn()
}

func TestSegmentLayout(t *testing.T) {
	const capacity = 4
	ctx := context.Background()
	st, backend := testStorage(capacity)

	col := NewInts(st)
	n := 3*capacity + 7
	for i := 0; i < n; i++ {
		require.NoError(t, col.Push(ctx, int64(i*10)))
	}

	assert.Equal(t, n, col.Size())
	keys := col.SegmentKeys()
	require.Len(t, keys, 4)
	for seq, key := range keys {
		assert.Equal(t, fmt.Sprintf("%s%d", col.ID(), seq), key.Name)
		assert.Equal(t, 2, key.Home)
		assert.True(t, backend.s.Has(key))
	}
	assert.Equal(t, 4, backend.s.Len())

	for i := 0; i < n; i++ {
		v, err := col.Get(ctx, i)
		require.NoError(t, err)
		assert.Equal(t, int64(i*10), v)
	}
}

func TestSegmentEncoding(t *testing.T) {
	ctx := context.Background()
	st, backend := testStorage(8)

	col := NewBools(st)
	require.NoError(t, col.PushAll(ctx, true, false, true))

	raw, err := backend.s.Get(col.SegmentKeys()[0])
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 0, 0, 0, 0, 0, 0, 0, 1, 0, 1}, raw.Bytes())
}

func TestSetOverwrites(t *testing.T) {
	ctx := context.Background()
	st, _ := testStorage(3)

	col := NewStrings(st)
	require.NoError(t, col.PushAll(ctx, "a", "b", "c", "d", "e"))
	require.NoError(t, col.Set(ctx, 4, "E"))
	require.NoError(t, col.Set(ctx, 0, "A"))

	vals, err := col.Values(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "b", "c", "d", "E"}, vals)
	assert.Equal(t, 5, col.Size())
}

func TestEveryKindRoundTrips(t *testing.T) {
	ctx := context.Background()
	st, _ := testStorage(2)

	ints := NewInts(st)
	require.NoError(t, ints.PushAll(ctx, -1, 0, 1<<62))
	doubles := NewDoubles(st)
	require.NoError(t, doubles.PushAll(ctx, 1.5, -0.25, 3e300))
	bools := NewBools(st)
	require.NoError(t, bools.PushAll(ctx, false, true, true))
	strs := NewStrings(st)
	require.NoError(t, strs.PushAll(ctx, "", "hello", "world"))

	iv, err := ints.Values(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 0, 1 << 62}, iv)

	dv, err := doubles.Values(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, -0.25, 3e300}, dv)

	bv, err := bools.Values(ctx)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true}, bv)

	sv, err := strs.Values(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "hello", "world"}, sv)

	assert.Equal(t, KindInt, ints.Kind())
	assert.Equal(t, KindDouble, doubles.Kind())
	assert.Equal(t, KindBool, bools.Kind())
	assert.Equal(t, KindString, strs.Kind())
}

func TestOutOfBoundsPanics(t *testing.T) {
	ctx := context.Background()
	st, _ := testStorage(4)
	col := NewDoubles(st)
	require.NoError(t, col.Push(ctx, 1))

	requirePanicCode(t, kverrors.ErrCodeOutOfBounds, func() { _, _ = col.Get(ctx, 1) })
	requirePanicCode(t, kverrors.ErrCodeOutOfBounds, func() { _, _ = col.Get(ctx, -1) })
	requirePanicCode(t, kverrors.ErrCodeOutOfBounds, func() { _ = col.Set(ctx, 5, 2) })

	empty := NewInts(st)
	requirePanicCode(t, kverrors.ErrCodeOutOfBounds, func() { _, _ = empty.Get(ctx, 0) })
}

func TestAsChecksKind(t *testing.T) {
	st, _ := testStorage(4)

	var c Any = NewInts(st)
	assert.NotNil(t, As[int64](c))
	requirePanicCode(t, kverrors.ErrCodeTypeMismatch, func() { As[string](c) })
}

func TestNewByKind(t *testing.T) {
	st, _ := testStorage(4)
	for _, k := range []Kind{KindInt, KindBool, KindDouble, KindString} {
		c, err := New(st, k)
		require.NoError(t, err)
		assert.Equal(t, k, c.Kind())
		assert.Equal(t, 0, c.Size())
	}

	_, err := New(st, Kind('X'))
	assert.True(t, kverrors.HasCode(err, kverrors.ErrCodeInvalidArgument))
}

func TestParseKind(t *testing.T) {
	for _, b := range []byte("IBDS") {
		k, err := ParseKind(b)
		require.NoError(t, err)
		assert.Equal(t, string(b), k.String())
	}
	_, err := ParseKind('F')
	assert.Error(t, err)
}

func TestDescriptorReopen(t *testing.T) {
	ctx := context.Background()
	st, backend := testStorage(4)

	col := NewInts(st)
	require.NoError(t, col.PushAll(ctx, 1, 2, 3, 4, 5, 6))

	s := codec.NewSerializer()
	col.Descriptor().Encode(s)
	d := codec.NewDeserializer(s.Bytes())
	desc := DecodeDescriptor(d)
	require.NoError(t, d.Err())
	assert.Equal(t, col.Descriptor(), desc)

	// A reader elsewhere has its own generator and home node.
	other := Storage{Backend: backend, IDs: &CounterGenerator{Prefix: "other"}, HomeNode: 0, SegmentCapacity: 99}
	opened, err := Open(other, desc)
	require.NoError(t, err)

	reopened := As[int64](opened)
	assert.Equal(t, col.SegmentKeys(), reopened.SegmentKeys())
	assert.Equal(t, 4, reopened.Capacity())

	require.NoError(t, reopened.PushAll(ctx, 7, 8, 9))
	vals, err := reopened.Values(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9}, vals)
	assert.Len(t, reopened.SegmentKeys(), 3)
}

func TestTruncate(t *testing.T) {
	ctx := context.Background()
	st, _ := testStorage(4)

	col := NewInts(st)
	require.NoError(t, col.PushAll(ctx, 1, 2, 3, 4, 5, 6))

	col.Truncate(3)
	assert.Equal(t, 3, col.Size())
	assert.Len(t, col.SegmentKeys(), 1)

	// the stale fourth element is overwritten, not read
	require.NoError(t, col.PushAll(ctx, 10, 11, 12))
	vals, err := col.Values(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 10, 11, 12}, vals)
	assert.Len(t, col.SegmentKeys(), 2)

	col.Truncate(0)
	assert.Empty(t, col.SegmentKeys())
	require.NoError(t, col.Push(ctx, 7))
	v, err := col.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	requirePanicCode(t, kverrors.ErrCodeOutOfBounds, func() { col.Truncate(2) })
}

func TestOpenRejectsBadDescriptor(t *testing.T) {
	st, _ := testStorage(4)

	_, err := Open(st, Descriptor{Kind: KindInt, ID: "short", Capacity: 4})
	assert.True(t, kverrors.HasCode(err, kverrors.ErrCodeInvalidArgument))

	_, err = Open(st, Descriptor{Kind: Kind('Q'), ID: "col0000000000001", Capacity: 4})
	assert.True(t, kverrors.HasCode(err, kverrors.ErrCodeInvalidArgument))
}

func TestCorruptSegment(t *testing.T) {
	ctx := context.Background()
	st, backend := testStorage(4)

	col := NewInts(st)
	require.NoError(t, col.Push(ctx, 1))
	backend.s.Put(col.SegmentKeys()[0], model.NewValue([]byte{1, 0, 0, 0, 0, 0, 0, 0, 9}))

	_, err := col.Get(ctx, 0)
	require.Error(t, err)
	assert.True(t, kverrors.HasCode(err, kverrors.ErrCodeProtocolViolation))
}

func TestIDGenerators(t *testing.T) {
	g := &CounterGenerator{Prefix: "col"}
	assert.Equal(t, "col0000000000001", g.NextID())
	assert.Equal(t, "col0000000000002", g.NextID())

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := UUIDGenerator{}.NextID()
		assert.Len(t, id, IDLength)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
