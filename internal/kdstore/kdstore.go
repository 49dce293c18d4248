// Package kdstore is the application-facing store: keys and dataframes,
// routed to whichever node owns them.
package kdstore

import (
	"context"
	"fmt"

	"github.com/devrev/framekv/internal/column"
	"github.com/devrev/framekv/internal/dataframe"
	kverrors "github.com/devrev/framekv/internal/errors"
	"github.com/devrev/framekv/internal/metrics"
	"github.com/devrev/framekv/internal/model"
	"github.com/devrev/framekv/internal/store"
	"go.uber.org/zap"
)

// Router reaches the stores of other nodes. *network.Network implements it.
type Router interface {
	PutAtNode(ctx context.Context, node int, key model.Key, value model.Value) error
	GetFromNode(ctx context.Context, node int, key model.Key) (model.Value, error)
	WaitAndGetFromNode(ctx context.Context, node int, key model.Key) (model.Value, error)
}

// KDStore routes every key on its home node: the local store for keys homed
// here, the router for the rest. It implements column.Backend, so the
// columns it creates can live on any node.
type KDStore struct {
	index    int
	local    *store.Store
	router   Router
	ids      column.IDGenerator
	capacity int
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// Option configures a KDStore.
type Option func(*KDStore)

// WithSegmentCapacity sets the capacity of columns created by this store.
func WithSegmentCapacity(n int) Option {
	return func(kd *KDStore) { kd.capacity = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(kd *KDStore) { kd.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(kd *KDStore) { kd.logger = l }
}

// New creates a KDStore for node index. router may be nil on a single-node
// deployment; ids defaults to random UUID-based ids.
func New(index int, local *store.Store, router Router, ids column.IDGenerator, opts ...Option) *KDStore {
	kd := &KDStore{
		index:    index,
		local:    local,
		router:   router,
		ids:      ids,
		capacity: column.DefaultSegmentCapacity,
	}
	for _, opt := range opts {
		opt(kd)
	}
	if kd.ids == nil {
		kd.ids = column.UUIDGenerator{}
	}
	if kd.logger == nil {
		kd.logger = zap.NewNop()
	}
	return kd
}

// Index returns the node this store runs on.
func (kd *KDStore) Index() int { return kd.index }

// Storage returns the column storage that places new segments on this node.
func (kd *KDStore) Storage() column.Storage {
	return column.Storage{
		Backend:         kd,
		IDs:             kd.ids,
		HomeNode:        kd.index,
		SegmentCapacity: kd.capacity,
		Metrics:         kd.metrics,
	}
}

func (kd *KDStore) remote(key model.Key) (Router, error) {
	if kd.router == nil {
		return nil, kverrors.NodeUnknown(key.Home)
	}
	return kd.router, nil
}

// Put stores value on key's home node.
func (kd *KDStore) Put(ctx context.Context, key model.Key, value model.Value) error {
	if key.Home == kd.index {
		kd.local.Put(key, value)
		return nil
	}
	r, err := kd.remote(key)
	if err != nil {
		return err
	}
	return r.PutAtNode(ctx, key.Home, key, value)
}

// Get fetches key from its home node; a missing key is a KeyNotFound error.
func (kd *KDStore) Get(ctx context.Context, key model.Key) (model.Value, error) {
	if key.Home == kd.index {
		return kd.local.Get(key)
	}
	r, err := kd.remote(key)
	if err != nil {
		return model.Value{}, err
	}
	return r.GetFromNode(ctx, key.Home, key)
}

// WaitAndGet fetches key from its home node, waiting until it exists.
func (kd *KDStore) WaitAndGet(ctx context.Context, key model.Key) (model.Value, error) {
	if key.Home == kd.index {
		return kd.local.WaitAndGet(ctx, key)
	}
	r, err := kd.remote(key)
	if err != nil {
		return model.Value{}, err
	}
	return r.WaitAndGetFromNode(ctx, key.Home, key)
}

// PutFrame stores df's descriptor under key. The columns stay where they are.
func (kd *KDStore) PutFrame(ctx context.Context, key model.Key, df *dataframe.DataFrame) error {
	data, err := df.MarshalBinary()
	if err != nil {
		return err
	}
	if err := kd.Put(ctx, key, model.NewValue(data)); err != nil {
		return fmt.Errorf("put frame %s: %w", key, err)
	}
	kd.logger.Debug("Stored frame",
		zap.String("key", key.String()),
		zap.String("schema", df.Schema().String()),
		zap.Int("rows", df.NRows()))
	return nil
}

// GetFrame reopens the frame stored under key.
func (kd *KDStore) GetFrame(ctx context.Context, key model.Key) (*dataframe.DataFrame, error) {
	v, err := kd.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return kd.openFrame(key, v)
}

// WaitAndGetFrame reopens the frame stored under key, waiting until it exists.
func (kd *KDStore) WaitAndGetFrame(ctx context.Context, key model.Key) (*dataframe.DataFrame, error) {
	v, err := kd.WaitAndGet(ctx, key)
	if err != nil {
		return nil, err
	}
	return kd.openFrame(key, v)
}

func (kd *KDStore) openFrame(key model.Key, v model.Value) (*dataframe.DataFrame, error) {
	df, err := dataframe.Unmarshal(kd.Storage(), v.Bytes())
	if err != nil {
		return nil, fmt.Errorf("open frame %s: %w", key, err)
	}
	return df, nil
}

// FromColumnSet builds a frame from set, stores it under key and returns it.
func (kd *KDStore) FromColumnSet(ctx context.Context, key model.Key, set *dataframe.ColumnSet) (*dataframe.DataFrame, error) {
	df, err := dataframe.FromColumnSet(ctx, kd.Storage(), set)
	if err != nil {
		return nil, err
	}
	if err := kd.PutFrame(ctx, key, df); err != nil {
		return nil, err
	}
	return df, nil
}

func (kd *KDStore) single(ctx context.Context, key model.Key, data dataframe.ColumnData) (*dataframe.DataFrame, error) {
	return kd.FromColumnSet(ctx, key, &dataframe.ColumnSet{Columns: []dataframe.ColumnData{data}})
}

func (kd *KDStore) FromScalarInt(ctx context.Context, key model.Key, v int64) (*dataframe.DataFrame, error) {
	return kd.single(ctx, key, dataframe.Ints{v})
}

func (kd *KDStore) FromScalarDouble(ctx context.Context, key model.Key, v float64) (*dataframe.DataFrame, error) {
	return kd.single(ctx, key, dataframe.Doubles{v})
}

func (kd *KDStore) FromScalarBool(ctx context.Context, key model.Key, v bool) (*dataframe.DataFrame, error) {
	return kd.single(ctx, key, dataframe.Bools{v})
}

func (kd *KDStore) FromScalarString(ctx context.Context, key model.Key, v string) (*dataframe.DataFrame, error) {
	return kd.single(ctx, key, dataframe.Strings{v})
}

func (kd *KDStore) FromInts(ctx context.Context, key model.Key, vals []int64) (*dataframe.DataFrame, error) {
	return kd.single(ctx, key, dataframe.Ints(vals))
}

func (kd *KDStore) FromDoubles(ctx context.Context, key model.Key, vals []float64) (*dataframe.DataFrame, error) {
	return kd.single(ctx, key, dataframe.Doubles(vals))
}

func (kd *KDStore) FromBools(ctx context.Context, key model.Key, vals []bool) (*dataframe.DataFrame, error) {
	return kd.single(ctx, key, dataframe.Bools(vals))
}

func (kd *KDStore) FromStrings(ctx context.Context, key model.Key, vals []string) (*dataframe.DataFrame, error) {
	return kd.single(ctx, key, dataframe.Strings(vals))
}
