package column

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/devrev/framekv/internal/metrics"
	"github.com/devrev/framekv/internal/model"
	"github.com/google/uuid"
)

// DefaultSegmentCapacity is the number of elements per segment when the
// storage does not say otherwise.
const DefaultSegmentCapacity = 1024

// IDLength is the length of every column id. Segment keys are the id
// followed by the segment number, so a fixed length keeps them unambiguous.
const IDLength = 16

// Backend is the key-value surface columns are stored on.
type Backend interface {
	Put(ctx context.Context, key model.Key, value model.Value) error
	Get(ctx context.Context, key model.Key) (model.Value, error)
	WaitAndGet(ctx context.Context, key model.Key) (model.Value, error)
}

// IDGenerator hands out column ids of exactly IDLength characters.
type IDGenerator interface {
	NextID() string
}

// UUIDGenerator derives ids from random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NextID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:IDLength/2])
}

// CounterGenerator yields deterministic ids: prefix then a zero-padded
// counter. Intended for tests.
type CounterGenerator struct {
	Prefix string
	n      atomic.Uint64
}

func (g *CounterGenerator) NextID() string {
	width := IDLength - len(g.Prefix)
	if width <= 0 {
		panic(fmt.Sprintf("column id prefix %q leaves no room for a counter", g.Prefix))
	}
	return fmt.Sprintf("%s%0*d", g.Prefix, width, g.n.Add(1))
}

// Storage tells a column where and how its segments live.
type Storage struct {
	Backend         Backend
	IDs             IDGenerator
	HomeNode        int
	SegmentCapacity int
	Metrics         *metrics.Metrics
}

func (s Storage) withDefaults() Storage {
	if s.IDs == nil {
		s.IDs = UUIDGenerator{}
	}
	if s.SegmentCapacity <= 0 {
		s.SegmentCapacity = DefaultSegmentCapacity
	}
	return s
}

func segmentKey(id string, seq, home int) model.Key {
	return model.NewKey(fmt.Sprintf("%s%d", id, seq), home)
}
