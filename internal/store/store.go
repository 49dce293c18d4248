// Package store is the node-local key-value map.
//
// Every value a node owns lives here. Reads hand out owned copies, writes
// replace atomically, and WaitAndGet parks the caller until some writer
// publishes the key.
package store

import (
	"context"
	"sort"
	"sync"

	kverrors "github.com/devrev/framekv/internal/errors"
	"github.com/devrev/framekv/internal/metrics"
	"github.com/devrev/framekv/internal/model"
	"go.uber.org/zap"
)

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	data    map[model.Key]model.Value
	waiters map[model.Key]*waiter

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// waiter is closed by the Put that publishes its key.
type waiter struct {
	ready chan struct{}
	count int
}

// NewStore creates an empty store. Both arguments may be nil.
func NewStore(m *metrics.Metrics, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		data:    make(map[model.Key]model.Value),
		waiters: make(map[model.Key]*waiter),
		metrics: m,
		logger:  logger,
	}
}

// Put inserts or replaces the value under key and wakes every waiter on it.
func (s *Store) Put(key model.Key, value model.Value) {
	v := value.Clone()

	s.mu.Lock()
	s.data[key] = v
	if w, ok := s.waiters[key]; ok {
		close(w.ready)
		delete(s.waiters, key)
	}
	keys, waiting := len(s.data), s.waitingLocked()
	s.mu.Unlock()

	s.metrics.RecordStorePut(v.Len())
	s.metrics.UpdateStoreStats(keys, waiting)
}

// Get returns a copy of the value under key, or a KeyNotFound error.
func (s *Store) Get(key model.Key) (model.Value, error) {
	s.metrics.RecordStoreOp("get")

	s.mu.RLock()
	v, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		s.metrics.RecordStoreMiss()
		return model.Value{}, kverrors.KeyNotFound(key.Name, key.Home)
	}
	return v.Clone(), nil
}

// Has reports whether key is present.
func (s *Store) Has(key model.Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[key]
	return ok
}

// WaitAndGet blocks until key is present and returns a copy of its value.
// Only ctx bounds the wait.
func (s *Store) WaitAndGet(ctx context.Context, key model.Key) (model.Value, error) {
	s.metrics.RecordStoreOp("wait")

	for {
		s.mu.Lock()
		if v, ok := s.data[key]; ok {
			s.mu.Unlock()
			return v.Clone(), nil
		}
		w, ok := s.waiters[key]
		if !ok {
			w = &waiter{ready: make(chan struct{})}
			s.waiters[key] = w
		}
		w.count++
		keys, waiting := len(s.data), s.waitingLocked()
		s.mu.Unlock()

		s.metrics.UpdateStoreStats(keys, waiting)
		s.logger.Debug("Waiting for key", zap.String("key", key.String()))

		select {
		case <-w.ready:
			// Re-check under the lock; a Delete may have raced the wake-up.
		case <-ctx.Done():
			s.release(key, w)
			return model.Value{}, ctx.Err()
		}
	}
}

// release drops one interest in w, removing it once nobody waits.
func (s *Store) release(key model.Key, w *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w.count--
	if w.count == 0 && s.waiters[key] == w {
		delete(s.waiters, key)
	}
	s.metrics.UpdateStoreStats(len(s.data), s.waitingLocked())
}

func (s *Store) waitingLocked() int {
	n := 0
	for _, w := range s.waiters {
		n += w.count
	}
	return n
}

// Delete removes key. It reports whether the key was present.
func (s *Store) Delete(key model.Key) bool {
	s.mu.Lock()
	_, ok := s.data[key]
	delete(s.data, key)
	keys, waiting := len(s.data), s.waitingLocked()
	s.mu.Unlock()

	s.metrics.RecordStoreOp("delete")
	s.metrics.UpdateStoreStats(keys, waiting)
	return ok
}

// Len returns the number of keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Keys returns every key, ordered by home node then name.
func (s *Store) Keys() []model.Key {
	s.mu.RLock()
	keys := make([]model.Key, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Home != keys[j].Home {
			return keys[i].Home < keys[j].Home
		}
		return keys[i].Name < keys[j].Name
	})
	return keys
}

// Waiting returns the number of callers currently blocked in WaitAndGet.
func (s *Store) Waiting() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.waitingLocked()
}
