package workerpool

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"testing"

	kverrors "github.com/devrev/framekv/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPoolRun(t *testing.T) {
	t.Run("runs every task", func(t *testing.T) {
		p := New(Config{Name: "test", Workers: 4, Logger: zap.NewNop()})
		defer p.Stop()

		var sum int64
		tasks := make([]Task, 50)
		for i := range tasks {
			i := i
			tasks[i] = Task{ID: fmt.Sprint(i), Fn: func(context.Context) error {
				atomic.AddInt64(&sum, int64(i))
				return nil
			}}
		}

		require.NoError(t, p.Run(context.Background(), tasks...))
		assert.Equal(t, int64(49*50/2), sum)

		stats := p.Stats()
		assert.Equal(t, uint64(50), stats.Submitted)
		assert.Equal(t, uint64(50), stats.Completed)
		assert.Equal(t, 100.0, stats.SuccessRate())
	})

	t.Run("joins task errors", func(t *testing.T) {
		p := New(Config{Workers: 2})
		defer p.Stop()

		boom := stderrors.New("boom")
		err := p.Run(context.Background(),
			Task{ID: "ok", Fn: func(context.Context) error { return nil }},
			Task{ID: "bad", Fn: func(context.Context) error { return boom }},
		)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, uint64(1), p.Stats().Failed)
	})

	t.Run("recovers panics and keeps storage codes", func(t *testing.T) {
		p := New(Config{Workers: 1})
		defer p.Stop()

		err := p.Run(context.Background(),
			Task{ID: "bounds", Fn: func(context.Context) error { panic(kverrors.OutOfBounds("row", 9, 3)) }},
			Task{ID: "other", Fn: func(context.Context) error { panic("plain") }},
		)
		require.Error(t, err)

		var se *kverrors.StorageError
		require.True(t, stderrors.As(err, &se))
		assert.Contains(t, err.Error(), "panicked: plain")
		assert.Contains(t, err.Error(), "row index 9 out of bounds")
		assert.Equal(t, uint64(2), p.Stats().Panicked)
	})

	t.Run("rejects work after stop", func(t *testing.T) {
		p := New(Config{Workers: 1})
		p.Stop()
		p.Stop()

		err := p.Run(context.Background(), Task{ID: "late", Fn: func(context.Context) error { return nil }})
		assert.Error(t, err)
	})

	t.Run("cancelled context stops submission", func(t *testing.T) {
		p := New(Config{Workers: 1})
		defer p.Stop()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := p.Run(ctx, Task{ID: "never", Fn: func(context.Context) error { return nil }})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
