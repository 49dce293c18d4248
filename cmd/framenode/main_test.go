package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/devrev/framekv/internal/column"
	"github.com/devrev/framekv/internal/kdstore"
	"github.com/devrev/framekv/internal/model"
	"github.com/devrev/framekv/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		level  string
		format string
		want   zapcore.Level
		ok     bool
	}{
		{"info", "json", zapcore.InfoLevel, true},
		{"debug", "console", zapcore.DebugLevel, true},
		{"warn", "json", zapcore.WarnLevel, true},
		{"loud", "json", zapcore.InfoLevel, false},
	}

	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			logger, err := initLogger(tt.level, tt.format)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			assert.False(t, logger.Core().Enabled(tt.want-1))
		})
	}
}

func TestPreload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
columns:
  - type: I
    values: [3, 1, 4, 1, 5]
  - type: S
    values: [a, b, c, d, e]
`), 0o644))

	st := store.NewStore(nil, nil)
	kd := kdstore.New(0, st, nil, &column.CounterGenerator{Prefix: "p"}, kdstore.WithSegmentCapacity(2))
	ctx := context.Background()

	require.NoError(t, preload(ctx, kd, path, "table", zap.NewNop()))

	df, err := kd.GetFrame(ctx, model.NewKey("table", 0))
	require.NoError(t, err)
	assert.Equal(t, "IS", df.Schema().String())
	assert.Equal(t, 5, df.NRows())
	s, err := df.GetString(ctx, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, "e", s)
}

func TestPreloadErrors(t *testing.T) {
	kd := kdstore.New(0, store.NewStore(nil, nil), nil, nil)
	dir := t.TempDir()

	err := preload(context.Background(), kd, filepath.Join(dir, "absent.yaml"), "x", zap.NewNop())
	assert.Error(t, err)

	ragged := filepath.Join(dir, "ragged.yaml")
	require.NoError(t, os.WriteFile(ragged, []byte("columns:\n  - {type: I, values: [1, 2]}\n  - {type: B, values: [true]}\n"), 0o644))
	err = preload(context.Background(), kd, ragged, "x", zap.NewNop())
	assert.Error(t, err)
}

func TestServeCommandFlags(t *testing.T) {
	cmd := newServeCommand()
	for _, name := range []string{"config", "preload", "preload-key", "index", "listen", "advertise", "rendezvous", "cluster-size", "admin-port", "log-level"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Error(t, cmd.Args(cmd, []string{"extra"}))
}
