package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devrev/framekv/internal/config"
	"github.com/devrev/framekv/internal/gossip"
	"github.com/devrev/framekv/internal/metrics"
	"github.com/devrev/framekv/internal/middleware"
	"github.com/devrev/framekv/internal/model"
	"github.com/devrev/framekv/internal/network"
	"github.com/devrev/framekv/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticMembers []gossip.Member

func (m staticMembers) Members() []gossip.Member { return m }

func adminConfig() config.AdminConfig {
	return config.AdminConfig{Enabled: true, Port: 0, ReadTimeout: time.Second, WriteTimeout: time.Second}
}

func startNode(t *testing.T, m *metrics.Metrics) *network.Network {
	t.Helper()
	n, err := network.NewNetwork(network.Config{Index: 0, ListenAddr: "127.0.0.1:0"}, store.NewStore(m, nil), m, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Start(ctx))
	t.Cleanup(n.Stop)
	return n
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthAndReady(t *testing.T) {
	t.Run("active node", func(t *testing.T) {
		s := NewServer(adminConfig(), startNode(t, nil), nil, nil, zap.NewNop())

		w := get(t, s.Handler(), "/health")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

		w = get(t, s.Handler(), "/ready")
		assert.Equal(t, http.StatusOK, w.Code)
		var resp HealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "ready", resp.Status)
		assert.Equal(t, "active", resp.State)
	})

	t.Run("registering node", func(t *testing.T) {
		n, err := network.NewNetwork(network.Config{Index: 1, RendezvousAddr: "127.0.0.1:1"}, store.NewStore(nil, nil), nil, nil)
		require.NoError(t, err)
		s := NewServer(adminConfig(), n, nil, nil, nil)

		w := get(t, s.Handler(), "/ready")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var resp HealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "registering", resp.State)

		assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/health").Code)
	})
}

func TestDirectory(t *testing.T) {
	n := startNode(t, nil)
	s := NewServer(adminConfig(), n, nil, nil, nil)

	w := get(t, s.Handler(), "/directory")
	require.Equal(t, http.StatusOK, w.Code)

	var resp DirectoryResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 0, resp.Node)
	require.Len(t, resp.Nodes, 1)
	assert.Equal(t, n.Addr().String(), resp.Nodes[0].Addr)
}

func TestMembers(t *testing.T) {
	n := startNode(t, nil)

	t.Run("gossip disabled", func(t *testing.T) {
		s := NewServer(adminConfig(), n, nil, nil, nil)
		w := get(t, s.Handler(), "/members")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "GOSSIP_DISABLED")
	})

	t.Run("gossip view", func(t *testing.T) {
		view := staticMembers{{Name: gossip.NodeName(0), Index: 0, Addr: "127.0.0.1:7000", Healthy: true}}
		s := NewServer(adminConfig(), n, view, nil, nil)
		w := get(t, s.Handler(), "/members")
		require.Equal(t, http.StatusOK, w.Code)

		var got []gossip.Member
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, []gossip.Member(view), got)
	})
}

func TestValueDump(t *testing.T) {
	n := startNode(t, nil)
	n.Store().Put(model.NewKey("greeting", 0), model.StringValue("hi"))
	s := NewServer(adminConfig(), n, nil, nil, nil)

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/kv/0/greeting", http.StatusOK, `"hex":"6869"`},
		{"/kv/0/absent", http.StatusNotFound, "KEY_NOT_FOUND"},
		{"/kv/x/greeting", http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(t, s.Handler(), tt.path)
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.NewMetrics(0)
	n := startNode(t, m)
	s := NewServer(adminConfig(), n, nil, m, nil)

	get(t, s.Handler(), "/health")
	w := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "framekv_network_directory_size")
	assert.Contains(t, body, `route="/health"`)
}

func TestRateLimitedAdmin(t *testing.T) {
	cfg := adminConfig()
	cfg.RateLimit = true
	cfg.RequestsPerSecond = 0.001
	cfg.BurstSize = 1
	s := NewServer(cfg, startNode(t, nil), nil, nil, nil)

	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/health").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, s.Handler(), "/health").Code)
}

func TestStartAndShutdown(t *testing.T) {
	s := NewServer(adminConfig(), startNode(t, nil), nil, nil, nil)
	require.NoError(t, s.Start())

	port := s.Addr().(*net.TCPAddr).Port
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "healthy"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}
