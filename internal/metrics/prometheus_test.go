package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodesDoNotCollide(t *testing.T) {
	a := NewMetrics(0)
	b := NewMetrics(1)

	a.RecordSent("PUT")
	a.RecordSent("PUT")
	b.RecordSent("PUT")

	assert.Equal(t, 2.0, testutil.ToFloat64(a.MessagesSentTotal.WithLabelValues("PUT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.MessagesSentTotal.WithLabelValues("PUT")))
}

func TestRecorders(t *testing.T) {
	m := NewMetrics(3)

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.UpdateDirectorySize(4)
	m.RecordStorePut(10)
	m.RecordStorePut(5)
	m.RecordStoreOp("get")
	m.RecordStoreMiss()
	m.UpdateStoreStats(7, 2)
	m.RecordHTTPRequest("GET", "/health", 200)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsActive))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.DirectorySize))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StoreOpsTotal.WithLabelValues("put")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.StoreBytesPut))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreMisses))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.StoreKeys))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StoreWaiters))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/health", "200")))

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSent("GET")
		m.RecordReceived("GET")
		m.RecordRequest("GET", 0.1)
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.RecordConnectionError("eof")
		m.UpdateDirectorySize(1)
		m.RecordStoreOp("get")
		m.RecordStoreMiss()
		m.RecordStorePut(1)
		m.UpdateStoreStats(1, 1)
		m.RecordSegmentAllocated()
		m.UpdateGossipStats("join", 1)
		m.RecordHTTPRequest("GET", "/", 200)
	})
}
