package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for one node.
//
// Each node owns its registry so several nodes can live in one process, which
// is how the cluster tests run. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	// Network metrics
	MessagesSentTotal     *prometheus.CounterVec
	MessagesReceivedTotal *prometheus.CounterVec
	RequestDuration       *prometheus.HistogramVec
	ConnectionsActive     prometheus.Gauge
	ConnectionErrorsTotal *prometheus.CounterVec
	DirectorySize         prometheus.Gauge

	// Store metrics
	StoreOpsTotal *prometheus.CounterVec
	StoreMisses   prometheus.Counter
	StoreKeys     prometheus.Gauge
	StoreWaiters  prometheus.Gauge
	StoreBytesPut prometheus.Counter

	// Column metrics
	SegmentsAllocatedTotal prometheus.Counter

	// Gossip metrics
	GossipMembersTotal prometheus.Gauge
	GossipEventsTotal  *prometheus.CounterVec

	// Admin HTTP metrics
	HTTPRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates a registry for the given node index and registers every
// metric on it, plus the Go runtime and process collectors.
func NewMetrics(node int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	labels := prometheus.Labels{"node": strconv.Itoa(node)}
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		MessagesSentTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "framekv",
			Subsystem:   "network",
			Name:        "messages_sent_total",
			Help:        "Total number of messages sent, by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		MessagesReceivedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "framekv",
			Subsystem:   "network",
			Name:        "messages_received_total",
			Help:        "Total number of messages received, by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "framekv",
			Subsystem:   "network",
			Name:        "request_duration_seconds",
			Help:        "Histogram of remote request round trips, by kind",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"kind"}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "framekv",
			Subsystem:   "network",
			Name:        "connections_active",
			Help:        "Number of open peer connections",
			ConstLabels: labels,
		}),
		ConnectionErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "framekv",
			Subsystem:   "network",
			Name:        "connection_errors_total",
			Help:        "Total number of connections closed by an error, by reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		DirectorySize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "framekv",
			Subsystem:   "network",
			Name:        "directory_size",
			Help:        "Number of populated slots in the address directory",
			ConstLabels: labels,
		}),

		StoreOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "framekv",
			Subsystem:   "store",
			Name:        "operations_total",
			Help:        "Total number of store operations, by operation",
			ConstLabels: labels,
		}, []string{"op"}),
		StoreMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "framekv",
			Subsystem:   "store",
			Name:        "misses_total",
			Help:        "Total number of gets on a missing key",
			ConstLabels: labels,
		}),
		StoreKeys: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "framekv",
			Subsystem:   "store",
			Name:        "keys",
			Help:        "Number of keys held by the local store",
			ConstLabels: labels,
		}),
		StoreWaiters: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "framekv",
			Subsystem:   "store",
			Name:        "waiters",
			Help:        "Number of callers blocked waiting for a key",
			ConstLabels: labels,
		}),
		StoreBytesPut: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "framekv",
			Subsystem:   "store",
			Name:        "put_bytes_total",
			Help:        "Total payload bytes written to the local store",
			ConstLabels: labels,
		}),

		SegmentsAllocatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "framekv",
			Subsystem:   "column",
			Name:        "segments_allocated_total",
			Help:        "Total number of column segments allocated by this node",
			ConstLabels: labels,
		}),

		GossipMembersTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "framekv",
			Subsystem:   "gossip",
			Name:        "members",
			Help:        "Number of members in the gossip view",
			ConstLabels: labels,
		}),
		GossipEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "framekv",
			Subsystem:   "gossip",
			Name:        "events_total",
			Help:        "Total number of membership events, by event",
			ConstLabels: labels,
		}, []string{"event"}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "framekv",
			Subsystem:   "admin",
			Name:        "http_requests_total",
			Help:        "Total number of admin HTTP requests",
			ConstLabels: labels,
		}, []string{"method", "route", "status"}),
	}
}

// RecordSent records an outbound message of the given kind.
func (m *Metrics) RecordSent(kind string) {
	if m == nil {
		return
	}
	m.MessagesSentTotal.WithLabelValues(kind).Inc()
}

// RecordReceived records an inbound message of the given kind.
func (m *Metrics) RecordReceived(kind string) {
	if m == nil {
		return
	}
	m.MessagesReceivedTotal.WithLabelValues(kind).Inc()
}

// RecordRequest records the round trip of a correlated request.
func (m *Metrics) RecordRequest(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(kind).Observe(seconds)
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

// RecordConnectionError counts a connection torn down for reason.
func (m *Metrics) RecordConnectionError(reason string) {
	if m == nil {
		return
	}
	m.ConnectionErrorsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) UpdateDirectorySize(n int) {
	if m == nil {
		return
	}
	m.DirectorySize.Set(float64(n))
}

// RecordStoreOp counts one store operation ("put", "get", "wait", "delete").
func (m *Metrics) RecordStoreOp(op string) {
	if m == nil {
		return
	}
	m.StoreOpsTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordStoreMiss() {
	if m == nil {
		return
	}
	m.StoreMisses.Inc()
}

func (m *Metrics) RecordStorePut(bytes int) {
	if m == nil {
		return
	}
	m.StoreOpsTotal.WithLabelValues("put").Inc()
	m.StoreBytesPut.Add(float64(bytes))
}

// UpdateStoreStats sets the key count and the number of blocked waiters.
func (m *Metrics) UpdateStoreStats(keys, waiters int) {
	if m == nil {
		return
	}
	m.StoreKeys.Set(float64(keys))
	m.StoreWaiters.Set(float64(waiters))
}

func (m *Metrics) RecordSegmentAllocated() {
	if m == nil {
		return
	}
	m.SegmentsAllocatedTotal.Inc()
}

// UpdateGossipStats records a membership event and the resulting view size.
func (m *Metrics) UpdateGossipStats(event string, members int) {
	if m == nil {
		return
	}
	m.GossipEventsTotal.WithLabelValues(event).Inc()
	m.GossipMembersTotal.Set(float64(members))
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
