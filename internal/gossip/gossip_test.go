package gossip

import (
	"testing"
	"time"

	"github.com/devrev/framekv/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(seeds ...string) Config {
	return Config{
		BindAddr:       "127.0.0.1",
		BindPort:       0,
		Seeds:          seeds,
		GossipInterval: 20 * time.Millisecond,
		ProbeInterval:  100 * time.Millisecond,
		ProbeTimeout:   50 * time.Millisecond,
	}
}

func TestSingleNode(t *testing.T) {
	m := metrics.NewMetrics(0)
	s, err := NewService(testConfig(), Meta{Index: 0, Addr: "127.0.0.1:7000"}, m, zap.NewNop())
	require.NoError(t, err)
	defer s.Shutdown(time.Second)

	members := s.Members()
	require.Len(t, members, 1)
	assert.Equal(t, NodeName(0), members[0].Name)
	assert.Equal(t, 0, members[0].Index)
	assert.Equal(t, "127.0.0.1:7000", members[0].Addr)
	assert.True(t, members[0].Healthy)
	assert.Equal(t, s.Addr(), members[0].GossipAddr)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.GossipMembersTotal))
}

func TestJoin(t *testing.T) {
	seed, err := NewService(testConfig(), Meta{Index: 0, Addr: "127.0.0.1:7000"}, nil, nil)
	require.NoError(t, err)
	defer seed.Shutdown(time.Second)

	peer, err := NewService(testConfig(seed.Addr()), Meta{Index: 1, Addr: "127.0.0.1:7001"}, nil, nil)
	require.NoError(t, err)
	defer peer.Shutdown(time.Second)

	assert.Eventually(t, func() bool { return seed.NumMembers() == 2 }, 5*time.Second, 20*time.Millisecond)

	members := peer.Members()
	require.Len(t, members, 2)
	assert.Equal(t, 0, members[0].Index)
	assert.Equal(t, 1, members[1].Index)
	assert.Equal(t, "127.0.0.1:7001", members[1].Addr)
}

func TestUnreachableSeed(t *testing.T) {
	// the service still starts, alone
	s, err := NewService(testConfig("127.0.0.1:1"), Meta{Index: 2}, nil, nil)
	require.NoError(t, err)
	defer s.Shutdown(time.Second)

	assert.Equal(t, 1, s.NumMembers())
}
