// Package gossip runs an optional memberlist cluster next to the framekv
// network. It reports which nodes are alive; it never changes the directory.
package gossip

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/devrev/framekv/internal/metrics"
	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

// Config holds gossip protocol configuration
type Config struct {
	BindAddr       string
	BindPort       int
	Seeds          []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// Meta is the node metadata every member advertises.
type Meta struct {
	Index int    `json:"index"`
	Addr  string `json:"addr"`
}

// Member is one entry of the gossip view.
type Member struct {
	Name       string `json:"name"`
	Index      int    `json:"index"`
	Addr       string `json:"addr"`
	GossipAddr string `json:"gossip_addr"`
	Healthy    bool   `json:"healthy"`
}

// Service manages gossip membership for one node
type Service struct {
	memberlist atomic.Pointer[memberlist.Memberlist]
	meta       []byte
	alive      atomic.Int64
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NodeName is the memberlist name of node index.
func NodeName(index int) string {
	return fmt.Sprintf("framekv-%d", index)
}

// NewService starts gossiping as node meta.Index and joins the seeds.
// Unreachable seeds are logged, not fatal.
func NewService(cfg Config, meta Meta, m *metrics.Metrics, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode node meta: %w", err)
	}
	s := &Service{
		meta:    data,
		metrics: m,
		logger:  logger,
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = NodeName(meta.Index)
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	mlConfig.Delegate = s
	mlConfig.Events = &eventDelegate{service: s}
	mlConfig.Logger = zap.NewStdLog(logger.Named("memberlist"))

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	s.memberlist.Store(ml)

	if len(cfg.Seeds) > 0 {
		if _, err := ml.Join(cfg.Seeds); err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Strings("seeds", cfg.Seeds), zap.Error(err))
		}
	}

	return s, nil
}

// Addr returns the host:port this node gossips on.
func (s *Service) Addr() string {
	return s.memberlist.Load().LocalNode().Address()
}

// Members returns the live members ordered by node index.
func (s *Service) Members() []Member {
	nodes := s.memberlist.Load().Members()
	out := make([]Member, 0, len(nodes))
	for _, n := range nodes {
		member := Member{
			Name:       n.Name,
			Index:      -1,
			GossipAddr: n.Address(),
			Healthy:    n.State == memberlist.StateAlive,
		}
		var meta Meta
		if err := json.Unmarshal(n.Meta, &meta); err == nil {
			member.Index = meta.Index
			member.Addr = meta.Addr
		}
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// NumMembers returns the size of the gossip view.
func (s *Service) NumMembers() int {
	return s.memberlist.Load().NumMembers()
}

// Shutdown leaves the cluster and stops gossiping.
func (s *Service) Shutdown(timeout time.Duration) error {
	ml := s.memberlist.Load()
	if err := ml.Leave(timeout); err != nil {
		s.logger.Warn("Failed to leave gossip cluster", zap.Error(err))
	}
	return ml.Shutdown()
}

// NodeMeta implements memberlist.Delegate
func (s *Service) NodeMeta(limit int) []byte {
	if len(s.meta) > limit {
		return nil
	}
	return s.meta
}

// NotifyMsg implements memberlist.Delegate
func (s *Service) NotifyMsg([]byte) {}

// GetBroadcasts implements memberlist.Delegate
func (s *Service) GetBroadcasts(overhead, limit int) [][]byte { return nil }

// LocalState implements memberlist.Delegate
func (s *Service) LocalState(join bool) []byte { return nil }

// MergeRemoteState implements memberlist.Delegate
func (s *Service) MergeRemoteState(buf []byte, join bool) {}

// eventDelegate handles memberlist events
type eventDelegate struct {
	service *Service
}

// record runs under memberlist's node lock, so it must not call back into
// the memberlist.
func (d *eventDelegate) record(event string, delta int64) {
	members := d.service.alive.Add(delta)
	d.service.metrics.UpdateGossipStats(event, int(members))
}

// NotifyJoin is called when a node joins
func (d *eventDelegate) NotifyJoin(node *memberlist.Node) {
	d.service.logger.Info("Node joined",
		zap.String("name", node.Name),
		zap.String("addr", node.Address()))
	d.record("join", 1)
}

// NotifyLeave is called when a node leaves
func (d *eventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.logger.Info("Node left",
		zap.String("name", node.Name))
	d.record("leave", -1)
}

// NotifyUpdate is called when a node is updated
func (d *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.service.logger.Debug("Node updated",
		zap.String("name", node.Name))
	d.record("update", 0)
}
