// Package network turns a set of processes into an addressable cluster.
//
// Node 0 is the rendezvous node. Every other node dials it and registers its
// index and listening address; the rendezvous answers each registration by
// broadcasting the full address directory to every registered node. Once a
// node has the directory it can reach any peer, and connections to peers are
// opened on first use.
package network

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	kverrors "github.com/devrev/framekv/internal/errors"
	"github.com/devrev/framekv/internal/metrics"
	"github.com/devrev/framekv/internal/model"
	"github.com/devrev/framekv/internal/protocol"
	"github.com/devrev/framekv/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// RendezvousIndex is the node every other node registers with.
const RendezvousIndex = 0

// State is the membership state of a node.
type State int32

const (
	StateRegistering State = iota
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRegistering:
		return "registering"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config holds network configuration
type Config struct {
	Index           int
	ListenAddr      string
	AdvertiseAddr   string
	RendezvousAddr  string
	DialTimeout     time.Duration
	RegisterRetries int
	RegisterBackoff time.Duration
	MaxFrameSize    int
}

func (c *Config) setDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RegisterRetries <= 0 {
		c.RegisterRetries = 10
	}
	if c.RegisterBackoff <= 0 {
		c.RegisterBackoff = 500 * time.Millisecond
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = protocol.MaxFrameSize
	}
}

// Network is one node's view of the cluster.
type Network struct {
	cfg     Config
	index   int
	store   *store.Store
	metrics *metrics.Metrics
	logger  *zap.Logger

	listener net.Listener
	addr     model.Address
	state    atomic.Int32

	mu         sync.Mutex
	dir        []model.Address
	dirChanged chan struct{}
	peers      map[int]*Connection
	conns      map[*Connection]struct{}

	// broadcastMu orders directory snapshots and their sends, so every
	// connection sees directories in the order they were taken.
	broadcastMu sync.Mutex

	dialMu   sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewNetwork creates a node bound to the local store. It does not touch the
// network until Start.
func NewNetwork(cfg Config, st *store.Store, m *metrics.Metrics, logger *zap.Logger) (*Network, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if st == nil {
		return nil, kverrors.InvalidArgument("network requires a store", nil)
	}
	if cfg.Index < 0 {
		return nil, kverrors.InvalidArgument(fmt.Sprintf("node index %d is negative", cfg.Index), nil)
	}
	if cfg.Index != RendezvousIndex && cfg.RendezvousAddr == "" {
		return nil, kverrors.InvalidArgument("non-rendezvous node needs a rendezvous address", nil)
	}
	cfg.setDefaults()

	return &Network{
		cfg:        cfg,
		index:      cfg.Index,
		store:      st,
		metrics:    m,
		logger:     logger.With(zap.Int("node", cfg.Index)),
		dirChanged: make(chan struct{}),
		peers:      make(map[int]*Connection),
		conns:      make(map[*Connection]struct{}),
	}, nil
}

// Index returns this node's index.
func (n *Network) Index() int { return n.index }

// Addr returns the advertised listening address. It is zero before Start.
func (n *Network) Addr() model.Address { return n.addr }

// State returns the current membership state.
func (n *Network) State() State { return State(n.state.Load()) }

// Store returns the local store.
func (n *Network) Store() *store.Store { return n.store }

// Start listens, then either becomes active (rendezvous) or registers with
// the rendezvous node. A registering node turns active when a directory
// containing its own slot arrives; see WaitActive.
func (n *Network) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", n.cfg.ListenAddr, err)
	}

	addr, err := n.advertised(ln.Addr())
	if err != nil {
		_ = ln.Close()
		return err
	}
	n.listener = ln
	n.addr = addr

	n.wg.Add(1)
	go n.acceptLoop()

	n.logger.Info("Node listening", zap.String("addr", addr.String()))

	if n.index == RendezvousIndex {
		n.mu.Lock()
		n.setSlotLocked(RendezvousIndex, addr)
		n.mu.Unlock()
		n.state.Store(int32(StateActive))
		return nil
	}

	n.state.Store(int32(StateRegistering))
	if err := n.register(ctx); err != nil {
		n.Stop()
		return err
	}
	return nil
}

func (n *Network) advertised(bound net.Addr) (model.Address, error) {
	if n.cfg.AdvertiseAddr != "" {
		return model.ParseAddress(n.cfg.AdvertiseAddr)
	}
	addr, err := model.AddressFromNet(bound)
	if err != nil {
		return model.Address{}, err
	}
	if addr.IP() == [4]byte{} {
		// listening on every interface; peers reach us on loopback
		addr = model.NewAddress([4]byte{127, 0, 0, 1}, addr.Port())
	}
	return addr, nil
}

// register dials the rendezvous node with bounded, rate-paced retries and
// sends REGISTER over the new connection.
func (n *Network) register(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(n.cfg.RegisterBackoff), 1)
	dialer := net.Dialer{Timeout: n.cfg.DialTimeout}

	var lastErr error
	for attempt := 1; attempt <= n.cfg.RegisterRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		raw, err := dialer.DialContext(ctx, "tcp", n.cfg.RendezvousAddr)
		if err != nil {
			lastErr = err
			n.logger.Debug("Rendezvous not reachable yet",
				zap.String("rendezvous", n.cfg.RendezvousAddr),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		c, err := n.adopt(raw, RendezvousIndex)
		if err != nil {
			return err
		}
		msg := &protocol.Register{
			Header: protocol.Header{Kind: protocol.KindRegister, Sender: n.index, Target: RendezvousIndex},
			Node:   n.index,
			Addr:   n.addr,
		}
		if err := c.Send(msg); err != nil {
			lastErr = err
			continue
		}

		n.logger.Info("Registered with rendezvous",
			zap.String("rendezvous", n.cfg.RendezvousAddr),
			zap.Int("attempts", attempt))
		return nil
	}

	return kverrors.RegistrationFailed(n.cfg.RendezvousAddr, n.cfg.RegisterRetries, lastErr)
}

func (n *Network) acceptLoop() {
	defer n.wg.Done()

	for {
		raw, err := n.listener.Accept()
		if err != nil {
			if stderrors.Is(err, net.ErrClosed) || n.State() == StateStopped {
				return
			}
			n.logger.Warn("Accept failed", zap.Error(err))
			continue
		}
		if _, err := n.adopt(raw, unboundPeer); err != nil {
			n.logger.Debug("Rejected inbound connection", zap.Error(err))
		}
	}
}

// adopt wraps raw in a Connection, tracks it and starts its handler. Bound
// connections (peer >= 0) become the route to that peer.
func (n *Network) adopt(raw net.Conn, peer int) (*Connection, error) {
	c := newConnection(n, raw, peer)

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.State() == StateStopped {
		c.Close()
		return nil, kverrors.ConnectionClosed(c.remote)
	}
	n.conns[c] = struct{}{}
	if peer >= 0 {
		n.peers[peer] = c
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		c.run()
	}()

	n.metrics.ConnectionOpened()
	return c, nil
}

// forget is called by a connection's handler on exit.
func (n *Network) forget(c *Connection) {
	n.mu.Lock()
	delete(n.conns, c)
	if p := c.Peer(); p >= 0 && n.peers[p] == c {
		delete(n.peers, p)
	}
	n.mu.Unlock()

	n.metrics.ConnectionClosed()
}

// handleRegister runs on the rendezvous node. It binds the registering
// connection to the announced index and broadcasts the new directory.
func (n *Network) handleRegister(c *Connection, m *protocol.Register) {
	if n.index != RendezvousIndex {
		n.logger.Warn("Ignoring registration on non-rendezvous node", zap.Int("from", m.Node))
		return
	}
	if m.Node <= RendezvousIndex || m.Addr.IsZero() {
		n.logger.Warn("Ignoring invalid registration",
			zap.Int("from", m.Node),
			zap.String("addr", m.Addr.String()))
		return
	}

	c.bind(m.Node)

	n.broadcastMu.Lock()
	defer n.broadcastMu.Unlock()

	n.mu.Lock()
	n.peers[m.Node] = c
	n.setSlotLocked(m.Node, m.Addr)
	snapshot := append([]model.Address(nil), n.dir...)
	targets := make(map[int]*Connection, len(n.peers))
	for node, pc := range n.peers {
		targets[node] = pc
	}
	n.mu.Unlock()

	n.logger.Info("Node registered",
		zap.Int("registered", m.Node),
		zap.String("addr", m.Addr.String()))

	n.broadcastDirectory(snapshot, targets)
}

// broadcastDirectory sends the directory to every registered node
// concurrently and returns once every send finished. Failures are logged;
// a dead peer must not block the rest. Callers hold broadcastMu.
func (n *Network) broadcastDirectory(addrs []model.Address, targets map[int]*Connection) {
	var g errgroup.Group
	for node, c := range targets {
		node, c := node, c
		g.Go(func() error {
			err := c.Send(&protocol.Directory{
				Header: protocol.Header{Kind: protocol.KindDirectory, Sender: n.index, Target: node},
				Addrs:  addrs,
			})
			if err != nil {
				n.logger.Warn("Directory broadcast failed", zap.Int("peer", node), zap.Error(err))
			}
			return err
		})
	}
	_ = g.Wait()
}

// handleDirectory replaces the local directory wholesale.
func (n *Network) handleDirectory(m *protocol.Directory) {
	if n.index == RendezvousIndex {
		n.logger.Warn("Ignoring directory on rendezvous node", zap.Int("from", m.Sender))
		return
	}

	n.mu.Lock()
	n.dir = append([]model.Address(nil), m.Addrs...)
	self := n.index < len(n.dir) && n.dir[n.index].Equal(n.addr)
	activated := self && n.state.CompareAndSwap(int32(StateRegistering), int32(StateActive))
	n.notifyLocked()
	size := populated(n.dir)
	n.mu.Unlock()

	n.logger.Debug("Directory updated", zap.Int("size", size))
	if activated {
		n.logger.Info("Node active", zap.Int("directory_size", size))
	}
}

func (n *Network) setSlotLocked(node int, addr model.Address) {
	for len(n.dir) <= node {
		n.dir = append(n.dir, model.Address{})
	}
	n.dir[node] = addr
	n.notifyLocked()
}

func (n *Network) notifyLocked() {
	close(n.dirChanged)
	n.dirChanged = make(chan struct{})
	n.metrics.UpdateDirectorySize(populated(n.dir))
}

func populated(addrs []model.Address) int {
	count := 0
	for _, a := range addrs {
		if !a.IsZero() {
			count++
		}
	}
	return count
}

// Directory returns a copy of the address table, indexed by node. Unknown
// slots hold the zero Address.
func (n *Network) Directory() []model.Address {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.Address(nil), n.dir...)
}

// WaitForDirectory blocks until the directory holds at least size addresses.
func (n *Network) WaitForDirectory(ctx context.Context, size int) error {
	return n.waitFor(ctx, func() bool { return populated(n.dir) >= size })
}

// WaitActive blocks until the node has seen itself in the directory.
func (n *Network) WaitActive(ctx context.Context) error {
	return n.waitFor(ctx, func() bool { return n.State() == StateActive })
}

func (n *Network) waitFor(ctx context.Context, cond func() bool) error {
	for {
		n.mu.Lock()
		ok := cond()
		changed := n.dirChanged
		n.mu.Unlock()

		if ok {
			return nil
		}
		if n.State() == StateStopped {
			return kverrors.ConnectionClosed(n.addr.String())
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// peer returns an open connection to node, dialing it if needed.
func (n *Network) peer(ctx context.Context, node int) (*Connection, error) {
	if c := n.openPeer(node); c != nil {
		return c, nil
	}

	n.dialMu.Lock()
	defer n.dialMu.Unlock()

	// another caller may have dialed while we waited
	if c := n.openPeer(node); c != nil {
		return c, nil
	}

	n.mu.Lock()
	var addr model.Address
	if node >= 0 && node < len(n.dir) {
		addr = n.dir[node]
	}
	stopped := n.State() == StateStopped
	n.mu.Unlock()

	if stopped {
		return nil, kverrors.ConnectionClosed(fmt.Sprintf("node %d", node))
	}
	if addr.IsZero() {
		return nil, kverrors.NodeUnknown(node)
	}

	dialer := net.Dialer{Timeout: n.cfg.DialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("dial node %d at %s: %w", node, addr, err)
	}
	n.logger.Debug("Opened connection to peer", zap.Int("peer", node), zap.String("addr", addr.String()))
	return n.adopt(raw, node)
}

func (n *Network) openPeer(node int) *Connection {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.peers[node]; ok && !c.Closed() {
		return c
	}
	return nil
}

// PutAtNode stores value under key on node. A put to this node goes straight
// to the local store; a remote put returns once the frame is written.
func (n *Network) PutAtNode(ctx context.Context, node int, key model.Key, value model.Value) error {
	if node == n.index {
		n.store.Put(key, value)
		return nil
	}
	c, err := n.peer(ctx, node)
	if err != nil {
		return err
	}
	return c.Send(&protocol.Put{
		Header: protocol.Header{Kind: protocol.KindPut, Sender: n.index, Target: node},
		Key:    key,
		Value:  value,
	})
}

// GetFromNode fetches key from node. A missing key yields a KeyNotFound
// error whether the node is local or remote.
func (n *Network) GetFromNode(ctx context.Context, node int, key model.Key) (model.Value, error) {
	if node == n.index {
		return n.store.Get(key)
	}
	c, err := n.peer(ctx, node)
	if err != nil {
		return model.Value{}, err
	}
	v, err := c.request(ctx, protocol.KindGet, func(h protocol.Header) protocol.Message {
		return &protocol.Get{Header: h, Key: key}
	})
	if kverrors.HasCode(err, kverrors.ErrCodeRemoteFailure) {
		return model.Value{}, kverrors.KeyNotFound(key.Name, key.Home)
	}
	return v, err
}

// WaitAndGetFromNode fetches key from node, blocking until it exists. Only
// ctx and connection teardown end the wait early.
func (n *Network) WaitAndGetFromNode(ctx context.Context, node int, key model.Key) (model.Value, error) {
	if node == n.index {
		return n.store.WaitAndGet(ctx, key)
	}
	c, err := n.peer(ctx, node)
	if err != nil {
		return model.Value{}, err
	}
	return c.request(ctx, protocol.KindWaitAndGet, func(h protocol.Header) protocol.Message {
		return &protocol.WaitAndGet{Header: h, Key: key}
	})
}

// Connections returns the number of live connections.
func (n *Network) Connections() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns)
}

// Stop sends KILL on every connection, closes the listener and waits for
// every handler to exit. It is idempotent.
func (n *Network) Stop() {
	n.stopOnce.Do(func() {
		n.mu.Lock()
		n.state.Store(int32(StateStopped))
		n.notifyLocked()
		conns := make([]*Connection, 0, len(n.conns))
		for c := range n.conns {
			conns = append(conns, c)
		}
		n.mu.Unlock()

		if n.listener != nil {
			_ = n.listener.Close()
		}

		var g errgroup.Group
		for _, c := range conns {
			c := c
			g.Go(func() error {
				_ = c.Send(&protocol.Kill{Header: protocol.Header{
					Kind: protocol.KindKill, Sender: n.index, Target: c.Peer(),
				}})
				c.Close()
				return nil
			})
		}
		_ = g.Wait()

		n.wg.Wait()
		n.logger.Info("Node stopped", zap.Int("connections_closed", len(conns)))
	})
}
