package network

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	kverrors "github.com/devrev/framekv/internal/errors"
	"github.com/devrev/framekv/internal/model"
	"github.com/devrev/framekv/internal/protocol"
	"go.uber.org/zap"
)

const unboundPeer = -1

type connState int32

const (
	connOpen connState = iota
	connClosed
)

// result is what a pending request receives: a value or an error.
type result struct {
	value model.Value
	err   error
}

// Connection is one TCP stream between two nodes.
//
// A single handler goroutine reads frames in arrival order. Writes are
// serialized by sendMu so prefix and body of two frames never interleave.
// Requests are matched to their REPLY by request id, which lets a slow
// WAITANDGET complete after later messages on the same stream.
type Connection struct {
	owner  *Network
	conn   net.Conn
	reader *bufio.Reader
	remote string

	peer  atomic.Int64
	state atomic.Int32

	sendMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan result
	nextID    atomic.Uint64

	// ctx lives as long as the connection; async waits are bound to it.
	ctx    context.Context
	cancel context.CancelFunc
	waits  sync.WaitGroup

	closeOnce sync.Once
	done      chan struct{}
	logger    *zap.Logger
}

func newConnection(owner *Network, conn net.Conn, peer int) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		owner:   owner,
		conn:    conn,
		reader:  bufio.NewReader(conn),
		remote:  conn.RemoteAddr().String(),
		pending: make(map[uint64]chan result),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.peer.Store(int64(peer))
	c.logger = owner.logger.With(zap.String("remote", c.remote))
	return c
}

// Peer returns the node index this connection is bound to, or -1.
func (c *Connection) Peer() int { return int(c.peer.Load()) }

func (c *Connection) bind(node int) { c.peer.Store(int64(node)) }

// Closed reports whether the connection has been torn down.
func (c *Connection) Closed() bool { return connState(c.state.Load()) == connClosed }

// Done is closed once the handler has exited and every async wait finished.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Send encodes msg and writes it as one frame.
func (c *Connection) Send(msg protocol.Message) error {
	if c.Closed() {
		return kverrors.ConnectionClosed(c.remote)
	}
	body := protocol.Encode(msg)

	c.sendMu.Lock()
	err := protocol.WriteFrame(c.conn, body)
	c.sendMu.Unlock()

	if err != nil {
		c.Close()
		return fmt.Errorf("send %s to %s: %w", msg.Head().Kind, c.remote, err)
	}
	c.owner.metrics.RecordSent(msg.Head().Kind.String())
	return nil
}

// request sends the message built for a fresh request id and blocks until
// the matching REPLY, a correlated STATUS, connection teardown or ctx.
func (c *Connection) request(ctx context.Context, kind protocol.Kind, build func(protocol.Header) protocol.Message) (model.Value, error) {
	id := c.nextID.Add(1)
	slot := make(chan result, 1)

	c.pendingMu.Lock()
	if c.Closed() {
		c.pendingMu.Unlock()
		return model.Value{}, kverrors.ConnectionClosed(c.remote)
	}
	c.pending[id] = slot
	c.pendingMu.Unlock()

	start := time.Now()
	msg := build(protocol.Header{
		Kind:      kind,
		Sender:    c.owner.index,
		Target:    c.Peer(),
		RequestID: id,
	})
	if err := c.Send(msg); err != nil {
		c.abandon(id)
		return model.Value{}, err
	}

	select {
	case r := <-slot:
		c.owner.metrics.RecordRequest(kind.String(), time.Since(start).Seconds())
		return r.value, r.err
	case <-ctx.Done():
		c.abandon(id)
		return model.Value{}, ctx.Err()
	}
}

func (c *Connection) abandon(id uint64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// deliver hands r to the request waiting on id. It reports false when no
// request is waiting.
func (c *Connection) deliver(id uint64, r result) bool {
	c.pendingMu.Lock()
	slot, ok := c.pending[id]
	delete(c.pending, id)
	c.pendingMu.Unlock()

	if ok {
		slot <- r
	}
	return ok
}

// Close tears the connection down and fails every pending request. It is
// safe to call more than once and from any goroutine.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(connClosed))
		c.cancel()
		_ = c.conn.Close()

		c.pendingMu.Lock()
		pending := c.pending
		c.pending = make(map[uint64]chan result)
		c.pendingMu.Unlock()

		for _, slot := range pending {
			slot <- result{err: kverrors.ConnectionClosed(c.remote)}
		}
	})
}

// run is the handler loop. It returns when the peer disconnects, sends KILL
// or violates the protocol, or when the connection is closed locally.
func (c *Connection) run() {
	defer func() {
		c.Close()
		c.waits.Wait()
		c.owner.forget(c)
		close(c.done)
	}()

	for {
		body, err := protocol.ReadFrame(c.reader, c.owner.cfg.MaxFrameSize)
		if err != nil {
			c.readFailed(err)
			return
		}

		msg, err := protocol.Decode(body)
		if err != nil {
			c.logger.Warn("Dropping connection after malformed message", zap.Error(err))
			c.owner.metrics.RecordConnectionError("malformed")
			return
		}
		c.owner.metrics.RecordReceived(msg.Head().Kind.String())

		if stop := c.dispatch(msg); stop {
			return
		}
	}
}

func (c *Connection) readFailed(err error) {
	switch {
	case c.Closed():
		// closed locally; nothing to report
	case stderrors.Is(err, io.EOF):
		c.logger.Debug("Peer closed connection", zap.Int("peer", c.Peer()))
	case kverrors.HasCode(err, kverrors.ErrCodeProtocolViolation):
		c.logger.Warn("Dropping connection after framing error", zap.Error(err))
		c.owner.metrics.RecordConnectionError("framing")
	default:
		c.logger.Warn("Connection read failed", zap.Error(err))
		c.owner.metrics.RecordConnectionError("io")
	}
}

// dispatch handles one inbound message. It reports true when the loop must
// stop.
func (c *Connection) dispatch(msg protocol.Message) bool {
	st := c.owner.store

	switch m := msg.(type) {
	case *protocol.Put:
		st.Put(m.Key, m.Value)

	case *protocol.Get:
		v, err := st.Get(m.Key)
		if err != nil {
			c.reply(c.status(m.Header, err.Error()))
			return false
		}
		c.reply(&protocol.Reply{Header: c.answer(m.Header, protocol.KindReply), Value: v})

	case *protocol.WaitAndGet:
		c.waits.Add(1)
		go func() {
			defer c.waits.Done()
			v, err := st.WaitAndGet(c.ctx, m.Key)
			if err != nil {
				return
			}
			c.reply(&protocol.Reply{Header: c.answer(m.Header, protocol.KindReply), Value: v})
		}()

	case *protocol.Reply:
		if !c.deliver(m.RequestID, result{value: m.Value}) {
			c.logger.Debug("Dropping reply without a waiting request", zap.Uint64("request_id", m.RequestID))
		}

	case *protocol.Status:
		if m.RequestID != 0 && c.deliver(m.RequestID, result{err: kverrors.RemoteFailure(m.Sender, m.Text)}) {
			return false
		}
		c.logger.Info("Status from peer", zap.Int("peer", m.Sender), zap.String("text", m.Text))

	case *protocol.Register:
		c.owner.handleRegister(c, m)

	case *protocol.Directory:
		c.owner.handleDirectory(m)

	case *protocol.Kill:
		c.logger.Info("Peer requested shutdown of connection", zap.Int("peer", m.Sender))
		return true
	}
	return false
}

func (c *Connection) answer(req protocol.Header, kind protocol.Kind) protocol.Header {
	return protocol.Header{Kind: kind, Sender: c.owner.index, Target: req.Sender, RequestID: req.RequestID}
}

func (c *Connection) status(req protocol.Header, text string) *protocol.Status {
	return &protocol.Status{Header: c.answer(req, protocol.KindStatus), Text: text}
}

func (c *Connection) reply(msg protocol.Message) {
	if err := c.Send(msg); err != nil && !c.Closed() {
		c.logger.Warn("Failed to answer request",
			zap.Uint64("request_id", msg.Head().RequestID),
			zap.Error(err))
	}
}
