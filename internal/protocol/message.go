// Package protocol defines the cluster's message kinds and their binary
// layout.
//
// A message body is a fixed header (kind:4, sender:8, target:8,
// request_id:8) followed by a kind-specific payload. Receivers read the kind
// tag first and switch on it to pick the payload decoder.
package protocol

import (
	"fmt"

	"github.com/devrev/framekv/internal/codec"
	kverrors "github.com/devrev/framekv/internal/errors"
	"github.com/devrev/framekv/internal/model"
)

// Kind is the message type tag.
type Kind uint32

const (
	KindPut Kind = iota + 1
	KindGet
	KindWaitAndGet
	KindReply
	KindRegister
	KindDirectory
	KindStatus
	KindKill
)

// HeaderSize is the encoded size of Header.
const HeaderSize = 4 + 8 + 8 + 8

func (k Kind) String() string {
	switch k {
	case KindPut:
		return "PUT"
	case KindGet:
		return "GET"
	case KindWaitAndGet:
		return "WAITANDGET"
	case KindReply:
		return "REPLY"
	case KindRegister:
		return "REGISTER"
	case KindDirectory:
		return "DIRECTORY"
	case KindStatus:
		return "STATUS"
	case KindKill:
		return "KILL"
	default:
		return fmt.Sprintf("Kind(%d)", uint32(k))
	}
}

// Header is shared by every message.
type Header struct {
	Kind      Kind
	Sender    int
	Target    int
	RequestID uint64
}

func (h Header) encode(s *codec.Serializer) {
	s.PutUint32(uint32(h.Kind))
	s.PutInt64(int64(h.Sender))
	s.PutInt64(int64(h.Target))
	s.PutUint64(h.RequestID)
}

func decodeHeader(d *codec.Deserializer) Header {
	return Header{
		Kind:      Kind(d.GetUint32()),
		Sender:    int(d.GetInt64()),
		Target:    int(d.GetInt64()),
		RequestID: d.GetUint64(),
	}
}

// Message is implemented by the eight concrete message types below.
type Message interface {
	// Head returns the message header.
	Head() Header
	encodePayload(s *codec.Serializer)
}

// Put stores Value under Key on the target node. No reply is sent.
type Put struct {
	Header
	Key   model.Key
	Value model.Value
}

// Get asks the target for the value under Key.
type Get struct {
	Header
	Key model.Key
}

// WaitAndGet asks the target for the value under Key, waiting until it exists.
type WaitAndGet struct {
	Header
	Key model.Key
}

// Reply answers a Get or WaitAndGet carrying the same request id.
type Reply struct {
	Header
	Value model.Value
}

// Register announces a node to the rendezvous node.
type Register struct {
	Header
	Node int
	Addr model.Address
}

// Directory carries the full address table, indexed by node.
type Directory struct {
	Header
	Addrs []model.Address
}

// Status carries free text. A status whose request id matches a pending
// request reports that request's failure.
type Status struct {
	Header
	Text string
}

// Kill tells the receiver to close the connection.
type Kill struct {
	Header
}

func (m *Put) Head() Header        { return m.Header }
func (m *Get) Head() Header        { return m.Header }
func (m *WaitAndGet) Head() Header { return m.Header }
func (m *Reply) Head() Header      { return m.Header }
func (m *Register) Head() Header   { return m.Header }
func (m *Directory) Head() Header  { return m.Header }
func (m *Status) Head() Header     { return m.Header }
func (m *Kill) Head() Header       { return m.Header }

func (m *Put) encodePayload(s *codec.Serializer) {
	m.Key.Encode(s)
	m.Value.Encode(s)
}

func (m *Get) encodePayload(s *codec.Serializer)        { m.Key.Encode(s) }
func (m *WaitAndGet) encodePayload(s *codec.Serializer) { m.Key.Encode(s) }
func (m *Reply) encodePayload(s *codec.Serializer)      { m.Value.Encode(s) }

func (m *Register) encodePayload(s *codec.Serializer) {
	s.PutInt64(int64(m.Node))
	m.Addr.Encode(s)
}

func (m *Directory) encodePayload(s *codec.Serializer) {
	s.PutUint64(uint64(len(m.Addrs)))
	for _, a := range m.Addrs {
		a.Encode(s)
	}
}

func (m *Status) encodePayload(s *codec.Serializer) { s.PutString(m.Text) }
func (m *Kill) encodePayload(*codec.Serializer)     {}

// Encode serializes a message into a standalone body.
func Encode(m Message) []byte {
	s := codec.NewSerializer()
	m.Head().encode(s)
	m.encodePayload(s)
	return s.Bytes()
}

// Decode parses a body produced by Encode. The body must be consumed
// exactly; unknown kinds and trailing bytes are protocol violations.
func Decode(body []byte) (Message, error) {
	d := codec.NewDeserializer(body)
	h := decodeHeader(d)
	if err := d.Err(); err != nil {
		return nil, kverrors.ProtocolViolation("truncated message header", err)
	}

	var m Message
	switch h.Kind {
	case KindPut:
		key := model.DecodeKey(d)
		m = &Put{Header: h, Key: key, Value: model.DecodeValue(d)}
	case KindGet:
		m = &Get{Header: h, Key: model.DecodeKey(d)}
	case KindWaitAndGet:
		m = &WaitAndGet{Header: h, Key: model.DecodeKey(d)}
	case KindReply:
		m = &Reply{Header: h, Value: model.DecodeValue(d)}
	case KindRegister:
		node := int(d.GetInt64())
		m = &Register{Header: h, Node: node, Addr: model.DecodeAddress(d)}
	case KindDirectory:
		m = decodeDirectory(h, d)
	case KindStatus:
		m = &Status{Header: h, Text: d.GetString()}
	case KindKill:
		m = &Kill{Header: h}
	default:
		return nil, kverrors.UnknownMessageKind(uint32(h.Kind))
	}

	if err := d.Err(); err != nil {
		return nil, kverrors.ProtocolViolation(fmt.Sprintf("truncated %s payload", h.Kind), err)
	}
	if d.Remaining() != 0 {
		return nil, kverrors.ProtocolViolation(
			fmt.Sprintf("%d trailing bytes after %s payload", d.Remaining(), h.Kind), nil)
	}
	return m, nil
}

func decodeDirectory(h Header, d *codec.Deserializer) *Directory {
	count := d.GetUint64()
	if count > uint64(d.Remaining()/model.AddressSize) {
		// force the out-of-bounds error instead of allocating a bogus table
		d.GetRaw(d.Remaining() + 1)
		return &Directory{Header: h}
	}
	addrs := make([]model.Address, count)
	for i := range addrs {
		addrs[i] = model.DecodeAddress(d)
	}
	return &Directory{Header: h, Addrs: addrs}
}
