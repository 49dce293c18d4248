package model

import (
	"fmt"
	"net"
	"strconv"

	"github.com/devrev/framekv/internal/codec"
	kverrors "github.com/devrev/framekv/internal/errors"
)

// AddressSize is the wire size of an Address: 4 IP bytes and a 2-byte port.
const AddressSize = 6

// Address identifies a node endpoint by IPv4 address and port.
type Address struct {
	ip   [4]byte
	port uint16
	text string
}

// NewAddress builds an Address from raw IPv4 bytes and a port.
func NewAddress(ip [4]byte, port uint16) Address {
	return Address{
		ip:   ip,
		port: port,
		text: net.JoinHostPort(net.IP(ip[:]).String(), strconv.Itoa(int(port))),
	}
}

// ParseAddress parses "a.b.c.d:port". Host names are not resolved.
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, kverrors.InvalidArgument(fmt.Sprintf("invalid address %q", s), err)
	}
	if host == "" || host == "localhost" {
		host = "127.0.0.1"
	}
	ip := net.ParseIP(host).To4()
	if ip == nil {
		return Address{}, kverrors.InvalidArgument(fmt.Sprintf("address %q is not an IPv4 endpoint", s), nil)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, kverrors.InvalidArgument(fmt.Sprintf("invalid port in %q", s), err)
	}
	var raw [4]byte
	copy(raw[:], ip)
	return NewAddress(raw, uint16(port)), nil
}

// AddressFromNet converts a TCP listener/peer address.
func AddressFromNet(a net.Addr) (Address, error) {
	tcp, ok := a.(*net.TCPAddr)
	if !ok {
		return ParseAddress(a.String())
	}
	ip := tcp.IP.To4()
	if ip == nil {
		return Address{}, kverrors.InvalidArgument(fmt.Sprintf("address %s is not IPv4", a), nil)
	}
	var raw [4]byte
	copy(raw[:], ip)
	return NewAddress(raw, uint16(tcp.Port)), nil
}

// IP returns a copy of the IPv4 bytes.
func (a Address) IP() [4]byte { return a.ip }

// Port returns the TCP port.
func (a Address) Port() uint16 { return a.port }

// IsZero reports whether the address was never set.
func (a Address) IsZero() bool { return a.ip == [4]byte{} && a.port == 0 }

// Equal compares IP bytes and port.
func (a Address) Equal(o Address) bool { return a.ip == o.ip && a.port == o.port }

// String returns the cached "ip:port" form.
func (a Address) String() string {
	if a.text == "" && !a.IsZero() {
		return NewAddress(a.ip, a.port).text
	}
	return a.text
}

// Bytes returns the 6-byte wire form.
func (a Address) Bytes() []byte {
	s := codec.NewSerializer()
	a.Encode(s)
	return s.Bytes()
}

// Encode writes the address as ip:4 + port:2.
func (a Address) Encode(s *codec.Serializer) {
	s.PutRaw(a.ip[:])
	s.PutUint16(a.port)
}

// DecodeAddress reads an address written by Encode.
func DecodeAddress(d *codec.Deserializer) Address {
	var ip [4]byte
	copy(ip[:], d.GetRaw(4))
	port := d.GetUint16()
	if d.Err() != nil {
		return Address{}
	}
	if ip == [4]byte{} && port == 0 {
		return Address{}
	}
	return NewAddress(ip, port)
}

// AddressFromBytes parses the 6-byte wire form.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != AddressSize {
		return Address{}, kverrors.OutOfBounds("address", len(b), AddressSize)
	}
	return DecodeAddress(codec.NewDeserializer(b)), nil
}
