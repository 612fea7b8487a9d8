package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

const (
	IPv4 = 4
	IPv6 = 6
)

var ErrShortBuffer = errors.New("short buffer")

// Endpoint is an IP address and port as carried in announcements.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

func EndpointFromAddrPort(ap netip.AddrPort) Endpoint {
	return Endpoint{Addr: ap.Addr().Unmap(), Port: ap.Port()}
}

func ParseEndpoint(s string) (Endpoint, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Endpoint{}, err
	}
	return EndpointFromAddrPort(ap), nil
}

func (e Endpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(e.Addr, e.Port)
}

func (e Endpoint) String() string {
	return e.AddrPort().String()
}

func (e Endpoint) IsValid() bool {
	return e.Addr.IsValid()
}

func (e Endpoint) Version() byte {
	if e.Addr.Is4() || e.Addr.Is4In6() {
		return IPv4
	}
	return IPv6
}

// EncodedLen is the wire size of e: version, address, port.
func (e Endpoint) EncodedLen() int {
	if e.Version() == IPv4 {
		return 1 + 4 + 2
	}
	return 1 + 16 + 2
}

func AppendEndpoint(b []byte, e Endpoint) ([]byte, error) {
	if !e.Addr.IsValid() {
		return nil, fmt.Errorf("invalid endpoint address")
	}
	if e.Version() == IPv4 {
		ip := e.Addr.Unmap().As4()
		b = append(b, IPv4)
		b = append(b, ip[:]...)
	} else {
		ip := e.Addr.As16()
		b = append(b, IPv6)
		b = append(b, ip[:]...)
	}
	return binary.BigEndian.AppendUint16(b, e.Port), nil
}

// DecodeEndpoint parses an endpoint from the front of data and returns the
// number of bytes consumed.
func DecodeEndpoint(data []byte) (Endpoint, int, error) {
	if len(data) < 1 {
		return Endpoint{}, 0, ErrShortBuffer
	}
	var ipLen int
	switch data[0] {
	case IPv4:
		ipLen = 4
	case IPv6:
		ipLen = 16
	default:
		return Endpoint{}, 0, fmt.Errorf("bad ip version %d", data[0])
	}
	need := 1 + ipLen + 2
	if len(data) < need {
		return Endpoint{}, 0, ErrShortBuffer
	}
	addr, ok := netip.AddrFromSlice(data[1 : 1+ipLen])
	if !ok {
		return Endpoint{}, 0, fmt.Errorf("bad ip address")
	}
	port := binary.BigEndian.Uint16(data[1+ipLen : need])
	return Endpoint{Addr: addr.Unmap(), Port: port}, need, nil
}
