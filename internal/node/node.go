package node

import (
	"crypto/rand"
	"io"
	"net"
	"net/netip"
	"time"

	"supernode/internal/crypto"
	"supernode/internal/metrics"
	"supernode/internal/peer"
	"supernode/internal/proto"
)

const (
	DefaultHandshakeTimeout = 3 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	// DefaultMaxWorkTries bounds the dialling side's proof-of-work search.
	// With an 8-bit target the expected cost is 256 hashes.
	DefaultMaxWorkTries = 1 << 20
)

// Conn is the byte stream a session runs over. *net.TCPConn satisfies it,
// as does the QUIC stream adapter in internal/network.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
}

// Sink receives session events. Calls for one session are sequential:
// PeerConnected first, then PacketReceived in wire order, then PeerClosed
// exactly once.
type Sink interface {
	PeerConnected(p *peer.SuperNode)
	// PacketReceived must not retain payload after returning.
	PacketReceived(p *peer.SuperNode, payload []byte)
	PeerClosed(p *peer.SuperNode)
}

type Node struct {
	Self      peer.Identity
	PrivKey   []byte
	Producers peer.ProducerSet
	Metrics   *metrics.Metrics
	opts      Options
}

type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxWorkTries     uint64
	// Rand supplies challenge bytes. Defaults to crypto/rand.
	Rand    io.Reader
	Metrics *metrics.Metrics
}

// NewNode loads (or creates) the key pair under home.
func NewNode(home string, producers peer.ProducerSet, opts Options) (*Node, error) {
	pub, priv, err := crypto.LoadOrCreateKeypair(home)
	if err != nil {
		return nil, err
	}
	return NewNodeWithKey(pub, priv, producers, opts), nil
}

func NewNodeWithKey(pub crypto.PublicKey, priv []byte, producers peer.ProducerSet, opts Options) *Node {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.WriteTimeout < 0 {
		opts.WriteTimeout = 0
	} else if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.MaxWorkTries == 0 {
		opts.MaxWorkTries = DefaultMaxWorkTries
	}
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}
	return &Node{
		Self:      peer.NewIdentity(pub),
		PrivKey:   priv,
		Producers: producers,
		Metrics:   opts.Metrics,
		opts:      opts,
	}
}

// IsProducer reports whether the local key is currently a producer.
func (n *Node) IsProducer() bool {
	if n == nil || n.Producers == nil {
		return false
	}
	return n.Producers.IsProducer(n.Self.Address)
}

func (n *Node) Address() crypto.Address { return n.Self.Address }

func endpointOf(addr net.Addr) proto.Endpoint {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return proto.EndpointFromAddrPort(a.AddrPort())
	case *net.UDPAddr:
		return proto.EndpointFromAddrPort(a.AddrPort())
	case nil:
		return proto.Endpoint{}
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return proto.Endpoint{}
	}
	return proto.EndpointFromAddrPort(ap)
}

func remoteHost(conn Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	addr := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
