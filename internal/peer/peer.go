package peer

import (
	"sync/atomic"

	"supernode/internal/crypto"
	"supernode/internal/proto"
)

// Identity is a producer public key and the address derived from it.
type Identity struct {
	PubKey  crypto.PublicKey
	Address crypto.Address
}

func NewIdentity(pub crypto.PublicKey) Identity {
	return Identity{PubKey: pub, Address: crypto.DeriveAddress(pub)}
}

// Link is the live session a SuperNode is bound to.
type Link interface {
	Send(payload []byte) error
	Close() error
}

// SuperNode is a known producer endpoint. Identity, Endpoint and Inbound are
// fixed at construction; an endpoint change produces a new SuperNode rather
// than mutating this one.
type SuperNode struct {
	Identity
	Endpoint proto.Endpoint
	// Inbound is true when the remote dialled us and false when we dialled it.
	Inbound bool

	link    atomic.Pointer[linkBox]
	dialing atomic.Bool
}

type linkBox struct {
	l Link
}

func New(id Identity, ep proto.Endpoint, inbound bool) *SuperNode {
	return &SuperNode{Identity: id, Endpoint: ep, Inbound: inbound}
}

// Bind attaches a live session. It fails if another session already holds
// the peer.
func (p *SuperNode) Bind(l Link) bool {
	if p == nil || l == nil {
		return false
	}
	return p.link.CompareAndSwap(nil, &linkBox{l: l})
}

// Unbind detaches l if it is still the bound session.
func (p *SuperNode) Unbind(l Link) {
	if p == nil {
		return
	}
	cur := p.link.Load()
	if cur != nil && cur.l == l {
		p.link.CompareAndSwap(cur, nil)
	}
}

func (p *SuperNode) Link() Link {
	if p == nil {
		return nil
	}
	if b := p.link.Load(); b != nil {
		return b.l
	}
	return nil
}

func (p *SuperNode) Connected() bool {
	return p.Link() != nil
}

// Send writes payload on the bound session.
func (p *SuperNode) Send(payload []byte) error {
	l := p.Link()
	if l == nil {
		return ErrNotConnected
	}
	return l.Send(payload)
}

// TryDial marks an outbound attempt in flight. It returns false when a
// connection exists or another attempt is already running.
func (p *SuperNode) TryDial() bool {
	if p == nil || p.Connected() {
		return false
	}
	return p.dialing.CompareAndSwap(false, true)
}

func (p *SuperNode) DialDone() {
	if p != nil {
		p.dialing.Store(false)
	}
}

func (p *SuperNode) String() string {
	if p == nil {
		return "<nil>"
	}
	dir := "out"
	if p.Inbound {
		dir = "in"
	}
	return p.Address.Hex() + "@" + p.Endpoint.String() + "/" + dir
}
