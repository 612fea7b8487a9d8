package node

import "supernode/internal/peer"

// SinkFuncs adapts plain functions to Sink. Nil fields are skipped.
type SinkFuncs struct {
	OnConnected func(p *peer.SuperNode)
	OnPacket    func(p *peer.SuperNode, payload []byte)
	OnClosed    func(p *peer.SuperNode)
}

func (f SinkFuncs) PeerConnected(p *peer.SuperNode) {
	if f.OnConnected != nil {
		f.OnConnected(p)
	}
}

func (f SinkFuncs) PacketReceived(p *peer.SuperNode, payload []byte) {
	if f.OnPacket != nil {
		f.OnPacket(p, payload)
	}
}

func (f SinkFuncs) PeerClosed(p *peer.SuperNode) {
	if f.OnClosed != nil {
		f.OnClosed(p)
	}
}
