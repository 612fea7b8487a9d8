package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"supernode/internal/debuglog"
	"supernode/internal/peer"
	"supernode/internal/proto"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrPeerBusy      = errors.New("peer already has a live session")
)

// Session is one authenticated framed channel. It only exists after the
// handshake completed, so every packet it reads or writes is authenticated.
type Session struct {
	node *Node
	conn Conn
	peer *peer.SuperNode
	sink Sink

	// pool holds at most one idle payload buffer.
	pool chan []byte

	writeMu   sync.Mutex
	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Accept authenticates an inbound connection. On success PeerConnected has
// fired and the caller must run Serve. On failure the connection is closed
// without a reply and no event fires.
func (n *Node) Accept(ctx context.Context, conn Conn, sink Sink) (*Session, error) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	h := n.NewHandshake(conn)
	id, err := h.Run()
	if err != nil {
		_ = conn.Close()
		n.Metrics.IncHandshakeRejected(RejectReason(err))
		host := remoteHost(conn)
		debuglog.RateLimitedf("handshake:"+host, 5*time.Second, "handshake rejected remote=%s state=%s err=%v", host, h.State(), err)
		return nil, err
	}
	if ctx.Err() != nil {
		_ = conn.Close()
		return nil, ctx.Err()
	}
	p := peer.New(id, endpointOf(conn.RemoteAddr()), true)
	s, err := n.start(conn, p, sink)
	if err != nil {
		return nil, err
	}
	n.Metrics.IncHandshakeAccepted()
	debuglog.Debugf("handshake accepted peer=%s", p)
	return s, nil
}

func (n *Node) Open(ctx context.Context, conn Conn, p *peer.SuperNode, sink Sink) (*Session, error) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if err := n.Respond(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if ctx.Err() != nil {
		_ = conn.Close()
		return nil, ctx.Err()
	}
	return n.start(conn, p, sink)
}

func (n *Node) start(conn Conn, p *peer.SuperNode, sink Sink) (*Session, error) {
	// The session is long lived from here on.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	s := &Session{
		node: n,
		conn: conn,
		peer: p,
		sink: sink,
		pool: make(chan []byte, 1),
		done: make(chan struct{}),
	}
	if !p.Bind(s) {
		_ = conn.Close()
		return nil, ErrPeerBusy
	}
	n.Metrics.SessionOpened()
	if sink != nil {
		sink.PeerConnected(p)
	}
	return s, nil
}

func (s *Session) Peer() *peer.SuperNode { return s.peer }

func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *Session) Done() <-chan struct{} { return s.done }

// PeerClosed fires once when Serve returns.
func (s *Session) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()
	defer s.finish()
	for {
		buf := s.getBuffer()
		payload, err := proto.ReadFrameInto(s.conn, buf)
		if err != nil {
			s.putBuffer(buf)
			return s.readErr(ctx, err)
		}
		s.node.Metrics.AddPacketReceived(len(payload))
		if s.sink != nil {
			s.sink.PacketReceived(s.peer, payload)
		}
		s.putBuffer(payload)
	}
}

func (s *Session) readErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, proto.ErrFrameSize) {
		debuglog.RateLimitedf("frame:"+remoteHost(s.conn), 5*time.Second, "session frame rejected peer=%s err=%v", s.peer, err)
		return err
	}
	if errors.Is(err, io.EOF) || s.closing.Load() {
		return nil
	}
	return fmt.Errorf("session read: %w", err)
}

func (s *Session) getBuffer() []byte {
	select {
	case b := <-s.pool:
		return b
	default:
		return nil
	}
}

func (s *Session) putBuffer(b []byte) {
	if b == nil || cap(b) > proto.MaxPacketSize {
		return
	}
	select {
	case s.pool <- b[:cap(b)]:
	default:
	}
}

func (s *Session) Send(payload []byte) error {
	if s.closing.Load() {
		return ErrSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if d := s.node.opts.WriteTimeout; d > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(d)); err != nil {
			return err
		}
	}
	if err := proto.WriteFrame(s.conn, payload); err != nil {
		return err
	}
	s.node.Metrics.IncPacketSent()
	return nil
}

func (s *Session) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

func (s *Session) finish() {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		_ = s.conn.Close()
		s.peer.Unbind(s)
		s.node.Metrics.SessionClosed()
		if s.sink != nil {
			s.sink.PeerClosed(s.peer)
		}
		close(s.done)
	})
}
