package network

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	quic "github.com/quic-go/quic-go"

	"supernode/internal/crypto"
	"supernode/internal/metrics"
	"supernode/internal/node"
	"supernode/internal/peer"
	"supernode/internal/proto"
	"supernode/internal/testutil"
)

type pair struct {
	server    *node.Node
	client    *node.Node
	producers *peer.StaticProducers
}

func newPair(t *testing.T) pair {
	t.Helper()
	spub, spriv, err := crypto.GenKeypair()
	if err != nil {
		t.Fatalf("gen keypair: %v", err)
	}
	cpub, cpriv, err := crypto.GenKeypair()
	if err != nil {
		t.Fatalf("gen keypair: %v", err)
	}
	producers := peer.NewStaticProducers(spub, cpub)
	return pair{
		server:    node.NewNodeWithKey(spub, spriv, producers, node.Options{Metrics: metrics.New()}),
		client:    node.NewNodeWithKey(cpub, cpriv, producers, node.Options{}),
		producers: producers,
	}
}

type packetLog struct {
	mu      sync.Mutex
	packets []string
	closed  int
}

func (l *packetLog) sink() node.Sink {
	return node.SinkFuncs{
		OnPacket: func(p *peer.SuperNode, payload []byte) {
			l.mu.Lock()
			l.packets = append(l.packets, string(payload))
			l.mu.Unlock()
		},
		OnClosed: func(p *peer.SuperNode) {
			l.mu.Lock()
			l.closed++
			l.mu.Unlock()
		},
	}
}

func (l *packetLog) count() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.packets), l.closed
}

func endpointOf(t *testing.T, addr net.Addr) proto.Endpoint {
	t.Helper()
	ep, err := proto.ParseEndpoint(addr.String())
	if err != nil {
		t.Fatalf("parse %s: %v", addr, err)
	}
	return ep
}

func runSessionOver(t *testing.T, ln Listener, transport string) {
	p := newPair(t)
	log := &packetLog{}
	acc := NewAcceptor(ln, p.server, log.sink(), DefaultHandshakesPerIP)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- acc.Serve(ctx) }()

	ep := endpointOf(t, ln.Addr())
	conn, err := NewDialer(transport).Dial(ctx, ep)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	target := peer.New(p.server.Self, ep, false)
	s, err := p.client.Open(ctx, conn, target, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, msg := range []string{"a", "b"} {
		if err := s.Send([]byte(msg)); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	testutil.Eventually(t, 3*time.Second, func() bool {
		n, _ := log.count()
		return n == 2
	}, "packets delivered")

	cancel()
	if err := <-served; err != nil {
		t.Fatalf("serve returned %v", err)
	}
	acc.Wait()
	if _, closed := log.count(); closed != 1 {
		t.Fatalf("expected one PeerClosed, got %d", closed)
	}
	_ = s.Close()
	if got := p.server.Metrics.Snapshot().Handshake.Accepted; got != 1 {
		t.Fatalf("expected one accepted handshake, got %d", got)
	}
}

func TestAcceptorTCPSession(t *testing.T) {
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	runSessionOver(t, ln, TransportTCP)
}

func TestAcceptorQUICSession(t *testing.T) {
	ln, err := ListenQUIC("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	runSessionOver(t, ln, TransportQUIC)
}

func TestQUICAcceptNotStalledByPeerWithoutStreamCredit(t *testing.T) {
	ln, err := ListenQUIC("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := newPair(t)
	acc := NewAcceptor(ln, p.server, nil, DefaultHandshakesPerIP)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		acc.Wait()
	}()
	go func() { _ = acc.Serve(ctx) }()

	// This peer never lets the server open a stream.
	conf := quicConfig()
	conf.MaxIncomingStreams = -1
	stalled, err := quic.DialAddr(ctx, ln.Addr().String(), clientTLSConfig(), conf)
	if err != nil {
		t.Fatalf("dial stalled peer: %v", err)
	}
	defer stalled.CloseWithError(0, "")

	ep := endpointOf(t, ln.Addr())
	start := time.Now()
	conn, err := NewDialer(TransportQUIC).Dial(ctx, ep)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	s, err := p.client.Open(ctx, conn, peer.New(p.server.Self, ep, false), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if elapsed := time.Since(start); elapsed >= node.DefaultHandshakeTimeout/2 {
		t.Fatalf("second peer waited %s behind the stalled one", elapsed)
	}
}

func TestAcceptorLimitsHandshakesPerIP(t *testing.T) {
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := newPair(t)
	acc := NewAcceptor(ln, p.server, nil, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = acc.Serve(ctx) }()

	first, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()
	var challenge [proto.ChallengeSize]byte
	if _, err := io.ReadFull(first, challenge[:]); err != nil {
		t.Fatalf("expected a challenge: %v", err)
	}

	second, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer second.Close()
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if n, err := io.ReadFull(second, challenge[:]); err == nil || n == proto.ChallengeSize {
		t.Fatalf("expected second connection to be refused, read %d", n)
	}
	if got := p.server.Metrics.Snapshot().Handshake.Limited; got != 1 {
		t.Fatalf("expected one limited connection, got %d", got)
	}
}

func TestAcceptorRejectsSilently(t *testing.T) {
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := newPair(t)
	acc := NewAcceptor(ln, p.server, nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = acc.Serve(ctx) }()

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	var buf [proto.HandshakeResponseSize]byte
	if _, err := io.ReadFull(c, buf[:proto.ChallengeSize]); err != nil {
		t.Fatalf("read challenge: %v", err)
	}
	// An all-zero key is never a producer, whatever the work check says.
	if _, err := c.Write(buf[:]); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := c.Read(buf[:])
	if n != 0 || err == nil {
		t.Fatalf("expected silent close, got n=%d err=%v", n, err)
	}
	testutil.Eventually(t, time.Second, func() bool {
		return p.server.Metrics.Snapshot().Handshake.Rejected == 1
	}, "rejection counted")
}

func TestResolveListenAddr(t *testing.T) {
	cases := map[string]string{
		":20338":              "[::]:20338",
		"127.0.0.1:0":         "127.0.0.1:0",
		"[::ffff:10.0.0.1]:1": "10.0.0.1:1",
		"[2001:db8::1]:80":    "[2001:db8::1]:80",
	}
	for in, want := range cases {
		ap, err := resolveListenAddr(in)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if ap.String() != want {
			t.Fatalf("%s: got %s want %s", in, ap, want)
		}
	}
	if _, err := resolveListenAddr("localhost:1"); err == nil {
		t.Fatalf("expected hostname rejection")
	}
}

func TestDialerBacksOff(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ep := endpointOf(t, l.Addr())
	l.Close()

	now := time.Unix(1_700_000_000, 0)
	d := NewDialer(TransportTCP)
	d.Now = func() time.Time { return now }
	for i := 0; i < clientMaxRetries; i++ {
		if _, err := d.Dial(context.Background(), ep); err == nil || errors.Is(err, ErrBackoff) {
			t.Fatalf("attempt %d: expected refused, got %v", i, err)
		}
	}
	if _, err := d.Dial(context.Background(), ep); !errors.Is(err, ErrBackoff) {
		t.Fatalf("expected backoff, got %v", err)
	}
	now = now.Add(clientBackoffBase)
	if _, err := d.Dial(context.Background(), ep); err == nil || errors.Is(err, ErrBackoff) {
		t.Fatalf("expected a real attempt after backoff, got %v", err)
	}
	if _, err := d.Dial(context.Background(), proto.Endpoint{}); err == nil {
		t.Fatalf("expected invalid endpoint error")
	}
}
