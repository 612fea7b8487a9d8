package peer_test

import (
	"sync"
	"testing"

	"supernode/internal/crypto"
	"supernode/internal/peer"
	"supernode/internal/proto"
)

type fakeLink struct {
	sent [][]byte
}

func (l *fakeLink) Send(p []byte) error {
	l.sent = append(l.sent, append([]byte(nil), p...))
	return nil
}

func (l *fakeLink) Close() error { return nil }

func pubWithByte(b byte) crypto.PublicKey {
	var p crypto.PublicKey
	for i := range p {
		p[i] = b
	}
	return p
}

func mustEndpoint(t *testing.T, s string) proto.Endpoint {
	t.Helper()
	ep, err := proto.ParseEndpoint(s)
	if err != nil {
		t.Fatalf("parse endpoint %q: %v", s, err)
	}
	return ep
}

func TestBindUnbind(t *testing.T) {
	p := peer.New(peer.NewIdentity(pubWithByte(1)), mustEndpoint(t, "10.0.0.1:1"), false)
	if p.Connected() {
		t.Fatalf("new peer must start disconnected")
	}
	if err := p.Send([]byte("x")); err != peer.ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	a, b := &fakeLink{}, &fakeLink{}
	if !p.Bind(a) {
		t.Fatalf("expected first bind")
	}
	if p.Bind(b) {
		t.Fatalf("expected second bind to fail")
	}
	if err := p.Send([]byte("hi")); err != nil || len(a.sent) != 1 {
		t.Fatalf("send through bound link failed: %v", err)
	}
	p.Unbind(b)
	if !p.Connected() {
		t.Fatalf("unbinding a stale link must not disconnect")
	}
	p.Unbind(a)
	if p.Connected() {
		t.Fatalf("expected disconnected after unbind")
	}
}

func TestTryDialSingleFlight(t *testing.T) {
	p := peer.New(peer.NewIdentity(pubWithByte(2)), mustEndpoint(t, "10.0.0.2:1"), false)
	if !p.TryDial() {
		t.Fatalf("expected first dial slot")
	}
	if p.TryDial() {
		t.Fatalf("expected dial already in flight")
	}
	p.DialDone()
	p.Bind(&fakeLink{})
	if p.TryDial() {
		t.Fatalf("connected peer must not dial")
	}
}

func TestDirectoryCompareAndSwap(t *testing.T) {
	d := peer.NewDirectory()
	id := peer.NewIdentity(pubWithByte(3))
	first := peer.New(id, mustEndpoint(t, "10.0.0.3:1"), false)
	second := peer.New(id, mustEndpoint(t, "10.0.0.3:2"), false)
	if !d.CompareAndSwap(id.Address, nil, first) {
		t.Fatalf("expected insert into empty slot")
	}
	if d.CompareAndSwap(id.Address, nil, second) {
		t.Fatalf("insert must fail once present")
	}
	if !d.CompareAndSwap(id.Address, first, second) {
		t.Fatalf("expected replacement")
	}
	if d.CompareAndSwap(id.Address, first, first) {
		t.Fatalf("stale compare must fail")
	}
	got, ok := d.Get(id.Address)
	if !ok || got != second {
		t.Fatalf("unexpected entry %v", got)
	}
	if d.Len() != 1 {
		t.Fatalf("expected one entry, got %d", d.Len())
	}
}

func TestDirectoryConcurrentReplace(t *testing.T) {
	d := peer.NewDirectory()
	id := peer.NewIdentity(pubWithByte(4))
	base := mustEndpoint(t, "10.0.0.4:1").Addr
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(port uint16) {
			defer wg.Done()
			ep := proto.Endpoint{Addr: base, Port: port}
			for {
				cur, _ := d.Get(id.Address)
				if d.CompareAndSwap(id.Address, cur, peer.New(id, ep, false)) {
					return
				}
			}
		}(uint16(i + 1))
	}
	wg.Wait()
	got, ok := d.Get(id.Address)
	if !ok || got.Address != id.Address || !got.Endpoint.IsValid() {
		t.Fatalf("directory holds a broken entry")
	}
}

func TestStaticProducers(t *testing.T) {
	a, b := pubWithByte(5), pubWithByte(6)
	set := peer.NewStaticProducers(a)
	if !set.IsProducer(crypto.DeriveAddress(a)) {
		t.Fatalf("expected a to be a producer")
	}
	if set.IsProducer(crypto.DeriveAddress(b)) {
		t.Fatalf("b is not a producer yet")
	}
	set.Replace([]crypto.PublicKey{b})
	if set.IsProducer(crypto.DeriveAddress(a)) || !set.IsProducer(crypto.DeriveAddress(b)) {
		t.Fatalf("replace did not rotate membership")
	}
	if k, ok := set.PublicKeyOf(crypto.DeriveAddress(b)); !ok || k != b {
		t.Fatalf("public key lookup failed")
	}
}
