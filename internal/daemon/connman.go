package daemon

import (
	"context"
	"fmt"
	"time"

	"supernode/internal/crypto"
	"supernode/internal/debuglog"
	"supernode/internal/peer"
)

// Connect dials p and runs the client handshake. On success the session is
// served in the background until the runner stops or the remote closes.
func (r *Runner) Connect(ctx context.Context, p *peer.SuperNode) error {
	conn, err := r.dialer.Dial(ctx, p.Endpoint)
	if err != nil {
		return err
	}
	s, err := r.Self.Open(ctx, conn, p, r.sessionSink())
	if err != nil {
		return fmt.Errorf("open %s: %w", p, err)
	}
	r.sessions.Add(1)
	go func() {
		defer r.sessions.Done()
		if err := s.Serve(r.base); err != nil && r.base.Err() == nil {
			debuglog.Debugf("outbound session ended peer=%s err=%v", p, err)
		}
	}()
	return nil
}

// ConnectAddress connects to a producer by address, resolving its endpoint
// through the directory or the resolver.
func (r *Runner) ConnectAddress(ctx context.Context, addr crypto.Address) error {
	p, err := r.peerFor(addr)
	if err != nil {
		return err
	}
	if !p.TryDial() {
		return nil
	}
	defer p.DialDone()
	r.Metrics.IncDialAttempted()
	if err := r.Connect(ctx, p); err != nil {
		r.Metrics.IncDialFailed()
		return err
	}
	return nil
}

// ConnectBootstrap starts a best-effort connect to every bootstrap producer.
// Failures are logged; later announcements retry.
func (r *Runner) ConnectBootstrap() {
	if !r.Self.IsProducer() {
		debuglog.Logf("not a producer, skipping %d bootstrap peers", len(r.bootstrap))
		return
	}
	for addr := range r.bootstrap {
		if addr == r.Self.Self.Address {
			continue
		}
		r.sessions.Add(1)
		go func(addr crypto.Address) {
			defer r.sessions.Done()
			if err := r.ConnectAddress(r.base, addr); err != nil {
				debuglog.RateLimitedf("bootstrap:"+addr.Hex(), 10*time.Second, "bootstrap connect failed addr=%s err=%v", addr, err)
			}
		}(addr)
	}
}

// peerFor returns the directory entry for addr, creating one from the
// resolver when absent.
func (r *Runner) peerFor(addr crypto.Address) (*peer.SuperNode, error) {
	for {
		if p, ok := r.Directory.Get(addr); ok {
			return p, nil
		}
		pub, ok := r.Producers.PublicKeyOf(addr)
		if !ok || !r.Producers.IsProducer(addr) {
			return nil, fmt.Errorf("%s is not a producer", addr)
		}
		ep, ok := r.resolver.Lookup(addr)
		if !ok {
			return nil, fmt.Errorf("no endpoint for %s", addr)
		}
		p := peer.New(peer.NewIdentity(pub), ep, false)
		if r.Directory.CompareAndSwap(addr, nil, p) {
			return p, nil
		}
	}
}

// SendTo writes payload to the live session of the producer at addr.
func (r *Runner) SendTo(addr crypto.Address, payload []byte) error {
	if p, ok := r.Directory.Get(addr); ok && p.Connected() {
		return p.Send(payload)
	}
	for _, p := range r.Live() {
		if p.Address == addr {
			return p.Send(payload)
		}
	}
	return fmt.Errorf("%w: %s", peer.ErrNotConnected, addr)
}
