package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"supernode/internal/debuglog"
	"supernode/internal/node"
	"supernode/internal/proto"
)

const (
	TransportTCP  = "tcp"
	TransportQUIC = "quic"

	clientMaxRetries  = 3
	clientBackoffBase = 100 * time.Millisecond
	clientBackoffMax  = 30 * time.Second
	clientTimeout     = 8 * time.Second
)

var ErrBackoff = errors.New("dial suppressed after repeated failures")

type addrFailure struct {
	count int
	last  time.Time
}

type Dialer struct {
	Transport string
	Now       func() time.Time

	mu       sync.Mutex
	failures map[string]*addrFailure
}

func NewDialer(transport string) *Dialer {
	if transport == "" {
		transport = TransportTCP
	}
	return &Dialer{
		Transport: transport,
		Now:       time.Now,
		failures:  make(map[string]*addrFailure),
	}
}

func (d *Dialer) Dial(ctx context.Context, ep proto.Endpoint) (node.Conn, error) {
	if !ep.IsValid() {
		return nil, fmt.Errorf("invalid endpoint %s", ep)
	}
	addr := ep.String()
	if wait := d.backoff(addr); wait > 0 {
		return nil, fmt.Errorf("%w: %s for %s", ErrBackoff, addr, wait)
	}
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var (
		conn node.Conn
		err  error
	)
	switch d.Transport {
	case TransportQUIC:
		conn, err = dialQUIC(ctx, addr)
	case TransportTCP:
		conn, err = dialTCP(ctx, addr)
	default:
		return nil, fmt.Errorf("unknown transport %q", d.Transport)
	}
	if err != nil {
		n := d.recordFailure(addr)
		debuglog.Debugf("dial %s %s failed count=%d err=%v", d.Transport, addr, n, err)
		return nil, err
	}
	d.resetFailures(addr)
	return conn, nil
}

func dialTCP(ctx context.Context, addr string) (node.Conn, error) {
	nd := net.Dialer{KeepAliveConfig: keepAliveConfig()}
	c, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	tuneConn(c)
	return c, nil
}

// backoff returns how long addr is still suppressed.
func (d *Dialer) backoff(addr string) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	ent := d.failures[addr]
	if ent == nil || ent.count < clientMaxRetries {
		return 0
	}
	wait := clientBackoffBase << (ent.count - clientMaxRetries)
	if wait > clientBackoffMax || wait <= 0 {
		wait = clientBackoffMax
	}
	if remaining := wait - d.now().Sub(ent.last); remaining > 0 {
		return remaining
	}
	return 0
}

func (d *Dialer) recordFailure(addr string) int {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures == nil {
		d.failures = make(map[string]*addrFailure)
	}
	ent := d.failures[addr]
	if ent == nil {
		ent = &addrFailure{}
		d.failures[addr] = ent
	}
	ent.count++
	ent.last = now
	return ent.count
}

func (d *Dialer) resetFailures(addr string) {
	d.mu.Lock()
	delete(d.failures, addr)
	d.mu.Unlock()
}

func (d *Dialer) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), clientTimeout)
	}
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, clientTimeout)
}
