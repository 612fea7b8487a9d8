package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"supernode/internal/debuglog"
	"supernode/internal/node"
)

// DefaultHandshakesPerIP caps concurrent unauthenticated connections from one
// remote IP.
const DefaultHandshakesPerIP = 8

type Acceptor struct {
	Listener Listener
	Node     *node.Node
	Sink     node.Sink

	limiter *ipLimiter
	wg      sync.WaitGroup
}

// perIP <= 0 disables the handshake cap.
func NewAcceptor(ln Listener, n *node.Node, sink node.Sink, perIP int) *Acceptor {
	return &Acceptor{
		Listener: ln,
		Node:     n,
		Sink:     sink,
		limiter:  newIPLimiter(perIP),
	}
}

func (a *Acceptor) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = a.Listener.Close() })
	defer stop()
	debuglog.Logf("accepting on %s", a.Listener.Addr())
	for {
		conn, err := a.Listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}
		host := hostOf(conn.RemoteAddr())
		if !a.limiter.acquire(host) {
			a.Node.Metrics.IncHandshakeLimited()
			debuglog.RateLimitedf("limit:"+host, 5*time.Second, "handshake limit reached remote=%s", host)
			_ = conn.Close()
			continue
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.handle(ctx, conn, host)
		}()
	}
}

func (a *Acceptor) handle(ctx context.Context, conn node.Conn, host string) {
	s, err := a.Node.Accept(ctx, conn, a.Sink)
	a.limiter.release(host)
	if err != nil {
		return
	}
	if err := s.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		debuglog.Debugf("session ended peer=%s err=%v", s.Peer(), err)
	}
}

func (a *Acceptor) Wait() {
	a.wg.Wait()
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
