package network

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"supernode/internal/node"
)

const (
	ListenBacklog     = 2
	KeepAliveIdle     = 60 * time.Second
	KeepAliveInterval = 1 * time.Second
	KeepAliveCount    = 2
)

// Listener yields connections ready for the producer handshake.
type Listener interface {
	Accept(ctx context.Context) (node.Conn, error)
	Close() error
	Addr() net.Addr
}

type tcpListener struct {
	ln net.Listener
}

// ListenTCP opens the dual-stack listening socket. An empty host binds every
// IPv4 and IPv6 address.
func ListenTCP(addr string) (Listener, error) {
	ap, err := resolveListenAddr(addr)
	if err != nil {
		return nil, err
	}
	ln, err := listenStream(ap)
	if err != nil {
		return nil, err
	}
	return &tcpListener{ln: ln}, nil
}

func (l *tcpListener) Accept(ctx context.Context) (node.Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	tuneConn(c)
	return c, nil
}

func (l *tcpListener) Close() error { return l.ln.Close() }

func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }

func tuneConn(c net.Conn) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(true)
	_ = tc.SetKeepAliveConfig(keepAliveConfig())
}

func keepAliveConfig() net.KeepAliveConfig {
	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     KeepAliveIdle,
		Interval: KeepAliveInterval,
		Count:    KeepAliveCount,
	}
}

func resolveListenAddr(addr string) (netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return netip.AddrPort{}, err
	}
	port, err := net.LookupPort("tcp", portStr)
	if err != nil {
		return netip.AddrPort{}, err
	}
	ip := netip.IPv6Unspecified()
	if host != "" {
		ip, err = netip.ParseAddr(host)
		if err != nil {
			return netip.AddrPort{}, fmt.Errorf("listen host must be an IP literal: %w", err)
		}
	}
	return netip.AddrPortFrom(ip.Unmap(), uint16(port)), nil
}
