//go:build !unix

package network

import (
	"context"
	"net"
	"net/netip"
)

// Without raw socket access the backlog stays at the platform default.
func listenStream(ap netip.AddrPort) (net.Listener, error) {
	lc := net.ListenConfig{KeepAliveConfig: keepAliveConfig()}
	return lc.Listen(context.Background(), "tcp", ap.String())
}
