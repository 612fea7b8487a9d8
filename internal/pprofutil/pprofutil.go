package pprofutil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"net/netip"
	"os"
	"strings"
	"time"

	"supernode/internal/debuglog"
)

const defaultAddr = "127.0.0.1:6060"

type settings struct {
	enabled     bool
	addr        string
	allowPublic bool
}

func settingsFromEnv() settings {
	s := settings{
		enabled:     strings.TrimSpace(os.Getenv("SUPERNODE_PPROF")) == "1",
		addr:        strings.TrimSpace(os.Getenv("SUPERNODE_PPROF_ADDR")),
		allowPublic: strings.TrimSpace(os.Getenv("SUPERNODE_PPROF_ALLOW_PUBLIC")) == "1",
	}
	if s.addr == "" {
		s.addr = defaultAddr
	}
	return s
}

// StartFromEnv serves net/http/pprof when SUPERNODE_PPROF=1 until ctx is
// cancelled. It returns the bound address, or "" when disabled.
func StartFromEnv(ctx context.Context) (string, error) {
	s := settingsFromEnv()
	if !s.enabled {
		return "", nil
	}
	if !s.allowPublic && !isLoopbackBind(s.addr) {
		return "", fmt.Errorf("SUPERNODE_PPROF_ADDR must be loopback unless SUPERNODE_PPROF_ALLOW_PUBLIC=1: %s", s.addr)
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("pprof listen failed: %w", err)
	}
	actual := ln.Addr().String()
	debuglog.Logf("pprof enabled: http://%s/debug/pprof/", actual)
	srv := &http.Server{
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = srv.Serve(ln)
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	return actual, nil
}

func isLoopbackBind(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip, err := netip.ParseAddr(host)
	return err == nil && ip.Unmap().IsLoopback()
}
