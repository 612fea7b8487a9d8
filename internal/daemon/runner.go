package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"supernode/internal/announce"
	"supernode/internal/config"
	"supernode/internal/debuglog"
	"supernode/internal/metrics"
	"supernode/internal/network"
	"supernode/internal/node"
	"supernode/internal/peer"
)

type Runner struct {
	Self      *node.Node
	Producers peer.ProducerSet
	Directory *peer.Directory
	Validator *announce.Validator
	Metrics   *metrics.Metrics

	cfg         *config.Config
	bootstrap   peer.StaticResolver
	resolver    peer.Resolver
	dialer      *network.Dialer
	broadcaster Broadcaster
	sink        node.Sink
	listener    network.Listener

	// base outlives a single Run call so validator dials and outbound
	// sessions share one cancellation.
	base     context.Context
	stop     context.CancelFunc
	sessions sync.WaitGroup

	liveMu sync.Mutex
	live   map[*peer.SuperNode]struct{}
}

type Options struct {
	// Producers defaults to the keys listed in node.producers.
	Producers peer.ProducerSet
	// Resolver is consulted by ConnectAddress when the directory has no
	// entry. Defaults to the bootstrap book.
	Resolver peer.Resolver
	// Sink receives every session event, announcements included.
	Sink node.Sink
	// Broadcaster publishes self announcements. Defaults to sending them to
	// every live session.
	Broadcaster Broadcaster
	Metrics     *metrics.Metrics
	// Listener replaces the one built from listen.addr.
	Listener network.Listener
}

func NewRunner(cfg *config.Config, opts Options) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("missing config")
	}
	if cfg.Node.Home == "" {
		return nil, fmt.Errorf("missing node home")
	}
	if err := os.MkdirAll(cfg.Node.Home, 0700); err != nil {
		return nil, err
	}
	producers := opts.Producers
	if producers == nil {
		keys, err := cfg.ProducerKeys()
		if err != nil {
			return nil, err
		}
		producers = peer.NewStaticProducers(keys...)
	}
	book, err := cfg.BootstrapBook()
	if err != nil {
		return nil, err
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	writeTimeout := cfg.Session.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = -1
	}
	self, err := node.NewNode(cfg.Node.Home, producers, node.Options{
		WriteTimeout: writeTimeout,
		Metrics:      m,
	})
	if err != nil {
		return nil, err
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = book
	}
	base, stop := context.WithCancel(context.Background())
	r := &Runner{
		Self:      self,
		Producers: producers,
		Directory: peer.NewDirectory(),
		Metrics:   m,
		cfg:       cfg,
		bootstrap: book,
		resolver:  resolver,
		dialer:    network.NewDialer(cfg.Listen.Transport),
		sink:      opts.Sink,
		listener:  opts.Listener,
		base:      base,
		stop:      stop,
		live:      make(map[*peer.SuperNode]struct{}),
	}
	r.broadcaster = opts.Broadcaster
	if r.broadcaster == nil {
		r.broadcaster = BroadcastFunc(r.Broadcast)
	}
	r.Validator = announce.NewValidator(base, announce.Options{
		Producers: producers,
		Directory: r.Directory,
		Local:     self,
		Dialer:    r,
		Metrics:   m,
	})
	return r, nil
}

// Run listens, connects to bootstrap producers, and serves until ctx is
// cancelled. The bound listen address is sent on ready once accepting.
func (r *Runner) Run(ctx context.Context, ready chan<- string) error {
	if r == nil {
		return fmt.Errorf("missing runner")
	}
	unhook := context.AfterFunc(ctx, r.stop)
	defer unhook()
	ln, err := r.listen()
	if err != nil {
		r.stop()
		return err
	}
	acc := network.NewAcceptor(ln, r.Self, r.sessionSink(), r.cfg.Session.HandshakePerIP)
	errCh := make(chan error, 1)
	go func() { errCh <- acc.Serve(r.base) }()
	debuglog.Logf("supernode address=%s producer=%t listen=%s/%s", r.Self.Self.Address, r.Self.IsProducer(), r.cfg.Listen.Transport, ln.Addr())
	if ready != nil {
		select {
		case ready <- ln.Addr().String():
		default:
		}
	}

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		r.snapshotLoop(r.base)
	}()
	go func() {
		defer loops.Done()
		r.announceLoop(r.base)
	}()
	r.ConnectBootstrap()

	err = <-errCh
	r.stop()
	loops.Wait()
	acc.Wait()
	r.Validator.Wait()
	r.sessions.Wait()
	r.writeSnapshot()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Runner) listen() (network.Listener, error) {
	if r.listener != nil {
		return r.listener, nil
	}
	switch r.cfg.Listen.Transport {
	case network.TransportQUIC:
		return network.ListenQUIC(r.cfg.Listen.Addr)
	default:
		return network.ListenTCP(r.cfg.Listen.Addr)
	}
}

func (r *Runner) snapshotLoop(ctx context.Context) {
	interval := r.cfg.Metrics.Interval
	if r.cfg.Metrics.Path == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.writeSnapshot()
		}
	}
}

func (r *Runner) writeSnapshot() {
	if r.cfg.Metrics.Path == "" {
		return
	}
	if err := r.Metrics.WriteSnapshot(r.cfg.Metrics.Path); err != nil {
		debuglog.Warnf("metrics snapshot write failed path=%s err=%v", r.cfg.Metrics.Path, err)
	}
}
