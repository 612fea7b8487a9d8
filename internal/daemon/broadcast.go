package daemon

import (
	"context"
	"errors"
	"time"

	"supernode/internal/announce"
	"supernode/internal/debuglog"
	"supernode/internal/node"
	"supernode/internal/peer"
	"supernode/internal/proto"
)

// Broadcaster publishes a payload to the wider network.
type Broadcaster interface {
	Broadcast(ctx context.Context, payload []byte) error
}

type BroadcastFunc func(ctx context.Context, payload []byte) error

func (f BroadcastFunc) Broadcast(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

// Broadcast sends payload to every live session, inbound or outbound.
func (r *Runner) Broadcast(ctx context.Context, payload []byte) error {
	var errs []error
	for _, p := range r.Live() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.Send(payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Live lists peers with an open session.
func (r *Runner) Live() []*peer.SuperNode {
	r.liveMu.Lock()
	defer r.liveMu.Unlock()
	out := make([]*peer.SuperNode, 0, len(r.live))
	for p := range r.live {
		out = append(out, p)
	}
	return out
}

// HandleBroadcast feeds a payload delivered by the broadcast layer to the
// announcement validator.
func (r *Runner) HandleBroadcast(payload []byte, relay *announce.Relay) error {
	return r.Validator.HandleBroadcast(payload, relay)
}

func (r *Runner) announceLoop(ctx context.Context) {
	interval := r.cfg.Announce.Interval
	ep, ok, err := r.cfg.AnnounceEndpoint()
	if interval <= 0 || !ok || err != nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		r.announceSelf(ctx, ep)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) announceSelf(ctx context.Context, ep proto.Endpoint) {
	msg, err := announce.Build(r.Self.PrivKey, ep, time.Now())
	if err != nil {
		debuglog.Warnf("build announcement failed: %v", err)
		return
	}
	if err := r.broadcaster.Broadcast(ctx, msg); err != nil {
		debuglog.RateLimitedf("self-announce", 30*time.Second, "self announcement broadcast failed: %v", err)
		return
	}
	r.Metrics.IncSelfAnnounced()
}

func (r *Runner) sessionSink() node.Sink {
	return &runnerSink{r: r}
}

// runnerSink tracks live sessions. Every packet reaches the owner's sink;
// packets that decode as announcements are also validated, never relayed.
type runnerSink struct {
	r *Runner
}

func (s *runnerSink) PeerConnected(p *peer.SuperNode) {
	s.r.liveMu.Lock()
	s.r.live[p] = struct{}{}
	s.r.liveMu.Unlock()
	debuglog.Logf("peer connected %s", p)
	if s.r.sink != nil {
		s.r.sink.PeerConnected(p)
	}
}

func (s *runnerSink) PacketReceived(p *peer.SuperNode, payload []byte) {
	if _, _, err := proto.DecodeAnnouncement(payload); err == nil {
		var relay announce.Relay
		_ = s.r.Validator.HandleBroadcast(payload, &relay)
	}
	if s.r.sink != nil {
		s.r.sink.PacketReceived(p, payload)
	}
}

func (s *runnerSink) PeerClosed(p *peer.SuperNode) {
	s.r.liveMu.Lock()
	delete(s.r.live, p)
	s.r.liveMu.Unlock()
	debuglog.Logf("peer closed %s", p)
	if s.r.sink != nil {
		s.r.sink.PeerClosed(p)
	}
}
