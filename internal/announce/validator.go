package announce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"supernode/internal/crypto"
	"supernode/internal/debuglog"
	"supernode/internal/metrics"
	"supernode/internal/peer"
	"supernode/internal/proto"
)

const (
	// MaxAge and MaxSkew bound how far an announcement timestamp may sit
	// behind or ahead of the local clock.
	MaxAge  = time.Hour
	MaxSkew = 5 * time.Minute
)

var (
	ErrStale        = errors.New("announcement too old")
	ErrFuture       = errors.New("announcement from the future")
	ErrNotProducer  = errors.New("announcement key is not a producer")
	ErrBadSignature = errors.New("announcement signature invalid")
)

// Relay is the forwarding decision of the broadcast layer. It starts as
// "forward" and can only be cancelled.
type Relay struct {
	cancelled atomic.Bool
}

func (r *Relay) Cancel() {
	if r != nil {
		r.cancelled.Store(true)
	}
}

func (r *Relay) Cancelled() bool {
	return r != nil && r.cancelled.Load()
}

// Dialer opens and serves an outbound session to p. Connect may block for
// the whole dial and handshake.
type Dialer interface {
	Connect(ctx context.Context, p *peer.SuperNode) error
}

// Local is the node the validator runs on.
type Local interface {
	IsProducer() bool
	Address() crypto.Address
}

type Options struct {
	Producers peer.ProducerSet
	Directory *peer.Directory
	Local     Local
	Dialer    Dialer
	Metrics   *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

type Validator struct {
	ctx       context.Context
	producers peer.ProducerSet
	dir       *peer.Directory
	local     Local
	dialer    Dialer
	metrics   *metrics.Metrics
	now       func() time.Time
	verified  *verifiedCache
	dials     sync.WaitGroup
}

// NewValidator returns a validator whose background dials are bound to ctx.
func NewValidator(ctx context.Context, opts Options) *Validator {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Directory == nil {
		opts.Directory = peer.NewDirectory()
	}
	return &Validator{
		ctx:       ctx,
		producers: opts.Producers,
		dir:       opts.Directory,
		local:     opts.Local,
		dialer:    opts.Dialer,
		metrics:   opts.Metrics,
		now:       opts.Now,
		verified:  newVerifiedCache(opts.Now),
	}
}

func (v *Validator) Directory() *peer.Directory { return v.dir }

// HandleBroadcast inspects one broadcast payload. Payloads without the
// announcement marker are left alone. Any parse or validation failure
// cancels relay and is returned; success leaves relay untouched.
func (v *Validator) HandleBroadcast(payload []byte, relay *Relay) error {
	if !proto.IsAnnouncement(payload) {
		v.metrics.IncAnnounceIgnored()
		return nil
	}
	p, err := v.process(payload)
	if err != nil {
		relay.Cancel()
		reason := DropReason(err)
		v.metrics.IncAnnounceDropped(reason)
		debuglog.RateLimitedf("announce:"+reason, 5*time.Second, "announce dropped reason=%s err=%v", reason, err)
		return err
	}
	v.maybeConnect(p)
	return nil
}

func (v *Validator) process(payload []byte) (*peer.SuperNode, error) {
	a, signed, err := proto.DecodeAnnouncement(payload)
	if err != nil {
		return nil, err
	}
	if err := v.checkFresh(a.Timestamp); err != nil {
		return nil, err
	}
	id := peer.NewIdentity(a.PubKey)
	if v.producers == nil || !v.producers.IsProducer(id.Address) {
		return nil, fmt.Errorf("%w: %s", ErrNotProducer, id.Address)
	}
	key := crypto.Keccak256(payload)
	if !v.verified.has(key) {
		digest := crypto.Keccak256(signed)
		if !crypto.VerifyDigest(a.PubKey, digest[:], a.Sig) {
			return nil, ErrBadSignature
		}
		v.verified.add(key)
	}
	p, replaced := v.install(id, a.Endpoint)
	v.metrics.IncAnnounceAccepted(replaced)
	v.metrics.Recent().Add(metrics.AnnounceHeader{
		Address:   id.Address.Hex(),
		Endpoint:  a.Endpoint.String(),
		Timestamp: a.Timestamp,
		Replaced:  replaced,
	})
	return p, nil
}

func (v *Validator) checkFresh(ts uint32) error {
	now := v.now()
	at := time.Unix(int64(ts), 0)
	if at.Before(now.Add(-MaxAge)) {
		return fmt.Errorf("%w: %s", ErrStale, at.UTC().Format(time.RFC3339))
	}
	if at.After(now.Add(MaxSkew)) {
		return fmt.Errorf("%w: %s", ErrFuture, at.UTC().Format(time.RFC3339))
	}
	return nil
}

// install returns the directory entry for id at ep, superseding any entry
// with a different endpoint.
func (v *Validator) install(id peer.Identity, ep proto.Endpoint) (*peer.SuperNode, bool) {
	for {
		cur, ok := v.dir.Get(id.Address)
		if ok && cur.Endpoint == ep {
			return cur, false
		}
		next := peer.New(id, ep, false)
		if v.dir.CompareAndSwap(id.Address, cur, next) {
			if ok {
				debuglog.Debugf("announce replaced peer=%s old=%s", next, cur.Endpoint)
			}
			return next, ok
		}
	}
}

func (v *Validator) maybeConnect(p *peer.SuperNode) {
	if v.dialer == nil || v.local == nil || !v.local.IsProducer() {
		return
	}
	// Our own announcement echoed back.
	if p.Address == v.local.Address() {
		return
	}
	if !p.TryDial() {
		return
	}
	v.metrics.IncDialAttempted()
	v.dials.Add(1)
	go func() {
		defer v.dials.Done()
		defer p.DialDone()
		if err := v.dialer.Connect(v.ctx, p); err != nil {
			v.metrics.IncDialFailed()
			debuglog.RateLimitedf("dial:"+p.Address.Hex(), 10*time.Second, "announce connect failed peer=%s err=%v", p, err)
		}
	}()
}

// Wait blocks until every dial started by the validator has returned.
func (v *Validator) Wait() {
	v.dials.Wait()
}

// DropReason maps a validation error to a short metrics label.
func DropReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStale):
		return "stale"
	case errors.Is(err, ErrFuture):
		return "future"
	case errors.Is(err, ErrNotProducer):
		return "not_producer"
	case errors.Is(err, ErrBadSignature):
		return "signature"
	}
	return "malformed"
}
