package peer

import (
	"sync"

	"supernode/internal/crypto"
	"supernode/internal/proto"
)

// ProducerSet answers producer membership. Membership changes as the
// campaign progresses, so callers must not cache answers.
type ProducerSet interface {
	IsProducer(addr crypto.Address) bool
	PublicKeyOf(addr crypto.Address) (crypto.PublicKey, bool)
}

// Resolver maps a producer address to a reachable endpoint.
type Resolver interface {
	Lookup(addr crypto.Address) (proto.Endpoint, bool)
}

// StaticProducers is a ProducerSet backed by a replaceable key list.
type StaticProducers struct {
	mu   sync.RWMutex
	keys map[crypto.Address]crypto.PublicKey
}

func NewStaticProducers(keys ...crypto.PublicKey) *StaticProducers {
	s := &StaticProducers{}
	s.Replace(keys)
	return s
}

func (s *StaticProducers) Replace(keys []crypto.PublicKey) {
	next := make(map[crypto.Address]crypto.PublicKey, len(keys))
	for _, k := range keys {
		next[crypto.DeriveAddress(k)] = k
	}
	s.mu.Lock()
	s.keys = next
	s.mu.Unlock()
}

func (s *StaticProducers) IsProducer(addr crypto.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[addr]
	return ok
}

func (s *StaticProducers) PublicKeyOf(addr crypto.Address) (crypto.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[addr]
	return k, ok
}

func (s *StaticProducers) Addresses() []crypto.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crypto.Address, 0, len(s.keys))
	for a := range s.keys {
		out = append(out, a)
	}
	return out
}

// StaticResolver is a Resolver over a fixed address book.
type StaticResolver map[crypto.Address]proto.Endpoint

func (r StaticResolver) Lookup(addr crypto.Address) (proto.Endpoint, bool) {
	ep, ok := r[addr]
	return ep, ok
}
