package announce

import (
	"crypto/rand"
	"fmt"
	"time"

	"supernode/internal/crypto"
	"supernode/internal/proto"
)

// Build signs an announcement that the owner of priv is reachable at ep.
func Build(priv []byte, ep proto.Endpoint, now time.Time) ([]byte, error) {
	var nonce [proto.NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return BuildWithNonce(priv, ep, now, nonce)
}

func BuildWithNonce(priv []byte, ep proto.Endpoint, now time.Time, nonce [proto.NonceSize]byte) ([]byte, error) {
	pub, err := crypto.PublicFromPrivate(priv)
	if err != nil {
		return nil, err
	}
	ts := now.Unix()
	if ts < 0 || ts > int64(^uint32(0)) {
		return nil, fmt.Errorf("timestamp %d out of range", ts)
	}
	a := proto.Announcement{
		Endpoint:  ep,
		Timestamp: uint32(ts),
		Nonce:     nonce,
		PubKey:    pub,
	}
	signed, err := proto.AnnouncementSigningBytes(a)
	if err != nil {
		return nil, err
	}
	digest := crypto.Keccak256(signed)
	a.Sig, err = crypto.SignDigest(priv, digest[:])
	if err != nil {
		return nil, err
	}
	return proto.EncodeAnnouncement(a)
}
