package proto

import (
	"encoding/binary"
	"errors"
	"fmt"

	"supernode/internal/crypto"
)

const (
	// AnnouncementMarker prefixes every super node reachability broadcast.
	AnnouncementMarker = 0xFF
	NonceSize          = 32
)

var ErrNotAnnouncement = errors.New("not an announcement")

// Announcement declares that the owner of PubKey is reachable at Endpoint.
// Sig covers every encoded byte before it, marker included.
type Announcement struct {
	Endpoint  Endpoint
	Timestamp uint32
	Nonce     [NonceSize]byte
	PubKey    crypto.PublicKey
	Sig       crypto.Signature
}

func IsAnnouncement(payload []byte) bool {
	return len(payload) > 0 && payload[0] == AnnouncementMarker
}

// AnnouncementSigningBytes returns the exact prefix a signature covers.
func AnnouncementSigningBytes(a Announcement) ([]byte, error) {
	b := make([]byte, 0, 1+a.Endpoint.EncodedLen()+4+NonceSize+crypto.PublicKeySize+crypto.SignatureSize)
	b = append(b, AnnouncementMarker)
	b, err := AppendEndpoint(b, a.Endpoint)
	if err != nil {
		return nil, err
	}
	b = binary.BigEndian.AppendUint32(b, a.Timestamp)
	b = append(b, a.Nonce[:]...)
	b = append(b, a.PubKey[:]...)
	return b, nil
}

func EncodeAnnouncement(a Announcement) ([]byte, error) {
	b, err := AnnouncementSigningBytes(a)
	if err != nil {
		return nil, err
	}
	return append(b, a.Sig[:]...), nil
}

// DecodeAnnouncement parses a marker-prefixed payload. It also returns the
// signed prefix as transmitted, so verification never depends on
// re-encoding.
func DecodeAnnouncement(payload []byte) (Announcement, []byte, error) {
	var a Announcement
	if !IsAnnouncement(payload) {
		return a, nil, ErrNotAnnouncement
	}
	off := 1
	ep, n, err := DecodeEndpoint(payload[off:])
	if err != nil {
		return a, nil, fmt.Errorf("announcement endpoint: %w", err)
	}
	a.Endpoint = ep
	off += n
	if len(payload) < off+4+NonceSize+crypto.PublicKeySize+crypto.SignatureSize {
		return a, nil, fmt.Errorf("announcement body: %w", ErrShortBuffer)
	}
	a.Timestamp = binary.BigEndian.Uint32(payload[off : off+4])
	off += 4
	off += copy(a.Nonce[:], payload[off:])
	off += copy(a.PubKey[:], payload[off:])
	signed := payload[:off]
	off += copy(a.Sig[:], payload[off:])
	if off != len(payload) {
		return a, nil, fmt.Errorf("announcement has %d trailing bytes", len(payload)-off)
	}
	return a, signed, nil
}
