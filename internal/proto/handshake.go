package proto

import (
	"supernode/internal/crypto"
)

const (
	ChallengeSize = 32
	// HandshakeResponseSize is remote half || public key || signature.
	HandshakeResponseSize = ChallengeSize + crypto.PublicKeySize + crypto.SignatureSize
)

type HandshakeResponse struct {
	Challenge [ChallengeSize]byte
	PubKey    crypto.PublicKey
	Sig       crypto.Signature
}

func EncodeHandshakeResponse(m HandshakeResponse) [HandshakeResponseSize]byte {
	var out [HandshakeResponseSize]byte
	n := copy(out[:], m.Challenge[:])
	n += copy(out[n:], m.PubKey[:])
	copy(out[n:], m.Sig[:])
	return out
}

func DecodeHandshakeResponse(data []byte) (HandshakeResponse, error) {
	var m HandshakeResponse
	if len(data) != HandshakeResponseSize {
		return m, ErrShortBuffer
	}
	n := copy(m.Challenge[:], data)
	n += copy(m.PubKey[:], data[n:])
	copy(m.Sig[:], data[n:])
	return m, nil
}
