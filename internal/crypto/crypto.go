// internal/crypto/crypto.go
package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// -----------------------------------------------------------------------------
// Super node crypto suite
//
// - secp256k1 keys; public keys travel as 64 raw bytes (X || Y)
// - signatures travel as 64 raw bytes (R || S), recovery id dropped
// - Keccak-256 for every digest and for address derivation
// -----------------------------------------------------------------------------

const (
	PublicKeySize  = 64
	SignatureSize  = 64
	AddressSize    = 20
	PrivateKeySize = 32
	HashSize       = 32
)

type PublicKey [PublicKeySize]byte

type Signature [SignatureSize]byte

type Address [AddressSize]byte

func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

func (a Address) String() string {
	return a.Hex()
}

func (p PublicKey) Hex() string {
	return hex.EncodeToString(p[:])
}

func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil || len(b) != AddressSize {
		return a, fmt.Errorf("bad address %q", s)
	}
	copy(a[:], b)
	return a, nil
}

func ParsePublicKey(s string) (PublicKey, error) {
	var p PublicKey
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return p, fmt.Errorf("bad public key %q", s)
	}
	// Accept the 65-byte 0x04-prefixed SEC1 form too.
	if len(b) == PublicKeySize+1 && b[0] == 0x04 {
		b = b[1:]
	}
	if len(b) != PublicKeySize {
		return p, fmt.Errorf("bad public key length %d", len(b))
	}
	copy(p[:], b)
	return p, nil
}

// -----------------------------------------------------------------------------
// Keccak-256
// -----------------------------------------------------------------------------

func Keccak256(parts ...[]byte) [HashSize]byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DeriveAddress returns the last 20 bytes of Keccak-256(pub).
func DeriveAddress(pub PublicKey) Address {
	sum := Keccak256(pub[:])
	var a Address
	copy(a[:], sum[HashSize-AddressSize:])
	return a
}

// -----------------------------------------------------------------------------
// secp256k1
// -----------------------------------------------------------------------------

func GenKeypair() (PublicKey, []byte, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return PublicKey{}, nil, err
	}
	priv := ethcrypto.FromECDSA(key)
	pub, err := PublicFromPrivate(priv)
	if err != nil {
		return PublicKey{}, nil, err
	}
	return pub, priv, nil
}

func PublicFromPrivate(priv []byte) (PublicKey, error) {
	key, err := ethcrypto.ToECDSA(priv)
	if err != nil {
		return PublicKey{}, err
	}
	raw := ethcrypto.FromECDSAPub(&key.PublicKey)
	if len(raw) != PublicKeySize+1 {
		return PublicKey{}, errors.New("unexpected public key encoding")
	}
	var pub PublicKey
	copy(pub[:], raw[1:])
	return pub, nil
}

func SignDigest(priv []byte, digest []byte) (Signature, error) {
	if len(digest) != HashSize {
		return Signature{}, errors.New("bad digest size")
	}
	key, err := ethcrypto.ToECDSA(priv)
	if err != nil {
		return Signature{}, err
	}
	raw, err := ethcrypto.Sign(digest, key)
	if err != nil {
		return Signature{}, err
	}
	var sig Signature
	copy(sig[:], raw[:SignatureSize])
	return sig, nil
}

func VerifyDigest(pub PublicKey, digest []byte, sig Signature) bool {
	if len(digest) != HashSize {
		return false
	}
	uncompressed := make([]byte, 0, PublicKeySize+1)
	uncompressed = append(uncompressed, 0x04)
	uncompressed = append(uncompressed, pub[:]...)
	return ethcrypto.VerifySignature(uncompressed, digest, sig[:])
}

// -----------------------------------------------------------------------------
// Key storage
// -----------------------------------------------------------------------------

func SaveKeypair(dir string, pub PublicKey, priv []byte) error {
	if len(priv) != PrivateKeySize {
		return errors.New("empty key")
	}
	if err := os.WriteFile(filepath.Join(dir, "pub.hex"), []byte(hex.EncodeToString(pub[:])), 0600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "priv.hex"), []byte(hex.EncodeToString(priv)), 0600)
}

func LoadKeypair(dir string) (PublicKey, []byte, error) {
	privHex, err := os.ReadFile(filepath.Join(dir, "priv.hex"))
	if err != nil {
		return PublicKey{}, nil, err
	}
	priv, err := hex.DecodeString(strings.TrimSpace(string(privHex)))
	if err != nil || len(priv) != PrivateKeySize {
		return PublicKey{}, nil, fmt.Errorf("bad priv.hex")
	}
	pub, err := PublicFromPrivate(priv)
	if err != nil {
		return PublicKey{}, nil, fmt.Errorf("bad priv.hex: %w", err)
	}
	pubHex, err := os.ReadFile(filepath.Join(dir, "pub.hex"))
	if err != nil {
		return PublicKey{}, nil, err
	}
	stored, err := ParsePublicKey(string(pubHex))
	if err != nil {
		return PublicKey{}, nil, fmt.Errorf("bad pub.hex")
	}
	if stored != pub {
		return PublicKey{}, nil, errors.New("pub.hex does not match priv.hex")
	}
	return pub, priv, nil
}

// LoadOrCreateKeypair loads the key pair in dir, generating one on first use.
func LoadOrCreateKeypair(dir string) (PublicKey, []byte, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return PublicKey{}, nil, err
	}
	pub, priv, err := LoadKeypair(dir)
	if err == nil {
		return pub, priv, nil
	}
	if !os.IsNotExist(err) {
		return PublicKey{}, nil, err
	}
	pub, priv, err = GenKeypair()
	if err != nil {
		return PublicKey{}, nil, err
	}
	if err := SaveKeypair(dir, pub, priv); err != nil {
		return PublicKey{}, nil, err
	}
	return pub, priv, nil
}
