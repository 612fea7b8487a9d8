package crypto

// HandshakeWorkBits is the number of leading zero bits a handshake digest
// must carry: one full zero byte.
const HandshakeWorkBits = 8

// ChallengeDigest hashes the two concatenated challenge halves.
func ChallengeDigest(local, remote []byte) [HashSize]byte {
	return Keccak256(local, remote)
}

func WorkCheck(digest []byte, bits uint8) bool {
	if bits == 0 {
		return true
	}
	full := int(bits / 8)
	rem := int(bits % 8)
	need := full
	if rem != 0 {
		need++
	}
	if len(digest) < need {
		return false
	}
	for i := 0; i < full; i++ {
		if digest[i] != 0 {
			return false
		}
	}
	if rem == 0 {
		return true
	}
	mask := byte(0xff << (8 - rem))
	return digest[full]&mask == 0
}

// WorkSolve searches counter-derived remote halves until the digest of
// local||remote satisfies bits. The first 24 bytes of remote come from
// seed; the last 8 carry the counter.
func WorkSolve(local []byte, seed [32]byte, bits uint8, maxTries uint64) ([32]byte, bool) {
	remote := seed
	for i := uint64(0); i < maxTries; i++ {
		putCounter(remote[24:], i)
		d := ChallengeDigest(local, remote[:])
		if WorkCheck(d[:], bits) {
			return remote, true
		}
	}
	return [32]byte{}, false
}

func putCounter(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
