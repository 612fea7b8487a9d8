package proto

import (
	"bytes"
	"testing"

	"supernode/internal/testutil"
)

func FuzzDecodeFrame(f *testing.F) {
	f.Add([]byte{1, 0, 0, 0, 'x'})
	f.Add([]byte{0, 0, 0, 0})
	f.Add([]byte{0xff, 0xff, 0xff, 0xff})
	f.Fuzz(func(t *testing.T, data []byte) {
		data = testutil.Truncate(data, testutil.MaxFuzzInput)
		testutil.Within(t, testutil.FuzzTimeout, func() {
			r := bytes.NewReader(data)
			for {
				if _, err := ReadFrame(r); err != nil {
					return
				}
			}
		})
	})
}

func FuzzDecodeAnnouncement(f *testing.F) {
	f.Add([]byte{0xff, 4, 127, 0, 0, 1, 0x4f, 0x72})
	f.Add([]byte{0xff, 6})
	f.Fuzz(func(t *testing.T, data []byte) {
		data = testutil.Truncate(data, testutil.MaxFuzzInput)
		testutil.Within(t, testutil.FuzzTimeout, func() {
			a, signed, err := DecodeAnnouncement(data)
			if err != nil {
				return
			}
			if _, err := EncodeAnnouncement(a); err != nil {
				t.Fatalf("re-encode failed: %v", err)
			}
			if !bytes.Equal(signed, data[:len(signed)]) {
				t.Fatalf("signed prefix is not a prefix of the input")
			}
		})
	})
}

func FuzzDecodeHandshakeResponse(f *testing.F) {
	f.Add(make([]byte, HandshakeResponseSize))
	f.Fuzz(func(t *testing.T, data []byte) {
		m, err := DecodeHandshakeResponse(data)
		if err != nil {
			return
		}
		wire := EncodeHandshakeResponse(m)
		if !bytes.Equal(wire[:], data) {
			t.Fatalf("round trip mismatch")
		}
	})
}
