package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	payload := []byte("block proposal 7")
	frame, err := EncodeFrame(payload)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	if got := binary.LittleEndian.Uint32(frame[:4]); got != uint32(len(payload)) {
		t.Fatalf("length prefix %d, want little-endian %d", got, len(payload))
	}
	got, err := ReadFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(payload, got) {
		t.Fatalf("payload mismatch")
	}
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	r := bytes.NewReader([]byte{0, 0, 0, 0, 'x'})
	if _, err := ReadFrame(r); !errors.Is(err, ErrFrameSize) {
		t.Fatalf("expected ErrFrameSize, got %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("reader consumed past the length prefix")
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], MaxPacketSize+1)
	if _, err := ReadFrame(bytes.NewReader(hdr[:])); !errors.Is(err, ErrFrameSize) {
		t.Fatalf("expected ErrFrameSize, got %v", err)
	}
	binary.LittleEndian.PutUint32(hdr[:], MaxPacketSize)
	if _, err := ReadFrameLength(bytes.NewReader(hdr[:])); err != nil {
		t.Fatalf("cap itself must be accepted: %v", err)
	}
}

func TestReadFrameIntoReusesBuffer(t *testing.T) {
	frame, err := EncodeFrame([]byte("abc"))
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	buf := make([]byte, 16)
	got, err := ReadFrameInto(bytes.NewReader(frame), buf)
	if err != nil {
		t.Fatalf("ReadFrameInto failed: %v", err)
	}
	if &got[0] != &buf[0] {
		t.Fatalf("expected payload to alias the supplied buffer")
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	frame, _ := EncodeFrame([]byte("abcdef"))
	_, err := ReadFrame(bytes.NewReader(frame[:len(frame)-2]))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}

func TestEncodeFrameBounds(t *testing.T) {
	if _, err := EncodeFrame(nil); err == nil {
		t.Fatalf("expected empty payload error")
	}
	if _, err := EncodeFrame(make([]byte, MaxPacketSize+1)); err == nil {
		t.Fatalf("expected oversize payload error")
	}
}
