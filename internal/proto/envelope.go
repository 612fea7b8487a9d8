package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxPacketSize caps a single framed application packet.
	MaxPacketSize   = 10 << 20
	FrameHeaderSize = 4
)

var ErrFrameSize = errors.New("invalid frame size")

// Frame lengths use the little-endian prefix; every other integer on the
// wire is big-endian.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if len(payload) > MaxPacketSize {
		return nil, fmt.Errorf("payload too large")
	}
	out := make([]byte, FrameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[:FrameHeaderSize], uint32(len(payload)))
	copy(out[FrameHeaderSize:], payload)
	return out, nil
}

// ReadFrameLength reads one length prefix and validates it against the cap.
func ReadFrameLength(r io.Reader) (int, error) {
	var lenBuf [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 || n > MaxPacketSize {
		return 0, fmt.Errorf("%w: %d", ErrFrameSize, n)
	}
	return int(n), nil
}

// ReadFrameInto reads one frame, reusing buf when it is large enough.
// The returned slice aliases buf in that case.
func ReadFrameInto(r io.Reader, buf []byte) ([]byte, error) {
	n, err := ReadFrameLength(r)
	if err != nil {
		return nil, err
	}
	if cap(buf) < n {
		buf = make([]byte, n)
	}
	payload := buf[:n]
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func ReadFrame(r io.Reader) ([]byte, error) {
	return ReadFrameInto(r, nil)
}

func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	total := 0
	for total < len(frame) {
		n, err := w.Write(frame[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("short write")
		}
		total += n
	}
	return nil
}
