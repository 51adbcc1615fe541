package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	nimbus "github.com/everydev1618/nimbus"
)

// maxFrameSize bounds a single frame's payload, guarding against a
// corrupt or hostile length prefix forcing an unbounded allocation.
const maxFrameSize = 64 << 20 // 64 MiB

// WriteFrame writes payload as a 4-byte big-endian length prefix followed
// by the bytes themselves. Length-prefixed framing is used here instead of
// the original's sentinel-byte (byte_marks) scheme because Mail payloads
// are binary and may legitimately contain the sentinel value; a length
// prefix is binary-safe without an escaping pass (see DESIGN.md).
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("nimbus/transport: %w: write frame length: %v", nimbus.ErrMessageTransport, err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("nimbus/transport: %w: write frame body: %v", nimbus.ErrMessageTransport, err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("nimbus/transport: %w: frame size %d exceeds limit", nimbus.ErrInvalidData, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("nimbus/transport: %w: read frame body: %v", nimbus.ErrMessageTransport, err)
	}
	return payload, nil
}
