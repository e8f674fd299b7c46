// Package broadcast implements the snapshot channel: the host pushes
// length-prefixed snapshot frames to every connected slave, and slaves keep
// a self-healing connection that reconnects after any failure.
package broadcast

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"strat/pkg/protocol"
)

// ErrFrameTooLarge is returned when a length prefix exceeds
// protocol.MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// WriteFrame writes payload as one frame: a 4-byte big-endian length
// followed by the payload bytes.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > protocol.MaxFrameSize {
		return fmt.Errorf("write frame: %w (%d bytes)", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, protocol.FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload))) //nolint:gosec // bounded by MaxFrameSize
	copy(buf[protocol.FrameHeaderSize:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one frame and returns its payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [protocol.FrameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > protocol.MaxFrameSize {
		return nil, fmt.Errorf("read frame: %w (%d bytes)", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}
