package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single message; larger frames indicate a broken
// or hostile peer.
const MaxFrameSize = 8 * 1024 * 1024

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// WriteFrame writes one length-prefixed frame: a 64-bit unsigned
// big-endian length followed by the payload.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [8]byte
	binary.BigEndian.PutUint64(header[:], uint64(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}
	size := binary.BigEndian.Uint64(header[:])
	if size > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}
	return payload, nil
}
