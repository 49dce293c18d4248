package protocol

import (
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"

	kverrors "github.com/devrev/framekv/internal/errors"
)

const (
	// PrefixSize is the width of the length prefix in front of every body.
	PrefixSize = 8
	// MaxFrameSize bounds a declared body length; larger prefixes are treated
	// as a corrupt stream.
	MaxFrameSize = 64 << 20
)

// WriteFrame writes the length prefix then the body as two writes. Callers
// sharing w must hold a lock across the call so frames never interleave.
func WriteFrame(w io.Writer, body []byte) error {
	var prefix [PrefixSize]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write frame prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed body.
//
// It returns io.EOF when the stream ends cleanly before a new frame starts.
// A stream that ends inside a frame, or a prefix above maxSize, yields a
// protocol violation.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxFrameSize
	}

	var prefix [PrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if stderrors.Is(err, io.ErrUnexpectedEOF) {
			return nil, kverrors.ProtocolViolation("stream ended inside length prefix", err)
		}
		return nil, err
	}

	size := binary.LittleEndian.Uint64(prefix[:])
	if size > uint64(maxSize) {
		return nil, kverrors.ProtocolViolation(
			fmt.Sprintf("declared frame length %d exceeds limit %d", size, maxSize), nil)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
			return nil, kverrors.ProtocolViolation(
				fmt.Sprintf("stream ended inside %d-byte frame", size), err)
		}
		return nil, err
	}
	return body, nil
}
