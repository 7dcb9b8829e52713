// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameBytes caps the payload length the codec will accept.
// 16 MiB is far beyond any tracker message; anything larger indicates a
// corrupt length prefix or a peer speaking another protocol.
const DefaultMaxFrameBytes = 16 << 20

// FramingError reports a malformed or truncated frame: a short read on
// the length prefix or payload, a length beyond the configured cap, or
// a socket error surfaced mid-frame. Sessions treat any FramingError as
// fatal for the connection.
type FramingError struct {
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("framing: %s: %v", e.Reason, e.Err)
	}
	return "framing: " + e.Reason
}

func (e *FramingError) Unwrap() error { return e.Err }

// IsFramingError reports whether err is (or wraps) a FramingError.
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}

// ReadFrame reads one length-prefixed frame from r and returns the
// payload. The read loops until the full payload arrives (io.ReadFull
// retries partial receives). maxBytes of 0 applies
// DefaultMaxFrameBytes.
func ReadFrame(r io.Reader, maxBytes uint32) ([]byte, error) {
	if maxBytes == 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, &FramingError{Reason: "reading length prefix", Err: err}
	}
	length := binary.LittleEndian.Uint32(header[:])
	if length > maxBytes {
		return nil, &FramingError{
			Reason: fmt.Sprintf("frame length %d exceeds cap %d", length, maxBytes),
		}
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &FramingError{Reason: "reading payload", Err: err}
	}
	return payload, nil
}

// WriteFrame writes payload to w as one length-prefixed frame. The
// prefix and payload go out in a single Write so a frame is never
// interleaved with another writer that serializes on the same lock.
func WriteFrame(w io.Writer, payload []byte) error {
	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ErrBadMagic is returned by AcceptHandshake when the peer's first four
// bytes are not the tracker magic. The caller closes the connection
// without replying.
var ErrBadMagic = errors.New("handshake magic mismatch")

// AcceptHandshake runs the server side of the magic handshake: read the
// peer's 4-byte magic, echo it back on match, return ErrBadMagic on
// mismatch without writing anything.
func AcceptHandshake(rw io.ReadWriter) error {
	var raw [4]byte
	if _, err := io.ReadFull(rw, raw[:]); err != nil {
		return fmt.Errorf("reading handshake: %w", err)
	}
	if binary.LittleEndian.Uint32(raw[:]) != Magic {
		return ErrBadMagic
	}
	if _, err := rw.Write(raw[:]); err != nil {
		return fmt.Errorf("echoing handshake: %w", err)
	}
	return nil
}

// Handshake runs the client side: send the magic, read the server's
// echo, and fail if the echo does not match. A server that is not a
// tracker typically closes the connection instead of echoing, which
// surfaces here as a read error.
func Handshake(rw io.ReadWriter) error {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], Magic)
	if _, err := rw.Write(raw[:]); err != nil {
		return fmt.Errorf("sending handshake: %w", err)
	}
	var echo [4]byte
	if _, err := io.ReadFull(rw, echo[:]); err != nil {
		return fmt.Errorf("reading handshake echo: %w", err)
	}
	if echo != raw {
		return ErrBadMagic
	}
	return nil
}
