// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds the length prefix, guarding against a corrupt or
// hostile length field causing an unbounded allocation.
const MaxFrameSize = 16 << 20 // 16 MiB

// lengthPrefixSize is the width of the explicit length prefix that
// lets a reader know exactly how many bytes to drain for one frame,
// rather than assuming a frame always arrives in a single read.
const lengthPrefixSize = 4

// WriteFrame encodes msg and writes it to w as a single length-
// prefixed frame: a 4-byte big-endian length followed by that many
// bytes of protobuf-encoded [Message].
func WriteFrame(w io.Writer, msg *Message) error {
	body := Marshal(msg)
	if len(body) > MaxFrameSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds max %d", len(body), MaxFrameSize)
	}

	frame := make([]byte, lengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(frame[:lengthPrefixSize], uint32(len(body)))
	copy(frame[lengthPrefixSize:], body)

	// One Write call per frame: a short write on a TCP stream never
	// splits what the peer's ReadFrame expects, so there's nothing to
	// retry here beyond what the io.Writer contract already promises.
	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one length-prefixed frame from r and decodes it.
// It returns io.EOF only when r is exhausted before any byte of a new
// frame arrives; a frame truncated mid-stream surfaces as
// io.ErrUnexpectedEOF via [io.ReadFull].
func ReadFrame(r io.Reader) (*Message, error) {
	var lenbuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenbuf[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(lenbuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds max %d", n, MaxFrameSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return Unmarshal(body)
}
