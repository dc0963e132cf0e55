// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package embwire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// FrameReader decodes the length-prefixed framing layer: each frame is a
// varint payload length followed by that many raw bytes. The reader buffers
// partial frames across transport reads and has no knowledge of frame
// contents.
type FrameReader struct {
	r *bufio.Reader
	// MaxFrameSize rejects frames whose declared length exceeds it.
	// Zero means no limit; the framing layer itself imposes none.
	MaxFrameSize uint64
}

// NewFrameReader wraps a byte stream in a frame decoder.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// ReadFrame returns the next frame payload. Zero-length payloads are legal
// and yield an empty (non-nil) slice. At a clean frame boundary the end of
// the stream is reported as io.EOF; a stream ending mid-frame is an error.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	length, err := binary.ReadUvarint(fr.r)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("frame length prefix truncated: %w", err)
		}
		return nil, err
	}
	if fr.MaxFrameSize != 0 && length > fr.MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds the %d byte limit", length, fr.MaxFrameSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("frame truncated: expected %d payload bytes: %w", length, io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	return payload, nil
}

// AppendFrame appends a complete frame (length prefix plus payload) to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = protowire.AppendVarint(dst, uint64(len(payload)))
	return append(dst, payload...)
}

// WriteFrame encodes and writes one frame. The frame is written with a
// single Write call so concurrent writers guarded by a lock never
// interleave partial frames.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := AppendFrame(make([]byte, 0, len(payload)+binary.MaxVarintLen64), payload)
	_, err := w.Write(buf)
	return err
}
