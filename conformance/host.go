// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/sheetcraft/embwire/embwire"
)

// Host drives one compiler session from the host side of the wire. It
// speaks raw frames, so it can exercise the compiler's handling of inputs a
// well-behaved host library would never produce.
type Host struct {
	frames *embwire.FrameReader
	w      io.Writer
}

// NewHost wraps a connected transport pair. r carries compiler-to-host
// frames, w host-to-compiler frames.
func NewHost(r io.Reader, w io.Writer) *Host {
	return &Host{frames: embwire.NewFrameReader(r), w: w}
}

// Send writes one inbound message as a framed packet.
func (h *Host) Send(compilationID uint32, msg *embwire.InboundMessage) error {
	return h.SendRaw(compilationID, embwire.EncodeInboundMessage(msg))
}

// SendRaw writes an arbitrary packet body, bypassing the message encoder.
func (h *Host) SendRaw(compilationID uint32, body []byte) error {
	payload := embwire.AppendPacket(nil, embwire.Packet{
		CompilationID: compilationID,
		Body:          body,
	})
	return embwire.WriteFrame(h.w, payload)
}

// Recv reads and decodes the next outbound message.
func (h *Host) Recv() (uint32, *embwire.OutboundMessage, error) {
	payload, err := h.frames.ReadFrame()
	if err != nil {
		return 0, nil, fmt.Errorf("reading frame: %w", err)
	}
	pkt, perr := embwire.DecodePacket(payload)
	if perr != nil {
		return 0, nil, fmt.Errorf("decoding packet: %w", perr)
	}
	msg, err := embwire.DecodeOutboundMessage(pkt.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("decoding message: %w", err)
	}
	return pkt.CompilationID, msg, nil
}

// stringValue encodes an unquoted string in the wire value format, for use
// as a FunctionCallResponse result.
func stringValue(text string) []byte {
	var body []byte
	body = protowire.AppendTag(body, 1, protowire.BytesType)
	body = protowire.AppendString(body, text)
	var value []byte
	value = protowire.AppendTag(value, 1, protowire.BytesType)
	value = protowire.AppendBytes(value, body)
	return value
}

// hostFunctionValue encodes a first-class host function reference.
func hostFunctionValue(handle uint32, signature string) []byte {
	var body []byte
	body = protowire.AppendTag(body, 1, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(handle))
	body = protowire.AppendTag(body, 2, protowire.BytesType)
	body = protowire.AppendString(body, signature)
	var value []byte
	value = protowire.AppendTag(value, 8, protowire.BytesType)
	value = protowire.AppendBytes(value, body)
	return value
}
