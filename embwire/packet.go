// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package embwire

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Packet is one decoded frame payload: the compilation the message belongs
// to plus the opaque message body.
type Packet struct {
	CompilationID uint32
	Body          []byte
}

// DecodePacket splits a frame payload into its leading varint compilation
// id and the trailing message body. The compilation id is host-controlled:
// an unterminated varint or one wider than 32 bits is a non-recoverable
// protocol error reported on the reserved error id.
func DecodePacket(payload []byte) (Packet, *ProtocolError) {
	id, n := protowire.ConsumeVarint(payload)
	if n < 0 {
		return Packet{}, parseError("invalid compilation ID varint: continuation bit set on final byte")
	}
	if id > math.MaxUint32 {
		return Packet{}, parseError("varint compilation ID %d is wider than 32 bits", id)
	}
	return Packet{CompilationID: uint32(id), Body: payload[n:]}, nil
}

// AppendPacket appends the wire form of a packet (compilation id varint
// followed by the message body) to dst.
func AppendPacket(dst []byte, p Packet) []byte {
	dst = protowire.AppendVarint(dst, uint64(p.CompilationID))
	return append(dst, p.Body...)
}
