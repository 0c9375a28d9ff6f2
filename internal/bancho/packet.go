// Package bancho is the Bancho Splicer (C6): it mutates the UserPrivileges
// packet (id 71) flowing server→client on the c.<official> connection to
// set the SUPPORTER bit, and otherwise passes the stream through unchanged.
//
// Framing is grounded on original_source/domain/packet.rs's PacketHeader
// (7-byte little-endian id|compression|length) and
// inject_supporter_privileges; the splice loop is grounded on the
// teacher's tcp.go tcpCopy.
package bancho

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the fixed Bancho packet header length: u16 id, u8
// compression flag, u32 payload length, all little-endian.
const HeaderSize = 7

// MaxBufferSize bounds how large a single declared payload length is
// trusted to be before the stream is treated as unrecoverable and falls
// back to raw passthrough for the remainder of the connection, per
// spec.md §4.6.
const MaxBufferSize = 1 << 20 // 1MiB

// SupporterBit is bit 2 (0x04) of the UserPrivileges payload's u32
// bitmask, per original_source/domain/packet.rs's Privileges::SUPPORTER.
const SupporterBit uint32 = 0x04

// ServerPacketID identifies a Bancho server→client packet type. Only
// UserPrivileges is ever inspected; every other id is forwarded as an
// opaque payload.
type ServerPacketID uint16

// UserPrivileges is the packet id (71) carrying a client's privilege
// bitmask; its first 4 payload bytes are the little-endian u32 mutated by
// InjectSupporter.
const UserPrivileges ServerPacketID = 71

var errShortPayload = errors.New("bancho: privilege payload shorter than 4 bytes")

// Header is a parsed Bancho packet header.
type Header struct {
	PacketID    uint16
	Compression uint8
	Length      uint32
}

// ParseHeader decodes a Header from the first HeaderSize bytes of b. It
// reports false if b is too short.
func ParseHeader(b []byte) (Header, bool) {
	if len(b) < HeaderSize {
		return Header{}, false
	}
	return Header{
		PacketID:    binary.LittleEndian.Uint16(b[0:2]),
		Compression: b[2],
		Length:      binary.LittleEndian.Uint32(b[3:7]),
	}, true
}

// Bytes re-encodes h into wire form.
func (h Header) Bytes() [HeaderSize]byte {
	var out [HeaderSize]byte
	binary.LittleEndian.PutUint16(out[0:2], h.PacketID)
	out[2] = h.Compression
	binary.LittleEndian.PutUint32(out[3:7], h.Length)
	return out
}

// InjectSupporter sets the SUPPORTER bit in a little-endian u32 privilege
// bitmask in place. It reports whether the bit was newly set (false if
// payload is too short to hold a bitmask, or the bit was already set).
func InjectSupporter(payload []byte) bool {
	if len(payload) < 4 {
		return false
	}
	current := binary.LittleEndian.Uint32(payload[0:4])
	updated := current | SupporterBit
	if updated == current {
		return false
	}
	binary.LittleEndian.PutUint32(payload[0:4], updated)
	return true
}
