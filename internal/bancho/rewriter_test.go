package bancho

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/rai-connect/raiproxy/internal/counters"
)

func packetBytes(id uint16, compression uint8, payload []byte) []byte {
	h := Header{PacketID: id, Compression: compression, Length: uint32(len(payload))}
	wire := h.Bytes()
	out := append([]byte{}, wire[:]...)
	return append(out, payload...)
}

func privilegePayload(bits uint32) []byte {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, bits)
	return p
}

func TestRewriterInjectsSupporterBit(t *testing.T) {
	c := &counters.Counters{}
	r := NewRewriter(true, c)

	in := packetBytes(uint16(UserPrivileges), 0, privilegePayload(1))
	out := r.Feed(in)

	if len(out) != len(in) {
		t.Fatalf("output length = %d, want %d", len(out), len(in))
	}
	gotBits := binary.LittleEndian.Uint32(out[HeaderSize : HeaderSize+4])
	if gotBits != 1|SupporterBit {
		t.Fatalf("bits = %#x, want %#x", gotBits, 1|SupporterBit)
	}
	if c.BanchoPacketsInjected.Load() != 1 {
		t.Fatalf("BanchoPacketsInjected = %d, want 1", c.BanchoPacketsInjected.Load())
	}
}

func TestRewriterLeavesOtherPacketsByteIdentical(t *testing.T) {
	r := NewRewriter(true, &counters.Counters{})

	in := packetBytes(83, 0, []byte("user presence blob")) // UserPresence, not UserPrivileges
	out := r.Feed(in)

	if !bytes.Equal(in, out) {
		t.Fatalf("non-UserPrivileges packet was altered: got %v, want %v", out, in)
	}
}

func TestRewriterSkipsCompressedUserPrivileges(t *testing.T) {
	r := NewRewriter(true, &counters.Counters{})

	in := packetBytes(uint16(UserPrivileges), 1, privilegePayload(1)) // compression flag set
	out := r.Feed(in)

	if !bytes.Equal(in, out) {
		t.Fatal("a compressed UserPrivileges payload must pass through unmutated")
	}
}

func TestRewriterWithoutInjectSupporterIsNoop(t *testing.T) {
	r := NewRewriter(false, &counters.Counters{})

	in := packetBytes(uint16(UserPrivileges), 0, privilegePayload(1))
	out := r.Feed(in)

	if !bytes.Equal(in, out) {
		t.Fatal("InjectSupporter=false must still forward packets byte for byte")
	}
}

func TestRewriterToleratesOneByteAtATimeFragmentation(t *testing.T) {
	c := &counters.Counters{}
	r := NewRewriter(true, c)

	in := packetBytes(uint16(UserPrivileges), 0, privilegePayload(1))
	var out []byte
	for i := range in {
		out = append(out, r.Feed(in[i:i+1])...)
	}

	if len(out) != len(in) {
		t.Fatalf("output length = %d, want %d", len(out), len(in))
	}
	gotBits := binary.LittleEndian.Uint32(out[HeaderSize : HeaderSize+4])
	if gotBits != 1|SupporterBit {
		t.Fatalf("bits = %#x, want %#x", gotBits, 1|SupporterBit)
	}
	if c.BanchoPacketsInjected.Load() != 1 {
		t.Fatalf("BanchoPacketsInjected = %d, want 1", c.BanchoPacketsInjected.Load())
	}
}

func TestRewriterHandlesMultiplePacketsInOneFeed(t *testing.T) {
	c := &counters.Counters{}
	r := NewRewriter(true, c)

	p1 := packetBytes(uint16(UserPrivileges), 0, privilegePayload(1))
	p2 := packetBytes(5, 0, []byte{0, 0, 0, 0}) // LoginReply, untouched
	in := append(append([]byte{}, p1...), p2...)

	out := r.Feed(in)
	if len(out) != len(in) {
		t.Fatalf("output length = %d, want %d", len(out), len(in))
	}
	if !bytes.Equal(out[len(p1):], p2) {
		t.Fatal("second packet was altered")
	}
	if c.BanchoPacketsInjected.Load() != 1 {
		t.Fatalf("BanchoPacketsInjected = %d, want 1", c.BanchoPacketsInjected.Load())
	}
}

func TestRewriterSkipsUserPrivilegesWithNonFourByteLength(t *testing.T) {
	c := &counters.Counters{}
	r := NewRewriter(true, c)

	// length=8, not 4: per spec.md's boundary behavior this must pass
	// through byte-identical, not be misread as a 4-byte bitmask with the
	// trailing 4 bytes silently dropped.
	payload := append(privilegePayload(1), []byte{0xaa, 0xbb, 0xcc, 0xdd}...)
	in := packetBytes(uint16(UserPrivileges), 0, payload)

	out := r.Feed(in)
	if !bytes.Equal(in, out) {
		t.Fatalf("a UserPrivileges payload with length != 4 must pass through unmutated, got %v, want %v", out, in)
	}
	if c.BanchoPacketsInjected.Load() != 0 {
		t.Fatalf("BanchoPacketsInjected = %d, want 0", c.BanchoPacketsInjected.Load())
	}
}

func TestRewriterFallsBackToPassThroughOnOversizedLength(t *testing.T) {
	r := NewRewriter(true, &counters.Counters{})

	h := Header{PacketID: uint16(UserPrivileges), Compression: 0, Length: MaxBufferSize + 1}
	wire := h.Bytes()

	out := r.Feed(wire[:])
	if !bytes.Equal(out, wire[:]) {
		t.Fatal("header bytes themselves must still be forwarded verbatim")
	}

	// Once in PassThrough, arbitrary bytes are forwarded raw rather than
	// reinterpreted as a new header/payload.
	junk := []byte{0xde, 0xad, 0xbe, 0xef}
	out = r.Feed(junk)
	if !bytes.Equal(out, junk) {
		t.Fatalf("PassThrough fallback must forward raw bytes unchanged, got %v", out)
	}
}

func TestRewriterIdempotentOnAlreadySetBit(t *testing.T) {
	c := &counters.Counters{}
	r := NewRewriter(true, c)

	in := packetBytes(uint16(UserPrivileges), 0, privilegePayload(1|SupporterBit))
	out := r.Feed(in)

	if !bytes.Equal(in, out) {
		t.Fatal("a payload that already carries the SUPPORTER bit must not be altered")
	}
	if c.BanchoPacketsInjected.Load() != 0 {
		t.Fatalf("BanchoPacketsInjected = %d, want 0 (no-op injection)", c.BanchoPacketsInjected.Load())
	}
}
