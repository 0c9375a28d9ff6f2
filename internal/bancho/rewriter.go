package bancho

import "github.com/rai-connect/raiproxy/internal/counters"

// phase is the Rewriter's state machine position, per spec.md §4.6.
type phase int

const (
	// phaseHeader is buffering the next packet's 7-byte header.
	phaseHeader phase = iota
	// phasePayload is streaming the current packet's payload, mutating
	// it in place if it is an uncompressed 4-byte UserPrivileges packet
	// and supporter injection is enabled.
	phasePayload
	// phasePassThrough is terminal: a declared payload length exceeded
	// MaxBufferSize, so framing can no longer be trusted and every
	// subsequent byte on the connection is forwarded raw.
	phasePassThrough
)

// Rewriter is a streaming, stateful Bancho packet rewriter. It tolerates
// arbitrarily fragmented input — down to one byte per Feed call — because
// TCP and TLS record boundaries never align with packet boundaries.
type Rewriter struct {
	injectSupporter bool
	counters        *counters.Counters

	phase phase

	headerBuf [HeaderSize]byte
	headerLen int

	header    Header
	remaining uint32
	mutate    bool

	privBuf    [4]byte
	privOffset int
}

// NewRewriter constructs a Rewriter. If injectSupporter is false, the
// packet stream is still parsed (to keep byte-for-byte framing intact)
// but UserPrivileges payloads are left untouched.
func NewRewriter(injectSupporter bool, c *counters.Counters) *Rewriter {
	return &Rewriter{injectSupporter: injectSupporter, counters: c, phase: phaseHeader}
}

// Feed consumes data read from the server side of a Bancho connection and
// returns the bytes ready to be written to the client, with any
// UserPrivileges payload mutated in place.
func (r *Rewriter) Feed(data []byte) []byte {
	var out []byte
	for len(data) > 0 {
		switch r.phase {
		case phasePassThrough:
			out = append(out, data...)
			return out

		case phaseHeader:
			need := HeaderSize - r.headerLen
			n := need
			if n > len(data) {
				n = len(data)
			}
			copy(r.headerBuf[r.headerLen:], data[:n])
			r.headerLen += n
			out = append(out, data[:n]...)
			data = data[n:]

			if r.headerLen == HeaderSize {
				h, _ := ParseHeader(r.headerBuf[:])
				r.headerLen = 0
				r.beginPayload(h)
			}

		case phasePayload:
			n := r.remaining
			if uint32(len(data)) < n {
				n = uint32(len(data))
			}
			chunk := data[:n]
			data = data[n:]
			r.remaining -= n

			if r.mutate {
				out = append(out, r.consumeMutating(chunk)...)
			} else {
				out = append(out, chunk...)
			}

			if r.remaining == 0 {
				r.phase = phaseHeader
			}
		}
	}
	return out
}

// beginPayload decides, from a freshly parsed header, whether the
// upcoming payload needs mutation and how many bytes to stream through.
func (r *Rewriter) beginPayload(h Header) {
	r.header = h

	if h.Length > MaxBufferSize {
		r.phase = phasePassThrough
		return
	}
	if h.Length == 0 {
		r.phase = phaseHeader
		return
	}

	r.remaining = h.Length
	r.mutate = r.injectSupporter &&
		ServerPacketID(h.PacketID) == UserPrivileges &&
		h.Compression == 0 &&
		h.Length == 4
	r.privOffset = 0
	r.phase = phasePayload
}

// consumeMutating buffers the first 4 bytes of a UserPrivileges payload
// across as many Feed calls as it takes, mutates the bitmask once
// complete, and passes the rest of the payload through unchanged.
func (r *Rewriter) consumeMutating(chunk []byte) []byte {
	var out []byte
	i := 0
	for i < len(chunk) && r.privOffset < 4 {
		r.privBuf[r.privOffset] = chunk[i]
		r.privOffset++
		i++
	}

	if r.privOffset == 4 {
		if InjectSupporter(r.privBuf[:4]) && r.counters != nil {
			r.counters.BanchoPacketsInjected.Add(1)
		}
		out = append(out, r.privBuf[:4]...)
		r.mutate = false
	}

	out = append(out, chunk[i:]...)
	return out
}
