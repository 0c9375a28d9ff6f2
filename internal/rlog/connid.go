package rlog

import "github.com/rs/xid"

// ConnID is a short opaque per-connection correlation id, minted once per
// accepted connection (internal/tlsterm.Terminator.Accept) and attached to
// every log line that connection produces across C3/C4/C5/C6, so one
// game-client connection's activity can be correlated without a full
// tracing system.
type ConnID string

// NewConnID mints a fresh ConnID.
func NewConnID() ConnID { return ConnID(xid.New().String()) }

func (id ConnID) String() string { return string(id) }
