// Package ioconn pairs a net.Conn with the bufio.Reader used to parse HTTP
// off it, so bytes already buffered ahead of the raw socket (the start of
// Bancho's opaque packet stream, a second pipelined request) are never lost
// when a later stage takes over raw reads of the same connection.
package ioconn

import (
	"bufio"
	"net"
)

// Conn is grounded on the teacher's conn.go/io.go Conn type, simplified to
// the one property every later stage here actually needs: Read always goes
// through the same *bufio.Reader, so nothing buffered during HTTP request
// parsing is dropped when C6 switches the connection into raw splice mode.
type Conn struct {
	net.Conn
	Reader *bufio.Reader
}

func New(inner net.Conn) *Conn {
	return &Conn{Conn: inner, Reader: bufio.NewReader(inner)}
}

// Read satisfies net.Conn by reading through the buffered reader so bytes
// already buffered ahead of the raw socket are served first.
func (c *Conn) Read(p []byte) (int, error) {
	return c.Reader.Read(p)
}

// Buffered reports how many bytes are sitting in the reader's buffer,
// unread — useful for tests and diagnostics that want to assert nothing is
// being silently dropped across a handoff.
func (c *Conn) Buffered() int {
	return c.Reader.Buffered()
}
