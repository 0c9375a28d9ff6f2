// Package tlsterm is the TLS Terminator (C3): it binds a loopback listener,
// drives the TLS handshake for each accepted connection using C1's
// certificate bundle, and hands the plaintext byte stream plus the
// negotiated SNI host to C4.
//
// Grounded on the teacher's listener.go (a net.Listener wrapper returning a
// tee-buffered Conn on Accept) and connect.go's HttpTpMitm, which builds a
// per-SNI tls.Config the same way via goproxy.TLSConfigFromCA — here
// through certs.Bundle.Leaf instead, since C1 owns that concern.
package tlsterm

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rai-connect/raiproxy/internal/certs"
	"github.com/rai-connect/raiproxy/internal/ioconn"
	"github.com/rai-connect/raiproxy/internal/rlog"
)

const handshakeTimeout = 10 * time.Second

var log = rlog.New("tlsterm")

// ErrMissingSNI is returned from within GetConfigForClient when a
// ClientHello carries no server_name extension. crypto/tls does not expose
// alert-code selection from this hook: any error here aborts the handshake
// with a TLS alert, which is the closest stdlib equivalent to spec.md
// §4.3's unrecognized_name requirement.
var ErrMissingSNI = errors.New("tlsterm: client hello has no SNI")

// Conn is a terminated connection handed to C4: the plaintext byte stream
// (read through one shared buffered reader, so bytes the router buffers
// while parsing HTTP are not lost when C6 takes over raw reads) plus the
// SNI host the client asked for.
type Conn struct {
	*ioconn.Conn
	SNIHost string
	ConnID  rlog.ConnID
}

// Terminator accepts loopback TCP connections and TLS-terminates them
// using bundle's per-SNI leaf certificates.
type Terminator struct {
	ln     net.Listener
	bundle *certs.Bundle
}

// Listen binds addr (host:port) and returns a Terminator ready to Accept.
func Listen(addr string, bundle *certs.Bundle) (*Terminator, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tlsterm: listen %s: %w", addr, err)
	}
	return &Terminator{ln: ln, bundle: bundle}, nil
}

func (t *Terminator) Addr() net.Addr { return t.ln.Addr() }

func (t *Terminator) Close() error { return t.ln.Close() }

// tlsConfig builds the per-connection tls.Config. It carries no certificate
// of its own: GetConfigForClient always runs first and mints a fresh leaf
// for whatever SNI the client presents.
func (t *Terminator) tlsConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			if hello.ServerName == "" {
				return nil, ErrMissingSNI
			}
			leaf, err := t.bundle.Leaf(hello.ServerName)
			if err != nil {
				return nil, fmt.Errorf("tlsterm: mint leaf for %s: %w", hello.ServerName, err)
			}
			return &tls.Config{
				MinVersion:   tls.VersionTLS12,
				Certificates: []tls.Certificate{leaf},
			}, nil
		},
	}
}

// Accept blocks until a client completes a TLS handshake and returns the
// terminated Conn. Handshake failures (missing SNI, timeout, protocol
// errors) are logged and do not stop the accept loop — the caller should
// call Accept again.
func (t *Terminator) Accept() (*Conn, error) {
	for {
		raw, err := t.ln.Accept()
		if err != nil {
			return nil, err
		}

		conn, err := t.handshake(raw)
		if err != nil {
			log.Warnf("handshake with %s failed: %v", raw.RemoteAddr(), err)
			raw.Close()
			continue
		}
		return conn, nil
	}
}

func (t *Terminator) handshake(raw net.Conn) (*Conn, error) {
	tlsConn := tls.Server(raw, t.tlsConfig())

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}

	sni := tlsConn.ConnectionState().ServerName
	return &Conn{Conn: ioconn.New(tlsConn), SNIHost: sni, ConnID: rlog.NewConnID()}, nil
}
