package bancho

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"

	"github.com/rai-connect/raiproxy/internal/counters"
	"github.com/rai-connect/raiproxy/internal/rlog"
	"github.com/rai-connect/raiproxy/internal/tlsterm"
)

const (
	handshakeTimeout = 10 * time.Second
	copyBufferSize   = 8 * 1024
	legacyPort       = "13381"
)

var log = rlog.New("bancho")

// Splicer implements router.Splicer: it dials the real Bancho host,
// forwards the client's login POST, then hands the connection over to a
// raw, full-duplex byte splice for the rest of its life, mutating
// UserPrivileges packets flowing server→client.
type Splicer struct {
	TargetHost      string // the official Bancho host, e.g. "c.ppy.sh"
	InjectSupporter bool
	Counters        *counters.Counters
	Dialer          proxy.Dialer
}

// NewSplicer constructs a Splicer dialing targetHost directly.
func NewSplicer(targetHost string, injectSupporter bool, c *counters.Counters) *Splicer {
	return &Splicer{TargetHost: targetHost, InjectSupporter: injectSupporter, Counters: c, Dialer: proxy.Direct}
}

// Splice implements router.Splicer. loginReq is the HTTP request C4 has
// already read off conn (the Bancho handshake begins as a single HTTP
// POST/response exchange, whose response body goes through the same
// UserPrivileges rewrite); once that completes, both ends stop speaking
// HTTP and the connection becomes an opaque Bancho byte stream that Splice
// copies for the remainder of the connection's life, grounded on the
// teacher's tcp.go tcpCopy pattern.
func (s *Splicer) Splice(conn *tlsterm.Conn, loginReq *http.Request) error {
	raw, err := s.Dialer.Dial("tcp", net.JoinHostPort(s.TargetHost, "443"))
	if err != nil {
		return fmt.Errorf("bancho: dial %s: %w", s.TargetHost, err)
	}
	defer raw.Close()

	serverConn := tls.Client(raw, &tls.Config{ServerName: s.TargetHost, MinVersion: tls.VersionTLS12})
	hctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()
	if err := serverConn.HandshakeContext(hctx); err != nil {
		return fmt.Errorf("bancho: tls handshake with %s: %w", s.TargetHost, err)
	}

	if err := loginReq.Write(serverConn); err != nil {
		return fmt.Errorf("bancho: forward login request: %w", err)
	}

	serverReader := bufio.NewReader(serverConn)
	resp, err := http.ReadResponse(serverReader, loginReq)
	if err != nil {
		return fmt.Errorf("bancho: read login response: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("bancho: read login response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(NewRewriter(s.InjectSupporter, s.Counters).Feed(body)))
	if err := resp.Write(conn); err != nil {
		return fmt.Errorf("bancho: write login response to client: %w", err)
	}

	log.WithConn(conn.ConnID).Debugf("bancho handshake complete with %s, splicing", s.TargetHost)

	errCh := make(chan error, 2)
	go func() {
		buf := make([]byte, copyBufferSize)
		_, err := io.CopyBuffer(serverConn, conn, buf)
		errCh <- err
	}()
	go func() { errCh <- copyServerToClient(conn, serverReader, s.InjectSupporter, s.Counters) }()

	err = <-errCh
	conn.Close()
	serverConn.Close()
	<-errCh

	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("bancho: splice: %w", err)
	}
	return nil
}

// copyServerToClient streams bytes read from src to dst, mutating
// UserPrivileges payloads in place via a Rewriter, tolerating arbitrary
// fragmentation across TCP/TLS record boundaries.
func copyServerToClient(dst io.Writer, src *bufio.Reader, injectSupporter bool, c *counters.Counters) error {
	rewriter := NewRewriter(injectSupporter, c)
	buf := make([]byte, copyBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if out := rewriter.Feed(buf[:n]); len(out) > 0 {
				if _, werr := dst.Write(out); werr != nil {
					return werr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
