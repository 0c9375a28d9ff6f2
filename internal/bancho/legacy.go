package bancho

import (
	"io"
	"net"

	"github.com/rai-connect/raiproxy/internal/counters"
)

// ListenLegacyTCP binds a plain TCP listener (historically
// 127.0.0.1:13381) for osu! clients old enough to speak Bancho directly
// over TCP instead of through the HTTPS splice, grounded on
// original_source/infrastructure/tcp_proxy.rs's run_tcp_proxy. Each
// accepted connection is dialed straight through to targetHost:13381 and
// spliced exactly like the HTTPS path, minus the HTTP login exchange that
// only exists on the TLS-terminated port.
func ListenLegacyTCP(addr, targetHost string, injectSupporter bool, c *counters.Counters) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go acceptLegacyLoop(ln, targetHost, injectSupporter, c)
	return ln, nil
}

func acceptLegacyLoop(ln net.Listener, targetHost string, injectSupporter bool, c *counters.Counters) {
	for {
		client, err := ln.Accept()
		if err != nil {
			return
		}
		go handleLegacyConn(client, targetHost, injectSupporter, c)
	}
}

func handleLegacyConn(client net.Conn, targetHost string, injectSupporter bool, c *counters.Counters) {
	defer client.Close()

	server, err := net.Dial("tcp", net.JoinHostPort(targetHost, legacyPort))
	if err != nil {
		log.Errorf("legacy bancho: dial %s:%s: %v", targetHost, legacyPort, err)
		return
	}
	defer server.Close()

	errCh := make(chan error, 2)
	go func() {
		buf := make([]byte, copyBufferSize)
		_, err := io.CopyBuffer(server, client, buf)
		errCh <- err
	}()
	go func() {
		rewriter := NewRewriter(injectSupporter, c)
		buf := make([]byte, copyBufferSize)
		for {
			n, rerr := server.Read(buf)
			if n > 0 {
				if out := rewriter.Feed(buf[:n]); len(out) > 0 {
					if _, werr := client.Write(out); werr != nil {
						errCh <- werr
						return
					}
				}
			}
			if rerr != nil {
				errCh <- rerr
				return
			}
		}
	}()
	<-errCh
}
