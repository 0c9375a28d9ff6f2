package router

import (
	"fmt"
	"io"
	"net/http"

	"github.com/rai-connect/raiproxy/internal/rlog"
	"github.com/rai-connect/raiproxy/internal/tlsterm"
)

var log = rlog.New("router")

// Forwarder carries out a MirrorForward or UpstreamPassthrough
// classification: build the upstream request for req against targetHost
// and stream the response back over w. Satisfied by upstream.Dispatcher.
type Forwarder interface {
	Forward(w io.Writer, req *http.Request, targetHost string) error
}

// Splicer takes over a connection once C4 has classified it as Bancho:
// it forwards the initial login POST (loginReq) to the Bancho host over its
// own upstream TLS connection, then activates stream-inspection mode on the
// response and
// everything the connection carries afterward. Satisfied by
// bancho.Splicer.
type Splicer interface {
	Splice(conn *tlsterm.Conn, loginReq *http.Request) error
}

// Handler wires a classification Table to the collaborators that act on
// its decisions.
type Handler struct {
	Table     Table
	Forwarder Forwarder
	Splicer   Splicer
}

// Serve reads and classifies requests off conn until the connection
// closes or a Bancho splice takes it over. Per spec.md §4.4, pipelined
// requests are drained strictly sequentially: Serve never starts reading
// the next request before the current one's response (or handoff) is
// complete.
func (h *Handler) Serve(conn *tlsterm.Conn) {
	for {
		req, err := http.ReadRequest(conn.Reader)
		if err != nil {
			if err != io.EOF {
				log.WithConn(conn.ConnID).Debugf("request read ended: %v", err)
			}
			return
		}

		route := h.Table.Classify(conn.SNIHost, req.Method, req.URL.Path)
		switch route.Kind {

		case Misdirected:
			drainBody(req)
			writeStatusOnly(conn, 421, "Misdirected Request")

		case MirrorRedirect:
			drainBody(req)
			writeRedirect(conn, redirectLocation(route.RedirectURL, req))

		case MirrorForward:
			if err := h.Forwarder.Forward(conn, req, hostOf(route.ForwardBaseURL)); err != nil {
				log.Warnf("mirror-forward %s: %v", req.URL.Path, err)
				return
			}

		case UpstreamPassthrough:
			if err := h.Forwarder.Forward(conn, req, route.TargetHost); err != nil {
				log.Warnf("upstream-passthrough %s: %v", req.URL.Path, err)
				return
			}

		case BanchoSplice:
			if err := h.Splicer.Splice(conn, req); err != nil {
				log.Warnf("bancho-splice: %v", err)
			}
			return
		}
	}
}

func drainBody(req *http.Request) {
	if req.Body != nil {
		io.Copy(io.Discard, req.Body)
		req.Body.Close()
	}
}

func redirectLocation(base string, req *http.Request) string {
	if req.URL.RawQuery == "" {
		return base
	}
	return base + "?" + req.URL.RawQuery
}

func writeStatusOnly(w io.Writer, code int, reason string) {
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Length: 0\r\n\r\n", code, reason)
}

func writeRedirect(w io.Writer, location string) {
	fmt.Fprintf(w, "HTTP/1.1 302 Found\r\nLocation: %s\r\nContent-Length: 0\r\n\r\n", location)
}

// hostOf strips a scheme and any trailing path from a base URL, leaving
// just the host[:port] Forwarder.Forward expects.
func hostOf(baseURL string) string {
	s := baseURL
	for _, prefix := range []string{"https://", "http://"} {
		if len(s) > len(prefix) && s[:len(prefix)] == prefix {
			s = s[len(prefix):]
			break
		}
	}
	for i, r := range s {
		if r == '/' {
			return s[:i]
		}
	}
	return s
}
