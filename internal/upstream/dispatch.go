package upstream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rai-connect/raiproxy/internal/counters"
)

const (
	headerTimeout = 30 * time.Second
	totalTimeout  = 5 * time.Minute
)

// hopByHop headers are stripped before forwarding, per spec.md §4.5.
var hopByHop = []string{
	"Connection", "Keep-Alive", "Proxy-Connection",
	"Transfer-Encoding", "TE", "Trailer", "Upgrade",
}

// Dispatcher implements router.Forwarder: it is C5, the Upstream
// Dispatcher. Counters is the shared atomic counter set C7 exposes via
// status(); Forward increments RequestsProxied on every completed
// response.
type Dispatcher struct {
	Pool     *Pool
	Counters *counters.Counters
}

func NewDispatcher(c *counters.Counters) *Dispatcher {
	return &Dispatcher{Pool: NewPool(), Counters: c}
}

// Forward implements spec.md §4.5's forward(request, targetHost): dial or
// reuse a pooled TLS connection to targetHost:443, write the request with
// its Host header rewritten and hop-by-hop headers stripped, and stream
// the response back to w. A transport failure before any response byte
// reaches w retries once if the method is idempotent (GET/HEAD); once any
// response byte has been written, Forward never retries.
func (d *Dispatcher) Forward(w io.Writer, req *http.Request, targetHost string) error {
	err := d.attempt(w, req, targetHost)
	if err == nil {
		d.Counters.RequestsProxied.Add(1)
		return nil
	}

	var te *transportError
	if errors.As(err, &te) && isIdempotent(req.Method) {
		if err = d.attempt(w, req, targetHost); err == nil {
			d.Counters.RequestsProxied.Add(1)
			return nil
		}
	}

	if errors.As(err, &te) {
		code, reason := statusFor(te.err)
		writeStatusOnly(w, code, reason)
	}
	return err
}

func writeStatusOnly(w io.Writer, code int, reason string) {
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Length: 0\r\n\r\n", code, reason)
}

// transportError marks a failure that happened before any response bytes
// reached the client, so Forward knows it is safe to retry.
type transportError struct{ err error }

func (t *transportError) Error() string { return t.err.Error() }
func (t *transportError) Unwrap() error { return t.err }

func isIdempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func (d *Dispatcher) attempt(w io.Writer, req *http.Request, targetHost string) error {
	l, err := d.Pool.acquire(targetHost)
	if err != nil {
		return &transportError{fmt.Errorf("upstream: %w", err)}
	}

	upstreamReq := cloneForUpstream(req, targetHost)

	writeErrCh := make(chan error, 1)
	go func() { writeErrCh <- upstreamReq.Write(l.conn) }()

	select {
	case err := <-writeErrCh:
		if err != nil {
			d.Pool.release(targetHost, l, false)
			return &transportError{fmt.Errorf("upstream: write request: %w", err)}
		}
	case <-time.After(totalTimeout):
		d.Pool.release(targetHost, l, false)
		return &transportError{fmt.Errorf("upstream: timed out writing request body: %w", os.ErrDeadlineExceeded)}
	}

	l.conn.SetReadDeadline(time.Now().Add(headerTimeout))
	resp, err := http.ReadResponse(bufio.NewReader(l.conn), req)
	if err != nil {
		d.Pool.release(targetHost, l, false)
		return &transportError{fmt.Errorf("upstream: read response headers: %w", err)}
	}
	l.conn.SetReadDeadline(time.Now().Add(totalTimeout))

	stripHopByHop(resp.Header)

	if err := resp.Write(w); err != nil {
		// Response bytes may have already reached the client; do not retry.
		d.Pool.release(targetHost, l, false)
		return fmt.Errorf("upstream: write response to client: %w", err)
	}
	resp.Body.Close()

	l.conn.SetReadDeadline(time.Time{})
	d.Pool.release(targetHost, l, resp.Close == false)
	return nil
}

// cloneForUpstream copies req, rewriting Host to targetHost and stripping
// hop-by-hop headers, per spec.md §4.5: "copies headers verbatim except:
// strips Host, rewrites it to targetHost; strips hop-by-hop headers."
func cloneForUpstream(req *http.Request, targetHost string) *http.Request {
	clone := req.Clone(req.Context())
	clone.Host = targetHost
	clone.URL.Scheme = "https"
	clone.URL.Host = targetHost
	clone.RequestURI = ""
	stripHopByHop(clone.Header)
	return clone
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHop {
		h.Del(name)
	}
}

// statusFor maps a transport failure to the HTTP status spec.md §4.5
// assigns it: a failure that reports itself as a timeout (the response
// header wait, or the total request time) is 504 Gateway Timeout; any
// other dial/handshake/read failure, including the pool's own handshake
// timeout, is 502 Bad Gateway.
func statusFor(err error) (int, string) {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return 504, "Gateway Timeout"
	}
	return 502, "Bad Gateway"
}
