// Package upstream is the Upstream Dispatcher (C5): it opens pooled TLS
// connections to the real osu! (or mirror) servers, streams request and
// response bodies through, and enforces the retry/timeout policy of
// spec.md §4.5.
//
// The pool's exclusive-checkout, per-target semantics don't map onto any
// HTTP client in the corpus (net/http's own Transport pools by
// scheme+host+port but never exposes idle/lifetime/acquire-budget knobs at
// that granularity) so it is hand-rolled on crypto/tls + net, grounded
// loosely on the teacher's limiter.go TokenBucket shape, reduced here to
// one mutex-guarded idle list per target host.
package upstream

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/rai-connect/raiproxy/internal/rlog"
)

const (
	maxIdlePerTarget = 4
	maxLifetime      = 60 * time.Second
	acquireBudget    = 100 * time.Millisecond
	handshakeTimeout = 10 * time.Second
)

var log = rlog.New("upstream")

// pooledConn wraps a *tls.Conn with the bookkeeping the pool needs to
// evict it once stale.
type pooledConn struct {
	conn      *tls.Conn
	createdAt time.Time
}

func (p *pooledConn) expired() bool { return time.Since(p.createdAt) > maxLifetime }

// targetPool holds idle connections for one targetHost:443, guarded by mu.
// Only the idle list is capped (at maxIdlePerTarget); nothing bounds the
// number of concurrent checkouts.
type targetPool struct {
	mu   sync.Mutex
	idle []*pooledConn
}

// Pool is the per-process connection pool, one targetPool per host.
// Dialer is the pluggable dial seam (golang.org/x/net/proxy.Dialer),
// grounded on the teacher's Config.Dialer field, letting an operator chain
// the dispatcher through a corporate proxy or a test double.
type Pool struct {
	mu      sync.Mutex
	targets map[string]*targetPool

	Dialer proxy.Dialer
}

func NewPool() *Pool {
	return &Pool{
		targets: make(map[string]*targetPool),
		Dialer:  proxy.Direct,
	}
}

func (p *Pool) targetFor(host string) *targetPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.targets[host]
	if !ok {
		t = &targetPool{}
		p.targets[host] = t
	}
	return t
}

// lease is a checked-out connection plus the bookkeeping needed to decide,
// at release time, whether its lifetime has expired — tracked from when it
// was actually dialed, not from whichever release happens to return it.
type lease struct {
	conn      *tls.Conn
	createdAt time.Time
}

// acquire returns an idle, non-expired connection to targetHost if one is
// available within acquireBudget; otherwise it dials a fresh one.
// Acquisition never blocks longer than acquireBudget, per spec.md §5.
func (p *Pool) acquire(targetHost string) (*lease, error) {
	t := p.targetFor(targetHost)

	deadline := time.Now().Add(acquireBudget)
	for time.Now().Before(deadline) {
		t.mu.Lock()
		for len(t.idle) > 0 {
			pc := t.idle[len(t.idle)-1]
			t.idle = t.idle[:len(t.idle)-1]
			if pc.expired() {
				pc.conn.Close()
				continue
			}
			t.mu.Unlock()
			return &lease{conn: pc.conn, createdAt: pc.createdAt}, nil
		}
		t.mu.Unlock()
		break
	}

	return p.dial(targetHost)
}

func (p *Pool) dial(targetHost string) (*lease, error) {
	raw, err := p.Dialer.Dial("tcp", net.JoinHostPort(targetHost, "443"))
	if err != nil {
		return nil, fmt.Errorf("upstream: dial %s: %w", targetHost, err)
	}

	tlsConn := tls.Client(raw, &tls.Config{ServerName: targetHost, MinVersion: tls.VersionTLS12})
	done := make(chan error, 1)
	go func() { done <- tlsConn.Handshake() }()

	select {
	case err := <-done:
		if err != nil {
			raw.Close()
			return nil, fmt.Errorf("upstream: handshake with %s: %w", targetHost, err)
		}
	case <-time.After(handshakeTimeout):
		raw.Close()
		return nil, fmt.Errorf("upstream: handshake with %s timed out", targetHost)
	}

	return &lease{conn: tlsConn, createdAt: time.Now()}, nil
}

// release returns l to targetHost's idle list, unless it has since expired
// or the pool is already at maxIdlePerTarget, in which case it is closed.
func (p *Pool) release(targetHost string, l *lease, healthy bool) {
	if !healthy || time.Since(l.createdAt) > maxLifetime {
		l.conn.Close()
		return
	}

	t := p.targetFor(targetHost)
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.idle) >= maxIdlePerTarget {
		l.conn.Close()
		return
	}
	t.idle = append(t.idle, &pooledConn{conn: l.conn, createdAt: l.createdAt})
}
