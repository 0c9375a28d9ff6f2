// Package control is the Control Plane (C7): it owns the start/stop
// lifecycle state machine, wires C1 through C6 together, and exposes the
// request/response control API of spec.md §6 (start, stop, status,
// getCounters, getLogs, clearLogs) as a plain Go interface any UI
// collaborator (or cmd/raiconnectd) can drive directly.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rai-connect/raiproxy/internal/bancho"
	"github.com/rai-connect/raiproxy/internal/certs"
	"github.com/rai-connect/raiproxy/internal/config"
	"github.com/rai-connect/raiproxy/internal/counters"
	"github.com/rai-connect/raiproxy/internal/hostsfile"
	"github.com/rai-connect/raiproxy/internal/rlog"
	"github.com/rai-connect/raiproxy/internal/router"
	"github.com/rai-connect/raiproxy/internal/tlsterm"
	"github.com/rai-connect/raiproxy/internal/upstream"
)

// stopGrace is how long Stopping waits for in-flight connections before
// forcing closure, per spec.md §4.7.
const stopGrace = 5 * time.Second

// legacyPort is the dual-port legacy Bancho entry point's fixed port,
// grounded on original_source/infrastructure/tcp_proxy.rs's BANCHO_PORT
// convention and spec.md §9's dual-port open question.
const legacyPort = "13381"

var log = rlog.New("control")

// State is one position in the state machine of spec.md §4.7:
// Stopped → Starting → Running → Stopping → Stopped, with Failed
// reachable from Starting or Running.
type State string

const (
	Stopped  State = "Stopped"
	Starting State = "Starting"
	Running  State = "Running"
	Stopping State = "Stopping"
	Failed   State = "Failed"
)

// Status is the response shape of the status() control operation.
type Status struct {
	State     State              `json:"state"`
	Counters  counters.Snapshot  `json:"counters"`
	LastError string             `json:"lastError,omitempty"`
}

// Plane is C7: the single owner of the running proxy's lifecycle. Zero
// value is a stopped plane ready for Start.
type Plane struct {
	mu        sync.Mutex
	state     State
	lastError error

	cfg      config.ProxyConfig
	counters *counters.Counters

	bundle   *certs.Bundle
	hosts    *hostsfile.Manager
	term     *tlsterm.Terminator
	legacyLn net.Listener

	acceptDone chan struct{}
	stopCh     chan struct{}
}

// New returns a Plane in the Stopped state.
func New() *Plane {
	return &Plane{state: Stopped, hosts: hostsfile.New()}
}

// Start implements C7's start(ProxyConfig): C1.ensure,
// C1.installToSystemTrust (best effort), C2.ensureAliases, bind socket,
// spawn accept loop. Any failure before Running transitions to
// Failed(reason) and leaves the plane stopped.
func (p *Plane) Start(cfg config.ProxyConfig) error {
	p.mu.Lock()
	if p.state != Stopped && p.state != Failed {
		p.mu.Unlock()
		return fmt.Errorf("control: start called in state %s", p.state)
	}
	p.state = Starting
	p.cfg = cfg
	p.counters = &counters.Counters{}
	p.mu.Unlock()

	if err := p.doStart(cfg); err != nil {
		p.mu.Lock()
		p.state = Failed
		p.lastError = err
		p.mu.Unlock()
		log.Errorf("start failed: %v", err)
		return err
	}

	p.mu.Lock()
	p.state = Running
	p.lastError = nil
	p.mu.Unlock()
	log.Infof("proxy running on %s", cfg.Addr())
	return nil
}

func (p *Plane) doStart(cfg config.ProxyConfig) error {
	bundle, err := certs.Ensure(cfg.Aliases())
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	p.bundle = bundle

	if err := bundle.InstallToSystemTrust(); err != nil {
		// Best effort, per spec.md §4.7: log and continue rather than
		// fail start over a trust-store quirk.
		log.Warnf("install CA to system trust store: %v", err)
	}

	if err := p.hosts.EnsureAliases(cfg.Aliases()); err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	term, err := tlsterm.Listen(cfg.Addr(), bundle)
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	p.term = term

	dispatcher := upstream.NewDispatcher(p.counters)
	splicer := bancho.NewSplicer(cfg.BanchoHost(), cfg.InjectSupporter, p.counters)
	handler := &router.Handler{
		Table: router.Table{
			OfficialBaseHost:    cfg.OfficialBaseHost,
			MirrorAPIBaseURL:    cfg.MirrorAPIBaseURL,
			MirrorDirectBaseURL: cfg.MirrorDirectBaseURL,
		},
		Forwarder: dispatcher,
		Splicer:   splicer,
	}

	legacyAddr := net.JoinHostPort(cfg.BindAddress, legacyPort)
	legacyLn, err := bancho.ListenLegacyTCP(legacyAddr, cfg.BanchoHost(), cfg.InjectSupporter, p.counters)
	if err != nil {
		term.Close()
		return fmt.Errorf("bind: legacy bancho listener: %w", err)
	}
	p.legacyLn = legacyLn

	p.stopCh = make(chan struct{})
	p.acceptDone = make(chan struct{})
	go p.acceptLoop(handler)

	return nil
}

func (p *Plane) acceptLoop(handler *router.Handler) {
	defer close(p.acceptDone)
	var wg sync.WaitGroup
	for {
		conn, err := p.term.Accept()
		if err != nil {
			select {
			case <-p.stopCh:
				wg.Wait()
				return
			default:
				log.Warnf("accept: %v", err)
				continue
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			handler.Serve(conn)
		}()
	}
}

// Stop implements C7's stop(): close the listener, wait up to stopGrace
// for in-flight connections, remove the hosts block, and leave the
// certificate installed. Connections still in flight after stopGrace are
// not closed by Stop; it stops waiting for them and carries on.
func (p *Plane) Stop() error {
	p.mu.Lock()
	if p.state != Running && p.state != Failed {
		p.mu.Unlock()
		return fmt.Errorf("control: stop called in state %s", p.state)
	}
	p.state = Stopping
	term := p.term
	stopCh := p.stopCh
	acceptDone := p.acceptDone
	p.mu.Unlock()

	if term != nil {
		close(stopCh)
		term.Close()

		select {
		case <-acceptDone:
		case <-time.After(stopGrace):
			log.Warn("in-flight connections did not finish within grace period, no longer waiting for them")
		}
	}

	p.mu.Lock()
	legacyLn := p.legacyLn
	p.mu.Unlock()
	if legacyLn != nil {
		legacyLn.Close()
	}

	if err := p.hosts.RemoveBlock(); err != nil {
		log.Warnf("remove hosts block: %v", err)
	}

	p.mu.Lock()
	p.state = Stopped
	p.term = nil
	p.legacyLn = nil
	p.mu.Unlock()
	log.Info("proxy stopped")
	return nil
}

// Status implements C7's status().
func (p *Plane) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr string
	if p.lastError != nil {
		lastErr = p.lastError.Error()
	}
	var snap counters.Snapshot
	if p.counters != nil {
		snap = p.counters.Snapshot()
	}
	return Status{State: p.state, Counters: snap, LastError: lastErr}
}

// GetCounters implements C7's getCounters().
func (p *Plane) GetCounters() counters.Snapshot {
	p.mu.Lock()
	c := p.counters
	p.mu.Unlock()
	if c == nil {
		return counters.Snapshot{}
	}
	return c.Snapshot()
}

// GetLogs implements C7's getLogs(since).
func (p *Plane) GetLogs(since time.Time) []rlog.Record {
	return rlog.SharedRing().Since(since)
}

// ClearLogs implements C7's clearLogs().
func (p *Plane) ClearLogs() {
	rlog.SharedRing().Clear()
}

// UninstallCA is the separate explicit action spec.md §4.7 calls out:
// removing the CA from the system trust store is never done implicitly
// by Stop.
func (p *Plane) UninstallCA() error {
	p.mu.Lock()
	bundle := p.bundle
	p.mu.Unlock()
	if bundle == nil {
		return errors.New("control: no certificate bundle to uninstall")
	}
	return bundle.UninstallFromSystemTrust()
}

// RunUntilCancelled blocks until ctx is cancelled (e.g. by an OS signal),
// then stops the plane gracefully. It is the shape cmd/raiconnectd drives
// directly since it has no separate UI process to poll status() from.
func (p *Plane) RunUntilCancelled(ctx context.Context) error {
	<-ctx.Done()
	return p.Stop()
}
