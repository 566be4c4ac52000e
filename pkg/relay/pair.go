// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Phase is the lifecycle state of a connection pair. Transitions are
// one-directional: a pair never returns to sniffing once relaying or
// probe-responding has begun.
type Phase int

const (
	// PhaseSniffing means the first bytes of the client connection are
	// being classified; nothing has been forwarded yet.
	PhaseSniffing Phase = iota

	// PhaseRelaying means both copy loops are pumping bytes.
	PhaseRelaying

	// PhaseProbeResponding means the pair is answering a health probe
	// locally; the backend is never contacted.
	PhaseProbeResponding

	// PhaseClosed is the terminal state; both handles are closed.
	PhaseClosed
)

// String returns a string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseSniffing:
		return "sniffing"
	case PhaseRelaying:
		return "relaying"
	case PhaseProbeResponding:
		return "probe_responding"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close reasons recorded by whichever path tears a pair down first.
const (
	ReasonClientClosed   = "client closed"
	ReasonBackendClosed  = "backend closed"
	ReasonRelayError     = "relay error"
	ReasonDialFailed     = "backend dial failed"
	ReasonIdleTimeout    = "idle timeout"
	ReasonProbeResponded = "probe responded"
	ReasonShutdown       = "shutdown"
)

// Pair is the client-facing and backend-facing sockets of one proxied
// session, managed as a unit. A pair is created per accepted connection
// and destroyed exactly once; it is owned by the server goroutine that
// created it, with the registry and watchdog touching only the narrow
// synchronized surface below.
type Pair struct {
	// ID is a unique identifier for this session
	ID string

	// Client is the inbound connection
	Client net.Conn

	// Created is when the pair was established
	Created time.Time

	// byte totals per copy direction, updated by the pumps
	bytesUp   atomic.Int64
	bytesDown atomic.Int64

	// mu protects the fields below against the watchdog, the copy loops,
	// and the server racing on teardown.
	mu           sync.Mutex
	backend      net.Conn
	lastActivity time.Time
	phase        Phase
	reason       string
}

// NewPair creates a pair in the sniffing phase. The backend connection
// is attached later, once the sniffer has ruled out a health probe, so
// probe sessions never cause a backend connection attempt.
func NewPair(client net.Conn) *Pair {
	now := time.Now()
	return &Pair{
		ID:           uuid.New().String(),
		Client:       client,
		Created:      now,
		lastActivity: now,
		phase:        PhaseSniffing,
	}
}

// Touch records activity on the pair with the current monotonic
// timestamp. Safe to call concurrently from both copy directions;
// last-write-wins is sufficient for the watchdog.
func (p *Pair) Touch() {
	p.mu.Lock()
	p.lastActivity = time.Now()
	p.mu.Unlock()
}

// IdleFor returns how long the pair has been silent in both directions.
func (p *Pair) IdleFor() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.lastActivity)
}

// Phase returns the current lifecycle phase.
func (p *Pair) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// Reason returns the close reason recorded by whichever path closed the
// pair first, or an empty string while the pair is still live.
func (p *Pair) Reason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

// Bytes returns the totals forwarded in each direction.
func (p *Pair) Bytes() (up, down int64) {
	return p.bytesUp.Load(), p.bytesDown.Load()
}

// AttachBackend binds the backend connection and moves the pair into the
// relaying phase. It fails if the pair was already closed, e.g. by the
// watchdog while the dial was in flight.
func (p *Pair) AttachBackend(backend net.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase != PhaseSniffing {
		return false
	}
	p.backend = backend
	p.phase = PhaseRelaying
	return true
}

// Backend returns the backend connection, nil while sniffing or for
// probe sessions.
func (p *Pair) Backend() net.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backend
}

// BeginProbeResponse moves the pair into the probe-responding phase.
func (p *Pair) BeginProbeResponse() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase != PhaseSniffing {
		return false
	}
	p.phase = PhaseProbeResponding
	return true
}

// Close performs an orderly shutdown of both handles. The first close
// wins and records the reason; subsequent calls are no-ops.
func (p *Pair) Close(reason string) {
	client, backend, ok := p.seal(reason)
	if !ok {
		return
	}
	if client != nil {
		client.Close()
	}
	if backend != nil {
		backend.Close()
	}
}

// Reset abruptly terminates both handles so the remote peers observe a
// connection reset rather than an orderly close. This is the behavior
// under test when the watchdog fires; it must not be softened into a
// graceful close. Idempotent like Close.
func (p *Pair) Reset(reason string) {
	client, backend, ok := p.seal(reason)
	if !ok {
		return
	}
	abortConn(client)
	abortConn(backend)
}

// seal atomically transitions the pair to closed, recording the reason.
// It returns the handles to tear down and false if the pair was already
// sealed by a concurrent closer.
func (p *Pair) seal(reason string) (client, backend net.Conn, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase == PhaseClosed {
		return nil, nil, false
	}
	p.phase = PhaseClosed
	p.reason = reason
	return p.Client, p.backend, true
}

// abortConn closes a connection with SO_LINGER set to zero so the close
// is sent as a RST instead of the FIN handshake. Non-TCP connections
// (net.Pipe in tests) fall back to a plain close.
func abortConn(conn net.Conn) {
	if conn == nil {
		return
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetLinger(0)
	}
	conn.Close()
}
