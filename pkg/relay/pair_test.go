// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"net"
	"sync"
	"testing"
	"time"
)

func newTestPair(t *testing.T) (*Pair, net.Conn) {
	t.Helper()
	client, peer := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		peer.Close()
	})
	return NewPair(client), peer
}

func TestPair_PhaseTransitions(t *testing.T) {
	pair, _ := newTestPair(t)

	if pair.Phase() != PhaseSniffing {
		t.Fatalf("new pair phase = %v, want %v", pair.Phase(), PhaseSniffing)
	}

	backend, backendPeer := net.Pipe()
	defer backend.Close()
	defer backendPeer.Close()

	if !pair.AttachBackend(backend) {
		t.Fatal("AttachBackend failed on sniffing pair")
	}
	if pair.Phase() != PhaseRelaying {
		t.Fatalf("phase = %v, want %v", pair.Phase(), PhaseRelaying)
	}

	// No way back to sniffing or sideways to probe-responding.
	if pair.BeginProbeResponse() {
		t.Error("BeginProbeResponse succeeded on relaying pair")
	}
	if pair.AttachBackend(backendPeer) {
		t.Error("AttachBackend succeeded twice")
	}

	pair.Close(ReasonClientClosed)
	if pair.Phase() != PhaseClosed {
		t.Fatalf("phase = %v, want %v", pair.Phase(), PhaseClosed)
	}
}

func TestPair_ProbePath(t *testing.T) {
	pair, _ := newTestPair(t)

	if !pair.BeginProbeResponse() {
		t.Fatal("BeginProbeResponse failed on sniffing pair")
	}
	if pair.Phase() != PhaseProbeResponding {
		t.Fatalf("phase = %v, want %v", pair.Phase(), PhaseProbeResponding)
	}

	backend, peer := net.Pipe()
	defer backend.Close()
	defer peer.Close()
	if pair.AttachBackend(backend) {
		t.Error("AttachBackend succeeded on probe-responding pair")
	}

	pair.Close(ReasonProbeResponded)
	if pair.Reason() != ReasonProbeResponded {
		t.Errorf("reason = %q, want %q", pair.Reason(), ReasonProbeResponded)
	}
}

func TestPair_CloseIdempotent(t *testing.T) {
	pair, _ := newTestPair(t)

	pair.Close(ReasonClientClosed)
	pair.Close(ReasonBackendClosed)
	pair.Reset(ReasonIdleTimeout)

	// First closer wins; later attempts are no-ops.
	if pair.Reason() != ReasonClientClosed {
		t.Errorf("reason = %q, want %q", pair.Reason(), ReasonClientClosed)
	}
}

func TestPair_ConcurrentTeardown(t *testing.T) {
	pair, _ := newTestPair(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				pair.Close(ReasonClientClosed)
			} else {
				pair.Reset(ReasonIdleTimeout)
			}
		}(i)
	}
	wg.Wait()

	if pair.Phase() != PhaseClosed {
		t.Fatal("pair not closed after concurrent teardown")
	}
	reason := pair.Reason()
	if reason != ReasonClientClosed && reason != ReasonIdleTimeout {
		t.Errorf("unexpected reason %q", reason)
	}
}

func TestPair_ResetWithoutBackend(t *testing.T) {
	pair, _ := newTestPair(t)

	// A pair reset while still sniffing has no backend handle yet.
	pair.Reset(ReasonIdleTimeout)

	if pair.Phase() != PhaseClosed {
		t.Fatal("pair not closed")
	}
	if pair.Reason() != ReasonIdleTimeout {
		t.Errorf("reason = %q, want %q", pair.Reason(), ReasonIdleTimeout)
	}
}

func TestPair_Touch(t *testing.T) {
	pair, _ := newTestPair(t)

	time.Sleep(30 * time.Millisecond)
	if pair.IdleFor() < 20*time.Millisecond {
		t.Fatal("expected idle time to accumulate")
	}

	pair.Touch()
	if pair.IdleFor() > 20*time.Millisecond {
		t.Fatal("Touch did not reset idle time")
	}
}

func TestPair_TouchConcurrent(t *testing.T) {
	pair, _ := newTestPair(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				pair.Touch()
			}
		}()
	}
	wg.Wait()

	if pair.IdleFor() > time.Second {
		t.Fatal("last activity lost after concurrent touches")
	}
}
