// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

package breaker

import (
	"errors"
	"testing"
	"time"
)

var errDialFailed = errors.New("dial failed")

func failing() error { return errDialFailed }
func succeeding() error { return nil }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		if err := cb.Call(failing); !errors.Is(err, errDialFailed) {
			t.Fatalf("call %d returned %v, want underlying error", i, err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("state = %v after max failures, want open", cb.State())
	}

	// Open circuit fails fast without invoking the call.
	invoked := false
	err := cb.Call(func() error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("call on open circuit returned %v, want ErrCircuitOpen", err)
	}
	if invoked {
		t.Fatal("call was invoked while circuit was open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{MaxFailures: 3, ResetTimeout: time.Minute})

	cb.Call(failing)
	cb.Call(failing)
	cb.Call(succeeding)
	cb.Call(failing)
	cb.Call(failing)

	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed while failures stay under the limit", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: 20 * time.Millisecond, SuccessThreshold: 2})

	cb.Call(failing)
	if cb.State() != StateOpen {
		t.Fatal("circuit did not open")
	}

	time.Sleep(30 * time.Millisecond)

	// First probe after the reset timeout goes through half-open.
	if err := cb.Call(succeeding); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v after one probe success, want half_open", cb.State())
	}

	if err := cb.Call(succeeding); err != nil {
		t.Fatalf("second probe failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v after success threshold, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: 20 * time.Millisecond})

	cb.Call(failing)
	time.Sleep(30 * time.Millisecond)

	cb.Call(failing)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v after half-open failure, want open", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: time.Minute})

	changed := make(chan State, 1)
	cb.OnStateChange(func(from, to State) {
		changed <- to
	})

	cb.Call(failing)

	select {
	case to := <-changed:
		if to != StateOpen {
			t.Fatalf("transition to %v, want open", to)
		}
	case <-time.After(time.Second):
		t.Fatal("state change callback never fired")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateHalfOpen, "half_open"},
		{StateOpen, "open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
