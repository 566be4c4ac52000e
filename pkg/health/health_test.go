// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestChecker_Health(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("ok", func(ctx context.Context) error { return nil })

	status, checks := c.Health(context.Background())
	if status != StatusHealthy {
		t.Fatalf("status = %v, want healthy", status)
	}
	if len(checks) != 1 || checks[0].Status != StatusHealthy {
		t.Fatalf("unexpected checks %+v", checks)
	}
}

func TestChecker_DegradedOnFailure(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("ok", func(ctx context.Context) error { return nil })
	c.Register("bad", func(ctx context.Context) error { return errors.New("too many pairs") })

	status, checks := c.Health(context.Background())
	if status != StatusDegraded {
		t.Fatalf("status = %v, want degraded", status)
	}

	for _, check := range checks {
		if check.Name == "bad" {
			if check.Status != StatusUnhealthy {
				t.Errorf("bad check status = %v, want unhealthy", check.Status)
			}
			if check.Message != "too many pairs" {
				t.Errorf("bad check message = %q", check.Message)
			}
		}
	}
}

func TestChecker_CachesResults(t *testing.T) {
	calls := 0
	c := NewChecker(time.Minute)
	c.Register("counted", func(ctx context.Context) error {
		calls++
		return nil
	})

	c.Health(context.Background())
	c.Health(context.Background())

	if calls != 1 {
		t.Fatalf("check ran %d times within TTL, want 1", calls)
	}
}

func TestChecker_CacheExpiry(t *testing.T) {
	calls := 0
	c := NewChecker(10 * time.Millisecond)
	c.Register("counted", func(ctx context.Context) error {
		calls++
		return nil
	})

	c.Health(context.Background())
	time.Sleep(20 * time.Millisecond)
	c.Health(context.Background())

	if calls != 2 {
		t.Fatalf("check ran %d times across TTL expiry, want 2", calls)
	}
}

func TestHTTPHandler(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("ok", func(ctx context.Context) error { return nil })

	rec := httptest.NewRecorder()
	c.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}

	var body struct {
		Status Status  `json:"status"`
		Checks []Check `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Status != StatusHealthy {
		t.Fatalf("body status = %v, want healthy", body.Status)
	}
}

func TestChecker_UnhealthyWhenAllChecksFail(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("one", func(ctx context.Context) error { return errors.New("down") })
	c.Register("two", func(ctx context.Context) error { return errors.New("also down") })

	status, _ := c.Health(context.Background())
	if status != StatusUnhealthy {
		t.Fatalf("status = %v with every check failing, want unhealthy", status)
	}
}

func TestHTTPHandler_UnhealthyReturns503(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("bad", func(ctx context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	c.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d with every check failing, want 503", rec.Code)
	}
}

func TestReadinessHandler_DegradedFailsReady(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("ok", func(ctx context.Context) error { return nil })
	c.Register("bad", func(ctx context.Context) error { return errors.New("nope") })

	// Degraded still reports healthy on the health endpoint but fails
	// the readiness probe.
	rec := httptest.NewRecorder()
	c.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status code = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readiness status code = %d, want 503", rec.Code)
	}
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "alive" {
		t.Fatalf("body = %v", body)
	}
}
