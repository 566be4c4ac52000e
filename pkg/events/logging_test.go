// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func newBufferedLogHandler(t *testing.T) (*LogHandler, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewLogHandler(logger), &buf
}

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("failed to parse log line %q: %v", buf.String(), err)
	}
	return record
}

func TestLogHandler_OnClose(t *testing.T) {
	h, buf := newBufferedLogHandler(t)
	ectx := &Context{SessionID: "s-1", RemoteAddr: "10.0.0.1:4242", BackendAddr: "10.0.0.2:8816"}

	err := h.OnClose(context.Background(), ectx, "idle timeout", 5*time.Second, 100, 200)
	if err != nil {
		t.Fatalf("OnClose returned %v", err)
	}

	record := lastLogLine(t, buf)
	if record["msg"] != "connection closed" {
		t.Errorf("msg = %v", record["msg"])
	}
	if record["reason"] != "idle timeout" {
		t.Errorf("reason = %v", record["reason"])
	}
	if record["bytes_up"] != float64(100) || record["bytes_down"] != float64(200) {
		t.Errorf("byte counters = %v / %v", record["bytes_up"], record["bytes_down"])
	}
	if record["session"] != "s-1" {
		t.Errorf("session = %v", record["session"])
	}
}

func TestLogHandler_OnDialFailure(t *testing.T) {
	h, buf := newBufferedLogHandler(t)
	ectx := &Context{SessionID: "s-2", RemoteAddr: "10.0.0.1:4242", BackendAddr: "10.0.0.2:8816"}

	if err := h.OnDialFailure(context.Background(), ectx, errors.New("connection refused")); err != nil {
		t.Fatalf("OnDialFailure returned %v", err)
	}

	record := lastLogLine(t, buf)
	if record["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", record["level"])
	}
	if record["error"] != "connection refused" {
		t.Errorf("error = %v", record["error"])
	}
	if record["backend"] != "10.0.0.2:8816" {
		t.Errorf("backend = %v", record["backend"])
	}
}

func TestLogHandler_OnIdleReset(t *testing.T) {
	h, buf := newBufferedLogHandler(t)
	ectx := &Context{SessionID: "s-3", RemoteAddr: "10.0.0.1:4242"}

	if err := h.OnIdleReset(context.Background(), ectx, 300*time.Second); err != nil {
		t.Fatalf("OnIdleReset returned %v", err)
	}

	record := lastLogLine(t, buf)
	if record["msg"] != "idle reset triggered" {
		t.Errorf("msg = %v", record["msg"])
	}
	if _, ok := record["idle_for"]; !ok {
		t.Error("idle_for attribute missing")
	}
}

func TestNewLogHandler_NilLogger(t *testing.T) {
	h := NewLogHandler(nil)
	if h.logger == nil {
		t.Fatal("expected fallback to the default logger")
	}
}
