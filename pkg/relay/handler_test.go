// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"sync"
	"time"

	"github.com/vandop/flight-network-diagnostics-toolset/pkg/events"
	"github.com/vandop/flight-network-diagnostics-toolset/pkg/sniffer"
)

// recordingHandler captures lifecycle events for assertions.
type recordingHandler struct {
	mu           sync.Mutex
	accepts      int
	rateLimited  int
	dialFailures int
	verdicts     []sniffer.Verdict
	relayStarts  int
	idleResets   int
	closes       []closeEvent
}

type closeEvent struct {
	reason    string
	bytesUp   int64
	bytesDown int64
}

var _ events.Handler = (*recordingHandler)(nil)

func (h *recordingHandler) OnAccept(ctx context.Context, ectx *events.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accepts++
	return nil
}

func (h *recordingHandler) OnRateLimited(ctx context.Context, ectx *events.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rateLimited++
	return nil
}

func (h *recordingHandler) OnDialFailure(ctx context.Context, ectx *events.Context, err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dialFailures++
	return nil
}

func (h *recordingHandler) OnClassified(ctx context.Context, ectx *events.Context, verdict sniffer.Verdict) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.verdicts = append(h.verdicts, verdict)
	return nil
}

func (h *recordingHandler) OnRelayStart(ctx context.Context, ectx *events.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relayStarts++
	return nil
}

func (h *recordingHandler) OnIdleReset(ctx context.Context, ectx *events.Context, idleFor time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.idleResets++
	return nil
}

func (h *recordingHandler) OnClose(ctx context.Context, ectx *events.Context, reason string, duration time.Duration, bytesUp, bytesDown int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes = append(h.closes, closeEvent{reason: reason, bytesUp: bytesUp, bytesDown: bytesDown})
	return nil
}

func (h *recordingHandler) snapshot() recordingHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return recordingHandler{
		accepts:      h.accepts,
		rateLimited:  h.rateLimited,
		dialFailures: h.dialFailures,
		verdicts:     append([]sniffer.Verdict(nil), h.verdicts...),
		relayStarts:  h.relayStarts,
		idleResets:   h.idleResets,
		closes:       append([]closeEvent(nil), h.closes...),
	}
}
