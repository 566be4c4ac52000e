// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"time"

	"github.com/vandop/flight-network-diagnostics-toolset/pkg/events"
	"github.com/vandop/flight-network-diagnostics-toolset/pkg/metrics"
	"github.com/vandop/flight-network-diagnostics-toolset/pkg/sniffer"
)

var _ events.Handler = (*InstrumentedHandler)(nil)

// InstrumentedHandler wraps an event handler with Prometheus metrics.
type InstrumentedHandler struct {
	handler events.Handler
	metrics *metrics.Metrics
}

// NewInstrumentedHandler creates a metrics-recording wrapper around next.
func NewInstrumentedHandler(next events.Handler, m *metrics.Metrics) *InstrumentedHandler {
	return &InstrumentedHandler{
		handler: next,
		metrics: m,
	}
}

// OnAccept implements events.Handler with metrics.
func (h *InstrumentedHandler) OnAccept(ctx context.Context, ectx *events.Context) error {
	h.metrics.ActivePairs.Inc()
	return h.handler.OnAccept(ctx, ectx)
}

// OnRateLimited implements events.Handler with metrics.
func (h *InstrumentedHandler) OnRateLimited(ctx context.Context, ectx *events.Context) error {
	h.metrics.RateLimited.Inc()
	return h.handler.OnRateLimited(ctx, ectx)
}

// OnDialFailure implements events.Handler with metrics.
func (h *InstrumentedHandler) OnDialFailure(ctx context.Context, ectx *events.Context, err error) error {
	h.metrics.BackendDialErrors.Inc()
	return h.handler.OnDialFailure(ctx, ectx, err)
}

// OnClassified implements events.Handler with metrics.
func (h *InstrumentedHandler) OnClassified(ctx context.Context, ectx *events.Context, verdict sniffer.Verdict) error {
	if verdict == sniffer.Probe {
		h.metrics.ProbeRequests.Inc()
	}
	return h.handler.OnClassified(ctx, ectx, verdict)
}

// OnRelayStart implements events.Handler.
func (h *InstrumentedHandler) OnRelayStart(ctx context.Context, ectx *events.Context) error {
	return h.handler.OnRelayStart(ctx, ectx)
}

// OnIdleReset implements events.Handler with metrics.
func (h *InstrumentedHandler) OnIdleReset(ctx context.Context, ectx *events.Context, idleFor time.Duration) error {
	h.metrics.IdleResets.Inc()
	return h.handler.OnIdleReset(ctx, ectx, idleFor)
}

// OnClose implements events.Handler with metrics.
func (h *InstrumentedHandler) OnClose(ctx context.Context, ectx *events.Context, reason string, duration time.Duration, bytesUp, bytesDown int64) error {
	h.metrics.ActivePairs.Dec()
	h.metrics.ConnectionsTotal.WithLabelValues(reason).Inc()
	h.metrics.ConnectionDuration.Observe(duration.Seconds())
	h.metrics.BytesTransferred.WithLabelValues("upstream").Add(float64(bytesUp))
	h.metrics.BytesTransferred.WithLabelValues("downstream").Add(float64(bytesDown))
	return h.handler.OnClose(ctx, ectx, reason, duration, bytesUp, bytesDown)
}
