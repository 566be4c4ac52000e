// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/vandop/flight-network-diagnostics-toolset/pkg/events"
)

const (
	// minCheckInterval floors the derived scan cadence so a very small
	// idle timeout cannot turn the watchdog into a busy loop.
	minCheckInterval = 10 * time.Millisecond
)

// Watchdog periodically scans the live pairs and abruptly resets any
// pair whose silence exceeds the idle timeout. It runs independently of
// the copy loops, so detection latency is bounded by the scan cadence
// rather than by traffic volume.
type Watchdog struct {
	registry *Registry
	timeout  time.Duration
	interval time.Duration
	handler  events.Handler
	logger   *slog.Logger
}

// NewWatchdog creates a watchdog for the given registry. A zero or
// negative timeout disables idle detection entirely: Run returns
// immediately and pairs live until EOF or shutdown. When interval is
// zero the cadence defaults to a tenth of the timeout, clamped between
// minCheckInterval and the timeout itself.
func NewWatchdog(registry *Registry, timeout, interval time.Duration, h events.Handler, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	if h == nil {
		h = &events.NoopHandler{}
	}
	if interval <= 0 {
		interval = timeout / 10
	}
	if interval < minCheckInterval {
		interval = minCheckInterval
	}
	if timeout > 0 && interval > timeout {
		interval = timeout
	}
	return &Watchdog{
		registry: registry,
		timeout:  timeout,
		interval: interval,
		handler:  h,
		logger:   logger,
	}
}

// Interval returns the effective scan cadence.
func (w *Watchdog) Interval() time.Duration {
	return w.interval
}

// Run scans the registry until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	if w.timeout <= 0 {
		w.logger.Info("idle watchdog disabled")
		return
	}

	w.logger.Info("idle watchdog started",
		slog.Duration("timeout", w.timeout),
		slog.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

// scan resets every expired pair. Expiry on one pair never affects
// another: the reset goes through the pair's own idempotent teardown,
// which tolerates a copy loop racing on the same pair.
func (w *Watchdog) scan(ctx context.Context) {
	for _, p := range w.registry.Snapshot() {
		idleFor := p.IdleFor()
		if idleFor < w.timeout {
			continue
		}

		ectx := &events.Context{
			SessionID:  p.ID,
			RemoteAddr: p.Client.RemoteAddr().String(),
		}
		if err := w.handler.OnIdleReset(ctx, ectx, idleFor); err != nil {
			w.logger.Error("idle reset handler error",
				slog.String("session", p.ID),
				slog.String("error", err.Error()))
		}

		p.Reset(ReasonIdleTimeout)
		w.registry.Remove(p.ID)
	}
}
