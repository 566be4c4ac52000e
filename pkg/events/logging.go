// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/vandop/flight-network-diagnostics-toolset/pkg/sniffer"
)

var _ Handler = (*LogHandler)(nil)

// LogHandler logs every connection lifecycle event. It is the default
// observability sink of the proxy: the keep-alive experiments this tool
// supports are driven entirely from these log lines.
type LogHandler struct {
	logger *slog.Logger
}

// NewLogHandler creates a new logging handler.
func NewLogHandler(logger *slog.Logger) *LogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogHandler{
		logger: logger,
	}
}

// OnAccept logs an accepted inbound connection.
func (h *LogHandler) OnAccept(ctx context.Context, ectx *Context) error {
	h.logger.Info("connection accepted",
		slog.String("session", ectx.SessionID),
		slog.String("remote", ectx.RemoteAddr))
	return nil
}

// OnRateLimited logs a rejected inbound connection.
func (h *LogHandler) OnRateLimited(ctx context.Context, ectx *Context) error {
	h.logger.Warn("connection rate limited",
		slog.String("remote", ectx.RemoteAddr))
	return nil
}

// OnDialFailure logs a failed backend dial.
func (h *LogHandler) OnDialFailure(ctx context.Context, ectx *Context, err error) error {
	h.logger.Error("backend dial failed",
		slog.String("session", ectx.SessionID),
		slog.String("remote", ectx.RemoteAddr),
		slog.String("backend", ectx.BackendAddr),
		slog.String("error", err.Error()))
	return nil
}

// OnClassified logs the sniffer verdict.
func (h *LogHandler) OnClassified(ctx context.Context, ectx *Context, verdict sniffer.Verdict) error {
	h.logger.Debug("connection classified",
		slog.String("session", ectx.SessionID),
		slog.String("verdict", verdict.String()))
	return nil
}

// OnRelayStart logs the start of bidirectional relaying.
func (h *LogHandler) OnRelayStart(ctx context.Context, ectx *Context) error {
	h.logger.Debug("relay started",
		slog.String("session", ectx.SessionID),
		slog.String("remote", ectx.RemoteAddr),
		slog.String("backend", ectx.BackendAddr))
	return nil
}

// OnIdleReset logs a watchdog-triggered abrupt reset.
func (h *LogHandler) OnIdleReset(ctx context.Context, ectx *Context, idleFor time.Duration) error {
	h.logger.Info("idle reset triggered",
		slog.String("session", ectx.SessionID),
		slog.String("remote", ectx.RemoteAddr),
		slog.Duration("idle_for", idleFor))
	return nil
}

// OnClose logs the final state of a connection pair.
func (h *LogHandler) OnClose(ctx context.Context, ectx *Context, reason string, duration time.Duration, bytesUp, bytesDown int64) error {
	h.logger.Info("connection closed",
		slog.String("session", ectx.SessionID),
		slog.String("remote", ectx.RemoteAddr),
		slog.String("reason", reason),
		slog.Duration("duration", duration),
		slog.Int64("bytes_up", bytesUp),
		slog.Int64("bytes_down", bytesDown))
	return nil
}
