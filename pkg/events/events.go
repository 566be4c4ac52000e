// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

// Package events defines the connection lifecycle hooks the data plane
// invokes, with logging and no-op implementations.
package events

import (
	"context"
	"time"

	"github.com/vandop/flight-network-diagnostics-toolset/pkg/sniffer"
)

// Context contains connection pair metadata. It is passed to Handler
// methods so implementations can correlate events belonging to one
// proxied session.
type Context struct {
	// SessionID is a unique identifier for this connection pair
	SessionID string

	// RemoteAddr is the client's network address
	RemoteAddr string

	// BackendAddr is the configured backend address for this pair
	BackendAddr string
}

// Handler receives connection lifecycle notifications from the data
// plane. The relay calls these methods at the corresponding points of a
// connection pair's life; errors returned from them are logged by the
// caller but never affect the pair itself.
type Handler interface {
	// OnAccept is called when an inbound connection is accepted, before
	// classification.
	OnAccept(ctx context.Context, ectx *Context) error

	// OnRateLimited is called when an inbound connection is rejected by
	// the accept rate limiter. No pair is created for such connections.
	OnRateLimited(ctx context.Context, ectx *Context) error

	// OnDialFailure is called when the backend dial for a passthrough
	// connection fails. The client connection is closed and no relay
	// starts; a fresh attempt must come from the client.
	OnDialFailure(ctx context.Context, ectx *Context, err error) error

	// OnClassified is called once the sniffer has classified the first
	// bytes of the connection.
	OnClassified(ctx context.Context, ectx *Context, verdict sniffer.Verdict) error

	// OnRelayStart is called when both copy loops of a passthrough pair
	// begin pumping bytes.
	OnRelayStart(ctx context.Context, ectx *Context) error

	// OnIdleReset is called when the watchdog abruptly resets a pair that
	// exceeded the idle timeout. idleFor is the observed silence duration.
	OnIdleReset(ctx context.Context, ectx *Context, idleFor time.Duration) error

	// OnClose is called exactly once when a pair reaches its final state,
	// regardless of how it got there. bytesUp and bytesDown are the totals
	// forwarded client→backend and backend→client.
	OnClose(ctx context.Context, ectx *Context, reason string, duration time.Duration, bytesUp, bytesDown int64) error
}

// NoopHandler is a Handler implementation that ignores all events.
// Useful for testing or when no observability is needed.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) OnAccept(ctx context.Context, ectx *Context) error {
	return nil
}

func (h *NoopHandler) OnRateLimited(ctx context.Context, ectx *Context) error {
	return nil
}

func (h *NoopHandler) OnDialFailure(ctx context.Context, ectx *Context, err error) error {
	return nil
}

func (h *NoopHandler) OnClassified(ctx context.Context, ectx *Context, verdict sniffer.Verdict) error {
	return nil
}

func (h *NoopHandler) OnRelayStart(ctx context.Context, ectx *Context) error {
	return nil
}

func (h *NoopHandler) OnIdleReset(ctx context.Context, ectx *Context, idleFor time.Duration) error {
	return nil
}

func (h *NoopHandler) OnClose(ctx context.Context, ectx *Context, reason string, duration time.Duration, bytesUp, bytesDown int64) error {
	return nil
}
