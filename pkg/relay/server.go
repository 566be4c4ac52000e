// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vandop/flight-network-diagnostics-toolset/pkg/breaker"
	errs "github.com/vandop/flight-network-diagnostics-toolset/pkg/errors"
	"github.com/vandop/flight-network-diagnostics-toolset/pkg/events"
	"github.com/vandop/flight-network-diagnostics-toolset/pkg/ratelimit"
	"github.com/vandop/flight-network-diagnostics-toolset/pkg/sniffer"
)

var (
	// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

const (
	defaultConnectTimeout  = 10 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultBufferSize      = 32 * 1024
)

// Config holds the idle-reset proxy configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// BackendAddress is the server address to relay to (host:port)
	BackendAddress string

	// ConnectTimeout bounds each backend dial (default: 10s)
	ConnectTimeout time.Duration

	// IdleTimeout is the maximum silence in either direction before a
	// pair is abruptly reset. Zero disables the watchdog.
	IdleTimeout time.Duration

	// IdleCheckInterval is the watchdog scan cadence. Zero derives a
	// tenth of IdleTimeout.
	IdleCheckInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for live pairs to drain
	// during graceful shutdown. After this timeout, remaining pairs are
	// forcefully closed.
	ShutdownTimeout time.Duration

	// BufferSize is the copy loop chunk size (default: 32KiB)
	BufferSize int

	// Rule is the health-probe match rule applied to every new connection.
	Rule sniffer.Rule

	// RateLimiter optionally limits accepted connections per client
	// address. Nil means unlimited.
	RateLimiter *ratelimit.Limiter

	// DialBreaker optionally short-circuits backend dials while the
	// backend is known dead, instead of burning the connect timeout on
	// every accept. It never retries a failed dial.
	DialBreaker *breaker.CircuitBreaker

	// Logger for server events
	Logger *slog.Logger
}

// Server accepts inbound connections, classifies them, and relays
// passthrough traffic to the backend while the watchdog enforces the
// idle-timeout policy.
type Server struct {
	config   Config
	sniffer  *sniffer.Sniffer
	handler  events.Handler
	registry *Registry
	wg       sync.WaitGroup

	mu   sync.Mutex
	addr net.Addr
}

// New creates a new server with the given configuration and event handler.
func New(cfg Config, h events.Handler) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if h == nil {
		h = &events.NoopHandler{}
	}

	return &Server{
		config:   cfg,
		sniffer:  sniffer.New(cfg.Rule),
		handler:  h,
		registry: NewRegistry(),
	}
}

// Registry exposes the live pair set, mainly for health checks and tests.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Addr returns the bound listen address, or nil before Listen has bound
// it. Useful when the configured address uses an ephemeral port.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Listen starts the proxy and blocks until the context is cancelled.
// Failure to bind the listen port is fatal and returned before any
// connection is accepted.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	s.mu.Lock()
	s.addr = listener.Addr()
	s.mu.Unlock()

	s.config.Logger.Info("idle-reset proxy started",
		slog.String("address", listener.Addr().String()),
		slog.String("backend", s.config.BackendAddress),
		slog.Duration("idle_timeout", s.config.IdleTimeout))

	// The watchdog lives for as long as the accept loop.
	wdCtx, wdCancel := context.WithCancel(context.Background())
	defer wdCancel()

	watchdog := NewWatchdog(s.registry, s.config.IdleTimeout, s.config.IdleCheckInterval, s.handler, s.config.Logger)
	go watchdog.Run(wdCtx)

	// Accept loop
	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					// Expected error during shutdown
					return
				default:
					s.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
					continue
				}
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := s.handleConn(ctx, conn); err != nil && !errors.Is(err, io.EOF) {
					s.config.Logger.Debug("connection handler error",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
				}
			}()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener")

	if err := listener.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}

	<-acceptDone

	// Wait for live pairs to drain with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all connection pairs closed gracefully")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, forcing pair closure")
		s.registry.CloseAll(ReasonShutdown)
		select {
		case <-done:
			return ErrShutdownTimeout
		case <-time.After(1 * time.Second):
			return ErrShutdownTimeout
		}
	}
}

// handleConn owns one inbound connection end to end:
// 1. Applies the accept rate limit, if configured
// 2. Creates and registers the connection pair
// 3. Classifies the first bytes
// 4. Either answers the probe locally, or dials the backend and relays
func (s *Server) handleConn(ctx context.Context, inbound net.Conn) error {
	remote := inbound.RemoteAddr().String()

	if s.config.RateLimiter != nil {
		key := remote
		if host, _, err := net.SplitHostPort(remote); err == nil {
			key = host
		}
		if !s.config.RateLimiter.Allow(key) {
			ectx := &events.Context{RemoteAddr: remote, BackendAddr: s.config.BackendAddress}
			s.notify(s.handler.OnRateLimited(ctx, ectx), "rate limit handler error", "")
			inbound.Close()
			return errs.New("accept", "", remote, errs.ErrRateLimited)
		}
	}

	pair := NewPair(inbound)
	ectx := &events.Context{
		SessionID:   pair.ID,
		RemoteAddr:  remote,
		BackendAddr: s.config.BackendAddress,
	}

	s.registry.Register(pair)
	defer s.registry.Remove(pair.ID)

	s.notify(s.handler.OnAccept(ctx, ectx), "accept handler error", pair.ID)

	// Classification happens before any byte is forwarded. The read-ahead
	// bytes are preserved and drained into the first forwarded chunk.
	verdict, prefix := s.sniffer.Classify(inbound)
	s.notify(s.handler.OnClassified(ctx, ectx, verdict), "classify handler error", pair.ID)

	if verdict == sniffer.Probe {
		return s.respondProbe(ctx, pair, ectx)
	}
	return s.relay(ctx, pair, ectx, prefix)
}

// respondProbe answers a health probe on the client handle and closes
// the pair. The backend is never dialed for probe sessions, so health
// checks cannot disturb the system under test.
func (s *Server) respondProbe(ctx context.Context, pair *Pair, ectx *events.Context) error {
	if !pair.BeginProbeResponse() {
		// Sealed while sniffing, e.g. by the watchdog or shutdown.
		s.finish(ctx, pair, ectx)
		return errs.New("probe", pair.ID, ectx.RemoteAddr, errs.ErrConnectionClosed)
	}

	var err error
	if _, werr := pair.Client.Write(s.config.Rule.Response()); werr != nil {
		err = errs.New("probe", pair.ID, ectx.RemoteAddr, werr)
	}

	pair.Close(ReasonProbeResponded)
	s.finish(ctx, pair, ectx)
	return err
}

// relay dials the backend and pumps bytes in both directions until the
// pair is torn down by EOF, an I/O error, the watchdog, or shutdown.
func (s *Server) relay(ctx context.Context, pair *Pair, ectx *events.Context, prefix []byte) error {
	if pair.Phase() == PhaseClosed {
		// Sealed while sniffing; nothing to relay.
		s.finish(ctx, pair, ectx)
		return errs.New("relay", pair.ID, ectx.RemoteAddr, errs.ErrConnectionClosed)
	}

	backend, err := s.dialBackend()
	if err != nil {
		// Per-connection fatal: close the client, no retry. A fresh
		// attempt must come from the client.
		s.notify(s.handler.OnDialFailure(ctx, ectx, err), "dial failure handler error", pair.ID)
		pair.Close(ReasonDialFailed)
		s.finish(ctx, pair, ectx)
		return errs.New("dial", pair.ID, ectx.RemoteAddr, errs.Wrap(err, errs.ErrBackendUnavailable.Error()))
	}

	if !pair.AttachBackend(backend) {
		// The watchdog reset the pair while the dial was in flight.
		backend.Close()
		s.finish(ctx, pair, ectx)
		return errs.New("relay", pair.ID, ectx.RemoteAddr, errs.ErrConnectionClosed)
	}

	s.notify(s.handler.OnRelayStart(ctx, ectx), "relay handler error", pair.ID)

	// Drain the sniffed read-ahead into the first forwarded chunk.
	if len(prefix) > 0 {
		pair.Touch()
		pair.bytesUp.Add(int64(len(prefix)))
		if _, werr := backend.Write(prefix); werr != nil {
			pair.Close(ReasonRelayError)
			s.finish(ctx, pair, ectx)
			return errs.New("relay", pair.ID, ectx.RemoteAddr, werr)
		}
	}

	errCh := make(chan error, 2)

	// Upstream: client → backend
	go func() {
		errCh <- s.pump(pair, pair.Client, backend, &pair.bytesUp, ReasonClientClosed)
	}()

	// Downstream: backend → client
	go func() {
		errCh <- s.pump(pair, backend, pair.Client, &pair.bytesDown, ReasonBackendClosed)
	}()

	// Either direction finishing tears the whole pair down; the closed
	// handles unblock the other direction. Half-close is not preserved.
	var streamErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && !errors.Is(err, io.EOF) {
			if streamErr == nil {
				streamErr = err
			}
		}
	}

	s.finish(ctx, pair, ectx)
	return streamErr
}

// pump copies chunks in one direction, reporting every transfer to the
// pair's activity timestamp. The first EOF or I/O error seals the pair;
// if another path (watchdog, shutdown, the peer pump) sealed it first,
// the close here is a no-op and the recorded reason stands.
func (s *Server) pump(pair *Pair, src, dst net.Conn, counter *atomic.Int64, eofReason string) error {
	buf := make([]byte, s.config.BufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			pair.Touch()
			counter.Add(int64(n))
			if _, werr := dst.Write(buf[:n]); werr != nil {
				pair.Close(ReasonRelayError)
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				pair.Close(eofReason)
			} else {
				pair.Close(ReasonRelayError)
			}
			return err
		}
	}
}

// dialBackend opens the outbound connection with a bounded timeout,
// optionally guarded by the dial circuit breaker.
func (s *Server) dialBackend() (net.Conn, error) {
	dial := func() (net.Conn, error) {
		return net.DialTimeout("tcp", s.config.BackendAddress, s.config.ConnectTimeout)
	}

	if s.config.DialBreaker == nil {
		return dial()
	}

	var conn net.Conn
	err := s.config.DialBreaker.Call(func() error {
		c, derr := dial()
		conn = c
		return derr
	})
	return conn, err
}

// finish emits the single OnClose event for a pair.
func (s *Server) finish(ctx context.Context, pair *Pair, ectx *events.Context) {
	up, down := pair.Bytes()
	err := s.handler.OnClose(ctx, ectx, pair.Reason(), time.Since(pair.Created), up, down)
	s.notify(err, "close handler error", pair.ID)
}

// notify logs handler errors without letting them affect the pair.
func (s *Server) notify(err error, msg, sessionID string) {
	if err == nil {
		return
	}
	s.config.Logger.Error(msg,
		slog.String("session", sessionID),
		slog.String("error", err.Error()))
}
