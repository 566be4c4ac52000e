// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

// Package main runs the idle-reset proxy: a TCP intermediary that
// emulates cloud appliances terminating idle connections, used to
// observe how client/server keep-alive settings interact with such
// infrastructure.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/vandop/flight-network-diagnostics-toolset/config"
	"github.com/vandop/flight-network-diagnostics-toolset/pkg/breaker"
	"github.com/vandop/flight-network-diagnostics-toolset/pkg/events"
	"github.com/vandop/flight-network-diagnostics-toolset/pkg/health"
	"github.com/vandop/flight-network-diagnostics-toolset/pkg/metrics"
	"github.com/vandop/flight-network-diagnostics-toolset/pkg/ratelimit"
	"github.com/vandop/flight-network-diagnostics-toolset/pkg/relay"
	"github.com/vandop/flight-network-diagnostics-toolset/pkg/sniffer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting idle-reset proxy",
		slog.String("listen", cfg.ListenAddress),
		slog.String("backend", cfg.BackendAddress),
		slog.Duration("idle_timeout", cfg.IdleTimeout))

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, "idleproxy")

	// Dial circuit breaker
	dialBreaker := breaker.New(breaker.Config{
		MaxFailures:  cfg.BreakerMaxFailures,
		ResetTimeout: cfg.BreakerResetTimeout,
	})
	dialBreaker.OnStateChange(func(from, to breaker.State) {
		logger.Warn("dial breaker state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	})

	// Optional accept rate limiter
	var limiter *ratelimit.Limiter
	if cfg.RateLimitCapacity > 0 {
		limiter = ratelimit.NewLimiter(cfg.RateLimitCapacity, cfg.RateLimitRefill, 10000)
	}

	// Lifecycle handlers: log every event, count everything
	handler := NewInstrumentedHandler(events.NewLogHandler(logger), m)

	server := relay.New(relay.Config{
		Address:           cfg.ListenAddress,
		BackendAddress:    cfg.BackendAddress,
		ConnectTimeout:    cfg.ConnectTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		IdleCheckInterval: cfg.IdleCheckInterval,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		BufferSize:        cfg.BufferSize,
		Rule: sniffer.Rule{
			Method: cfg.PingMethod,
			Path:   cfg.PingPath,
			Body:   cfg.PingBody,
		},
		RateLimiter: limiter,
		DialBreaker: dialBreaker,
		Logger:      logger,
	}, handler)

	// Process health checks
	checker := health.NewChecker(10 * time.Second)
	checker.Register("goroutines", func(ctx context.Context) error {
		if count := runtime.NumGoroutine(); count > 50000 {
			return fmt.Errorf("too many goroutines: %d", count)
		}
		return nil
	})
	checker.Register("live_pairs", func(ctx context.Context) error {
		if count := server.Registry().Count(); count > 10000 {
			return fmt.Errorf("too many live pairs: %d", count)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Listen(ctx)
	})
	g.Go(func() error {
		return serveHTTP(ctx, fmt.Sprintf(":%d", cfg.MetricsPort), metricsMux(reg), "metrics", logger)
	})
	g.Go(func() error {
		return serveHTTP(ctx, fmt.Sprintf(":%d", cfg.HealthPort), healthMux(checker), "health", logger)
	})
	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error("proxy terminated with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("proxy stopped")
}

// setupLogger creates a structured logger with the given level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case config.LogLevelDebug:
		logLevel = slog.LevelDebug
	case config.LogLevelWarn:
		logLevel = slog.LevelWarn
	case config.LogLevelError:
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == config.LogFormatText {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func metricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func healthMux(checker *health.Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HTTPHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.HandleFunc("/live", health.LivenessHandler())
	return mux
}

// serveHTTP runs an auxiliary HTTP server until the context is cancelled.
func serveHTTP(ctx context.Context, addr string, mux *http.ServeMux, name string, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting "+name+" server", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	}
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
