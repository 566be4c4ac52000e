// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the idle-reset proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the proxy.
type Metrics struct {
	// Connection pair metrics
	ActivePairs        prometheus.Gauge
	ConnectionsTotal   *prometheus.CounterVec
	ConnectionDuration prometheus.Histogram
	BytesTransferred   *prometheus.CounterVec

	// Fault-injection metrics
	IdleResets prometheus.Counter

	// Probe metrics
	ProbeRequests prometheus.Counter

	// Dispatcher metrics
	BackendDialErrors prometheus.Counter
	RateLimited       prometheus.Counter
}

// New creates a Metrics instance registered against reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "idleproxy"
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActivePairs: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_pairs",
				Help:      "Number of currently live connection pairs",
			},
		),
		ConnectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of inbound connections by final disposition",
			},
			[]string{"reason"},
		),
		ConnectionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connection_duration_seconds",
				Help:      "Connection pair lifetime in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
		),
		BytesTransferred: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_transferred_total",
				Help:      "Total bytes relayed per direction",
			},
			[]string{"direction"},
		),
		IdleResets: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "idle_resets_total",
				Help:      "Total number of watchdog-triggered abrupt resets",
			},
		),
		ProbeRequests: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probe_requests_total",
				Help:      "Total number of health probes answered locally",
			},
		),
		BackendDialErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_dial_errors_total",
				Help:      "Total number of failed backend dials",
			},
		),
		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_connections_total",
				Help:      "Total number of connections rejected by the accept rate limiter",
			},
		),
	}
}
