// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics for the gateway dispatch
// pipeline.
//
// # Description
//
// Two surfaces are maintained side by side:
//   - Prometheus counters and histograms, exposed for scraping via
//     promhttp (requests, errors, attempts, latency).
//   - An in-process Accumulator with monotonic named counters and a
//     bounded latency reservoir, serialized as the JSON snapshot that
//     GET /metrics returns.
//
// # Thread Safety
//
// Prometheus operations are thread-safe via the client's internal
// locking. Accumulator counters are atomic; the reservoir is guarded
// by a mutex that also enforces the sample cap.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for gateway metrics
const gatewaySubsystem = "gateway"

// GatewayMetrics holds all Prometheus metrics for dispatch operations.
//
// # Description
//
// Provides counters and histograms for monitoring request volume,
// failure modes, retry pressure, and latency. Initialize once at
// startup via InitMetrics().
//
// # Fields
//
//   - RequestsTotal: Counter of dispatched requests by executor and status
//   - ErrorsTotal: Counter of terminal failures by executor and error code
//   - RetriesTotal: Counter of requests that needed more than one attempt
//   - AttemptsPerRequest: Histogram of attempts consumed per request
//   - RequestDurationSeconds: Histogram of total dispatch latency
//
// # Thread Safety
//
// All operations are thread-safe.
type GatewayMetrics struct {
	// RequestsTotal counts dispatched requests by executor and status.
	// Labels: executor (http, shell), status (success, failure, invalid)
	RequestsTotal *prometheus.CounterVec

	// ErrorsTotal counts terminal failures by executor and error code.
	// Labels: executor, error_code (Timeout, NetworkError, PSFailure, etc.)
	ErrorsTotal *prometheus.CounterVec

	// RetriesTotal counts requests that consumed more than one attempt.
	// Labels: executor
	RetriesTotal *prometheus.CounterVec

	// AttemptsPerRequest measures attempts consumed per request.
	// Labels: executor
	AttemptsPerRequest *prometheus.HistogramVec

	// RequestDurationSeconds measures total dispatch latency.
	// Labels: executor, status (success, failure)
	RequestDurationSeconds *prometheus.HistogramVec
}

// DefaultMetrics is the singleton instance of GatewayMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *GatewayMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after the Prometheus registry is available.
//
// # Outputs
//
//   - *GatewayMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *GatewayMetrics {
	DefaultMetrics = &GatewayMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "requests_total",
				Help:      "Total number of dispatched requests by executor and status",
			},
			[]string{"executor", "status"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "errors_total",
				Help:      "Total terminal failures by executor and error code",
			},
			[]string{"executor", "error_code"},
		),

		RetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "retries_total",
				Help:      "Total requests that consumed more than one attempt",
			},
			[]string{"executor"},
		),

		AttemptsPerRequest: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "attempts_per_request",
				Help:      "Attempts consumed per dispatched request",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
			[]string{"executor"},
		),

		RequestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "request_duration_seconds",
				Help:      "Total dispatch latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"executor", "status"},
		),
	}
	return DefaultMetrics
}
