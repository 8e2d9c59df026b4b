// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the relay orchestrator.
//
// Thread Safety: Safe for concurrent use (Prometheus metrics are thread-safe).
type Metrics struct {
	// SessionsStarted counts sessions created.
	SessionsStarted prometheus.Counter

	// SessionsFinalized counts terminal transitions by status.
	SessionsFinalized *prometheus.CounterVec

	// AttemptsTotal counts generation attempts.
	AttemptsTotal prometheus.Counter

	// RetriesTotal counts retry decisions by reason.
	RetriesTotal *prometheus.CounterVec

	// EvaluatorFallbacks counts heuristic fallback verdicts.
	EvaluatorFallbacks prometheus.Counter

	// ActiveExecutions is a gauge of in-flight executions.
	ActiveExecutions prometheus.Gauge

	// SessionDurationSeconds measures session wall time by terminal status.
	SessionDurationSeconds *prometheus.HistogramVec

	// MessagesQueued counts messages buffered for busy contexts.
	MessagesQueued prometheus.Counter
}

// NewMetrics creates and registers all orchestrator metrics.
//
// Description:
//
//	Uses promauto with the default registerer. Register at most once per
//	process; tests should leave metrics disabled.
//
// Outputs:
//   - *Metrics: The created metrics. Never nil.
//
// Thread Safety: Safe for concurrent use.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "sessions",
			Name:      "started_total",
			Help:      "Sessions created",
		}),
		SessionsFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "sessions",
			Name:      "finalized_total",
			Help:      "Terminal transitions by status",
		}, []string{"status"}),
		AttemptsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "sessions",
			Name:      "attempts_total",
			Help:      "Generation attempts",
		}),
		RetriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "sessions",
			Name:      "retries_total",
			Help:      "Retry decisions by reason",
		}, []string{"reason"}),
		EvaluatorFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "evaluator",
			Name:      "fallbacks_total",
			Help:      "Heuristic fallback verdicts",
		}),
		ActiveExecutions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "In-flight executions",
		}),
		SessionDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "sessions",
			Name:      "duration_seconds",
			Help:      "Session wall time by terminal status",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"status"}),
		MessagesQueued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "queue",
			Name:      "messages_total",
			Help:      "Messages buffered for busy contexts",
		}),
	}
}
