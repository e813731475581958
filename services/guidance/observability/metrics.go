// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the guidance
// pipeline: request outcomes, provider attempts, cache traffic, and
// verification decisions. Metrics are exposed via the /metrics endpoint.
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "khanya"

const guidanceSubsystem = "guidance"

// GuidanceMetrics holds all Prometheus metrics for the guidance service.
// Initialize once at startup via InitMetrics().
type GuidanceMetrics struct {
	// RequestsTotal counts guidance requests by source and decision.
	// Labels: source (generated, cache, draft), decision (Accept, Revise,
	// Escalate, none)
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures end-to-end request duration.
	// Labels: source
	RequestDurationSeconds *prometheus.HistogramVec

	// ProviderAttemptsTotal counts provider attempts by provider and outcome.
	// Labels: provider, outcome (success, or the error kind)
	ProviderAttemptsTotal *prometheus.CounterVec

	// ProviderLatencySeconds measures single-attempt provider latency.
	// Labels: provider
	ProviderLatencySeconds *prometheus.HistogramVec

	// CacheEventsTotal counts cache hits and misses.
	// Labels: event (hit, miss)
	CacheEventsTotal *prometheus.CounterVec

	// VerificationsTotal counts verification runs by decision.
	// Labels: decision
	VerificationsTotal *prometheus.CounterVec

	// VerificationDurationSeconds measures verification pipeline duration.
	VerificationDurationSeconds prometheus.Histogram

	// EscalationsTotal counts records submitted to the review queue.
	// Labels: reason
	EscalationsTotal *prometheus.CounterVec

	// ConsentDenialsTotal counts requests stopped at the consent gate.
	// Labels: reason
	ConsentDenialsTotal *prometheus.CounterVec

	// verification running stats for the health endpoint
	verifyCount   atomic.Int64
	verifyTotalMs atomic.Int64
}

// DefaultMetrics is the singleton instance of GuidanceMetrics.
// Initialized by InitMetrics(); recording helpers are nil-safe so tests
// that never call InitMetrics() do not panic.
var DefaultMetrics *GuidanceMetrics

var initOnce sync.Once

// InitMetrics initializes and registers the default metrics instance.
// Safe to call more than once; only the first call registers.
func InitMetrics() *GuidanceMetrics {
	initOnce.Do(func() {
		DefaultMetrics = &GuidanceMetrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: guidanceSubsystem,
					Name:      "requests_total",
					Help:      "Total guidance requests by source and verification decision",
				},
				[]string{"source", "decision"},
			),

			RequestDurationSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: guidanceSubsystem,
					Name:      "request_duration_seconds",
					Help:      "End-to-end guidance request duration in seconds",
					Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 20.0},
				},
				[]string{"source"},
			),

			ProviderAttemptsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: guidanceSubsystem,
					Name:      "provider_attempts_total",
					Help:      "Provider attempts by provider and outcome",
				},
				[]string{"provider", "outcome"},
			),

			ProviderLatencySeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: guidanceSubsystem,
					Name:      "provider_latency_seconds",
					Help:      "Single provider attempt latency in seconds",
					Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
				},
				[]string{"provider"},
			),

			CacheEventsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: guidanceSubsystem,
					Name:      "cache_events_total",
					Help:      "Response cache hits and misses",
				},
				[]string{"event"},
			),

			VerificationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: guidanceSubsystem,
					Name:      "verifications_total",
					Help:      "Verification pipeline runs by decision",
				},
				[]string{"decision"},
			),

			VerificationDurationSeconds: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: guidanceSubsystem,
					Name:      "verification_duration_seconds",
					Help:      "Verification pipeline duration in seconds",
					Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
				},
			),

			EscalationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: guidanceSubsystem,
					Name:      "escalations_total",
					Help:      "Records submitted to the human review queue by reason",
				},
				[]string{"reason"},
			),

			ConsentDenialsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: guidanceSubsystem,
					Name:      "consent_denials_total",
					Help:      "Requests stopped at the consent gate by reason",
				},
				[]string{"reason"},
			),
		}
	})
	return DefaultMetrics
}

// RecordRequest records a completed guidance request.
func RecordRequest(source, decision string, duration time.Duration) {
	m := DefaultMetrics
	if m == nil {
		return
	}
	if decision == "" {
		decision = "none"
	}
	m.RequestsTotal.WithLabelValues(source, decision).Inc()
	m.RequestDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordProviderAttempt records one provider attempt.
func RecordProviderAttempt(provider, outcome string, latency time.Duration) {
	m := DefaultMetrics
	if m == nil {
		return
	}
	m.ProviderAttemptsTotal.WithLabelValues(provider, outcome).Inc()
	m.ProviderLatencySeconds.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordCacheEvent records a cache hit or miss.
func RecordCacheEvent(hit bool) {
	m := DefaultMetrics
	if m == nil {
		return
	}
	event := "miss"
	if hit {
		event = "hit"
	}
	m.CacheEventsTotal.WithLabelValues(event).Inc()
}

// RecordVerification records a verification run and feeds the running
// stats surfaced by the health endpoint.
func RecordVerification(decision string, duration time.Duration) {
	m := DefaultMetrics
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(decision).Inc()
	m.VerificationDurationSeconds.Observe(duration.Seconds())
	m.verifyCount.Add(1)
	m.verifyTotalMs.Add(duration.Milliseconds())
}

// RecordEscalation records a review-queue submission.
func RecordEscalation(reason string) {
	m := DefaultMetrics
	if m == nil {
		return
	}
	m.EscalationsTotal.WithLabelValues(reason).Inc()
}

// RecordConsentDenial records a consent-gate rejection.
func RecordConsentDenial(reason string) {
	m := DefaultMetrics
	if m == nil {
		return
	}
	m.ConsentDenialsTotal.WithLabelValues(reason).Inc()
}

// VerificationStats is the digest of verification activity reported by the
// health endpoint.
type VerificationStats struct {
	Count  int64   `json:"count"`
	MeanMs float64 `json:"meanMs"`
}

// Stats returns the running verification stats. Zero-valued when metrics
// were never initialized.
func Stats() VerificationStats {
	m := DefaultMetrics
	if m == nil {
		return VerificationStats{}
	}
	count := m.verifyCount.Load()
	stats := VerificationStats{Count: count}
	if count > 0 {
		stats.MeanMs = float64(m.verifyTotalMs.Load()) / float64(count)
	}
	return stats
}
