// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package telemetry exposes Prometheus metrics for the resilience layer.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by the rate limiter,
// health monitor, and fetch orchestrator. A nil *Metrics is valid and
// records nothing, so components can run unmetered in tests.
type Metrics struct {
	admissionGrants   *prometheus.CounterVec
	admissionWaits    *prometheus.CounterVec
	admissionTimeouts *prometheus.CounterVec
	pendingWaiters    *prometheus.GaugeVec

	probeResults *prometheus.CounterVec
	circuitOpen  *prometheus.GaugeVec

	fetchAttempts *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		admissionGrants: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_gateway_admission_grants_total",
				Help: "Tokens granted by the per-source rate limiter",
			},
			[]string{"source", "path"}, // path: immediate or queued
		),
		admissionWaits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_gateway_admission_waits_total",
				Help: "Callers that queued because the token bucket was empty",
			},
			[]string{"source"},
		),
		admissionTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_gateway_admission_timeouts_total",
				Help: "Queued callers expired by the stale-wait sweep",
			},
			[]string{"source", "outcome"}, // outcome: rejected or granted
		),
		pendingWaiters: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scholar_gateway_admission_pending",
				Help: "Callers currently queued for a token",
			},
			[]string{"source"},
		),
		probeResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_gateway_probe_results_total",
				Help: "Endpoint probe outcomes",
			},
			[]string{"source", "endpoint", "result"},
		),
		circuitOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scholar_gateway_circuit_open",
				Help: "1 when the endpoint's circuit is open, 0 otherwise",
			},
			[]string{"source", "endpoint"},
		),
		fetchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_gateway_fetch_attempts_total",
				Help: "Live fetch attempts by outcome",
			},
			[]string{"source", "outcome"},
		),
	}

	reg.MustRegister(
		m.admissionGrants,
		m.admissionWaits,
		m.admissionTimeouts,
		m.pendingWaiters,
		m.probeResults,
		m.circuitOpen,
		m.fetchAttempts,
	)
	return m
}

// RecordGrant records a token grant. path is "immediate" or "queued".
func (m *Metrics) RecordGrant(source, path string) {
	if m == nil {
		return
	}
	m.admissionGrants.WithLabelValues(source, path).Inc()
}

// RecordWait records a caller entering the wait queue.
func (m *Metrics) RecordWait(source string) {
	if m == nil {
		return
	}
	m.admissionWaits.WithLabelValues(source).Inc()
}

// RecordWaitTimeout records a stale waiter swept from the queue.
// outcome is "rejected" or "granted".
func (m *Metrics) RecordWaitTimeout(source, outcome string) {
	if m == nil {
		return
	}
	m.admissionTimeouts.WithLabelValues(source, outcome).Inc()
}

// SetPending tracks the current wait-queue depth.
func (m *Metrics) SetPending(source string, n int) {
	if m == nil {
		return
	}
	m.pendingWaiters.WithLabelValues(source).Set(float64(n))
}

// RecordProbe records one endpoint probe outcome ("ok" or "failed").
func (m *Metrics) RecordProbe(source, endpoint, result string) {
	if m == nil {
		return
	}
	m.probeResults.WithLabelValues(source, endpoint, result).Inc()
}

// SetCircuitOpen tracks an endpoint's breaker state.
func (m *Metrics) SetCircuitOpen(source, endpoint string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1.0
	}
	m.circuitOpen.WithLabelValues(source, endpoint).Set(v)
}

// RecordFetchAttempt records one live fetch attempt by outcome
// ("ok", "transient", "quota", "auth", "exhausted").
func (m *Metrics) RecordFetchAttempt(source, outcome string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(source, outcome).Inc()
}
