// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus instruments for the generator.
//
// # Description
//
// The generator reports its own behaviour alongside the JSON status
// surface. Metrics include:
//   - Batch write outcomes and write latency
//   - Store connection attempts by outcome
//   - Generation cycles and records emitted
//   - Regression onsets/recoveries and currently regressed PoPs
//   - Distribution of emitted cold-start values by tier
//
// # Integration
//
// Exposed at /metrics/prometheus by the status surface.
//
// # Thread Safety
//
// All operations are thread-safe via Prometheus's internal locking. Every
// method is a no-op on a nil *Metrics so callers may omit instrumentation.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace   = "edgeworker"
	generatorSubsystem = "generator"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds all Prometheus instruments of the generator.
//
// # Fields
//
//   - WritesTotal: Batch write attempts by outcome.
//   - WriteDurationSeconds: Latency of write attempts by outcome.
//   - ConnectAttemptsTotal: Store connect attempts by outcome.
//   - CyclesTotal: Generation cycles by outcome.
//   - RecordsTotal: Records synthesized.
//   - RegressionsStartedTotal: Regression onsets by PoP.
//   - RegressionsRecoveredTotal: Regression recoveries by PoP.
//   - ActiveRegressions: PoPs currently regressed.
//   - ColdStartMilliseconds: Emitted cold-start values by tier.
type Metrics struct {
	WritesTotal               *prometheus.CounterVec
	WriteDurationSeconds      *prometheus.HistogramVec
	ConnectAttemptsTotal      *prometheus.CounterVec
	CyclesTotal               *prometheus.CounterVec
	RecordsTotal              prometheus.Counter
	RegressionsStartedTotal   *prometheus.CounterVec
	RegressionsRecoveredTotal *prometheus.CounterVec
	ActiveRegressions         prometheus.Gauge
	ColdStartMilliseconds     *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers all instruments on reg.
//
// # Inputs
//
//   - reg: Registry to register with. Tests pass prometheus.NewRegistry()
//     to stay isolated from the global registry.
//
// # Limitations
//
//   - Panics if the instruments are already registered on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: generatorSubsystem,
				Name:      "writes_total",
				Help:      "Batch write attempts by outcome",
			},
			[]string{"outcome"},
		),

		WriteDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: generatorSubsystem,
				Name:      "write_duration_seconds",
				Help:      "Latency of batch write attempts in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"outcome"},
		),

		ConnectAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: generatorSubsystem,
				Name:      "connect_attempts_total",
				Help:      "Store connection attempts by outcome",
			},
			[]string{"outcome"},
		),

		CyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: generatorSubsystem,
				Name:      "cycles_total",
				Help:      "Generation cycles by outcome",
			},
			[]string{"outcome"},
		),

		RecordsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: generatorSubsystem,
				Name:      "records_total",
				Help:      "Cold-start records synthesized",
			},
		),

		RegressionsStartedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: generatorSubsystem,
				Name:      "regressions_started_total",
				Help:      "Regression onsets by PoP",
			},
			[]string{"pop_code"},
		),

		RegressionsRecoveredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: generatorSubsystem,
				Name:      "regressions_recovered_total",
				Help:      "Regression recoveries by PoP",
			},
			[]string{"pop_code"},
		),

		ActiveRegressions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: generatorSubsystem,
				Name:      "active_regressions",
				Help:      "PoPs currently in a regression",
			},
		),

		ColdStartMilliseconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: generatorSubsystem,
				Name:      "cold_start_milliseconds",
				Help:      "Synthesized cold-start latency in milliseconds",
				Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10, 12, 15, 20, 30},
			},
			[]string{"tier"},
		),

		gatherer: reg,
	}
}

// Handler returns an HTTP handler exposing the registry in the Prometheus
// text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// =============================================================================
// Recording Helpers
// =============================================================================

func outcome(ok bool) string {
	if ok {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// ObserveWrite records one write attempt.
func (m *Metrics) ObserveWrite(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.WritesTotal.WithLabelValues(outcome(ok)).Inc()
	m.WriteDurationSeconds.WithLabelValues(outcome(ok)).Observe(d.Seconds())
}

// ObserveConnectAttempt records one connect attempt.
func (m *Metrics) ObserveConnectAttempt(ok bool) {
	if m == nil {
		return
	}
	m.ConnectAttemptsTotal.WithLabelValues(outcome(ok)).Inc()
}

// ObserveCycle records one generation cycle and the records it produced.
func (m *Metrics) ObserveCycle(ok bool, records int) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(outcome(ok)).Inc()
	m.RecordsTotal.Add(float64(records))
}

// ObserveColdStart records one emitted value.
func (m *Metrics) ObserveColdStart(tier string, ms float64) {
	if m == nil {
		return
	}
	m.ColdStartMilliseconds.WithLabelValues(tier).Observe(ms)
}

// SetActiveRegressions sets the regressed PoP gauge.
func (m *Metrics) SetActiveRegressions(n int) {
	if m == nil {
		return
	}
	m.ActiveRegressions.Set(float64(n))
}

// RegressionStarted implements regression.Observer.
func (m *Metrics) RegressionStarted(popCode string, _ time.Duration) {
	if m == nil {
		return
	}
	m.RegressionsStartedTotal.WithLabelValues(popCode).Inc()
}

// RegressionRecovered implements regression.Observer.
func (m *Metrics) RegressionRecovered(popCode string) {
	if m == nil {
		return
	}
	m.RegressionsRecoveredTotal.WithLabelValues(popCode).Inc()
}
