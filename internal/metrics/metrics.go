// Package metrics declares the Prometheus collectors shared across bugbot
// services (§4.C10) and registers them against the default registry so
// each service's /metrics handler (internal/httpx) exposes them for free.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FindingsTotal counts findings emitted by the static/fuzzing/triage
	// stages, labeled by severity and chain so dashboards can slice by
	// either axis.
	FindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bugbot_findings_total",
		Help: "Total findings recorded, by severity and chain.",
	}, []string{"severity", "chain"})

	// ScanDurationSeconds observes end-to-end scan duration, labeled by
	// outcome (completed, failed, cancelled).
	ScanDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bugbot_scan_duration_seconds",
		Help:    "End-to-end scan duration in seconds.",
		Buckets: []float64{30, 60, 180, 300, 600, 1200, 1800, 3600, 7200},
	}, []string{"outcome"})

	// StageDurationSeconds observes per-stage duration within a scan.
	StageDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bugbot_stage_duration_seconds",
		Help:    "Per-stage duration in seconds within a scan.",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"stage", "outcome"})

	// ServiceHealth is a 0/1 gauge per RPC provider or stage worker,
	// consumed by GET /rpc-status and external dashboards alike.
	ServiceHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bugbot_service_health",
		Help: "1 if the dependency is healthy, 0 otherwise.",
	}, []string{"component", "chain"})

	// CircuitBreakerState exposes gobreaker's state per provider (0=closed,
	// 1=half-open, 2=open), mirroring gobreaker.State's ordering.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bugbot_circuit_breaker_state",
		Help: "Circuit breaker state per RPC provider (0=closed,1=half-open,2=open).",
	}, []string{"chain", "provider"})

	// LLMRequestsTotal counts LLM router dispatches, labeled by backend and
	// outcome (success, rejected for a non-retryable error, exhausted once
	// every retry has failed).
	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bugbot_llm_requests_total",
		Help: "Total LLM requests dispatched, by backend and outcome.",
	}, []string{"backend", "outcome"})

	// LLMTokensTotal accumulates prompt+completion token usage, labeled by
	// backend, for the cost tracking the LLM router exposes (§4.C2).
	LLMTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bugbot_llm_tokens_total",
		Help: "Total LLM tokens consumed, by backend and token kind.",
	}, []string{"backend", "kind"})

	// ValidationJobsTotal counts validator job outcomes (§4.C7).
	ValidationJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bugbot_validation_jobs_total",
		Help: "Total validator jobs processed, by outcome.",
	}, []string{"outcome"})

	// ValidationQueueDepth gauges the validator's pending job backlog.
	ValidationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bugbot_validation_queue_depth",
		Help: "Number of validation jobs queued but not yet picked up.",
	})

	// GuardrailPausesTotal counts guardrail pause events by resolution
	// (approved, rejected, timed_out).
	GuardrailPausesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bugbot_guardrail_pauses_total",
		Help: "Total guardrail pause requests, by resolution.",
	}, []string{"resolution"})

	// ActiveScans gauges the number of scans currently in flight, for the
	// orchestrator's own admission control (§5).
	ActiveScans = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bugbot_active_scans",
		Help: "Number of scans currently in flight.",
	})
)
