// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

// Package metrics exposes Prometheus instrumentation and the aggregate
// security metrics consumed by dashboards and the audit report.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Security event metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_security_events_total",
			Help: "Total number of security events by type and level",
		},
		[]string{"type", "level"},
	)

	// Sanitization metrics
	SanitizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_sanitizations_total",
			Help: "Total number of sanitization runs by risk level",
		},
		[]string{"risk_level"},
	)

	SanitizationsBlocked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_sanitizations_blocked_total",
			Help: "Total number of inputs blocked by the sanitizer",
		},
	)

	RiskScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bastion_risk_score",
			Help:    "Distribution of sanitization risk scores",
			Buckets: []float64{0, 15, 40, 80, 90, 100},
		},
	)

	// Rate limit metrics
	RateLimitChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_rate_limit_checks_total",
			Help: "Total number of rate limit checks by context and outcome",
		},
		[]string{"context", "outcome"}, // outcome: "allowed", "denied"
	)

	// Alert metrics
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_alerts_total",
			Help: "Total number of alerts by severity and disposition",
		},
		[]string{"severity", "disposition"}, // disposition: "created", "suppressed", "resolved", "escalated"
	)

	ActiveAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_active_alerts",
			Help: "Current number of unresolved, non-suppressed alerts",
		},
	)

	// Rule engine metrics
	RuleTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_rule_triggers_total",
			Help: "Total number of rule triggers by rule id",
		},
		[]string{"rule_id"},
	)

	// Response metrics
	BlockedIPs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_blocked_ips",
			Help: "Current number of blocked IP addresses",
		},
	)

	DisabledUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_disabled_users",
			Help: "Current number of disabled user accounts",
		},
	)

	// Audit metrics
	AuditQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_audit_events_dropped_total",
			Help: "Total number of audit events dropped due to a full queue",
		},
	)

	// API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_api_requests_total",
			Help: "Total number of API requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bastion_api_request_duration_seconds",
			Help:    "API request latency by method and path",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_api_active_requests",
			Help: "Number of API requests currently in flight",
		},
	)
)

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		ActiveRequests.Inc()
	} else {
		ActiveRequests.Dec()
	}
}

// RecordAPIRequest records one completed API request.
func RecordAPIRequest(method, path, status string, duration float64) {
	APIRequests.WithLabelValues(method, path, status).Inc()
	APIRequestDuration.WithLabelValues(method, path).Observe(duration)
}
