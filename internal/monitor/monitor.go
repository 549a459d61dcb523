// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

// Package monitor composes the detection pipeline behind a single façade:
// input validation, rate limiting, suspicious-activity heuristics, alert
// lifecycle pass-throughs and audit export. Transport layers call into
// this package and never touch the subsystems directly.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bastionsec/bastion/internal/alerting"
	"github.com/bastionsec/bastion/internal/audit"
	"github.com/bastionsec/bastion/internal/event"
	"github.com/bastionsec/bastion/internal/logging"
	"github.com/bastionsec/bastion/internal/metrics"
	"github.com/bastionsec/bastion/internal/ratelimit"
	"github.com/bastionsec/bastion/internal/rules"
	"github.com/bastionsec/bastion/internal/sanitize"
)

// highRiskThreshold is the risk score at which a validation publishes a
// threat-detected event even when the input is not blocked outright.
const highRiskThreshold = 80

// Deps are the subsystems the façade composes. Bus, Limiter and Alerts
// are required; the rest may be nil and the corresponding operations
// degrade to no-ops or errors.
type Deps struct {
	Bus      *event.Bus
	Limiter  *ratelimit.Limiter
	Alerts   *alerting.Manager
	Engine   *rules.Engine
	Reporter *metrics.Reporter
	Recorder *audit.Recorder
}

// Monitor is the security pipeline façade. Safe for concurrent use.
type Monitor struct {
	bus      *event.Bus
	limiter  *ratelimit.Limiter
	alerts   *alerting.Manager
	engine   *rules.Engine
	reporter *metrics.Reporter
	recorder *audit.Recorder
}

// New creates the façade. Call Start to wire the asynchronous pipeline.
func New(deps Deps) *Monitor {
	return &Monitor{
		bus:      deps.Bus,
		limiter:  deps.Limiter,
		alerts:   deps.Alerts,
		engine:   deps.Engine,
		reporter: deps.Reporter,
		recorder: deps.Recorder,
	}
}

// Start subscribes the rule engine, metrics reporter and audit recorder
// to the event firehose. Subscriptions live until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	if m.engine != nil {
		err := m.bus.SubscribeEvents(ctx, event.TopicEvents, func(evt *event.SecurityEvent) {
			m.engine.Evaluate(ctx, evt)
		})
		if err != nil {
			return fmt.Errorf("subscribe rule engine: %w", err)
		}
	}
	if m.reporter != nil {
		if err := m.reporter.AttachBus(ctx, m.bus); err != nil {
			return fmt.Errorf("attach metrics reporter: %w", err)
		}
	}
	if m.recorder != nil {
		if err := m.recorder.AttachBus(ctx, m.bus); err != nil {
			return fmt.Errorf("attach audit recorder: %w", err)
		}
	}
	return nil
}

// ValidationResult is the outcome of ValidateAndSanitizeInput.
type ValidationResult struct {
	Valid     bool               `json:"valid"`
	Errors    []string           `json:"errors,omitempty"`
	Warnings  []string           `json:"warnings,omitempty"`
	Sanitized any                `json:"sanitized,omitempty"`
	RiskScore int                `json:"risk_score"`
	RiskLevel sanitize.RiskLevel `json:"risk_level"`
	Blocked   bool               `json:"blocked"`
}

// presetFor maps an input context name to a sanitization preset. Unknown
// contexts get the general display profile.
func presetFor(contextName string) sanitize.Preset {
	switch contextName {
	case "email":
		return sanitize.PresetEmail
	case "url":
		return sanitize.PresetURL
	case "filename":
		return sanitize.PresetFilename
	case "json":
		return sanitize.PresetJSON
	case "search":
		return sanitize.PresetSearch
	default:
		return sanitize.PresetDisplay
	}
}

// ValidateAndSanitizeInput sanitizes and risk-scores input under the named
// context's profile. High-risk input publishes a threat-detected event;
// blocked input is invalid and its sanitized value is withheld. A panic
// anywhere in the scoring path fails closed: score 100, blocked.
func (m *Monitor) ValidateAndSanitizeInput(ctx context.Context, input any, contextName, userID string) (res *ValidationResult) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		logging.Error().
			Str("context", contextName).
			Interface("panic", r).
			Msg("validation pipeline panic, failing closed")
		m.publish(event.New(event.TypeSystemError, event.LevelCritical,
			"input-validation", "validation pipeline panic").
			WithUser(userID).
			WithMeta("context", contextName))
		res = &ValidationResult{
			Valid:     false,
			Errors:    []string{"internal validation error"},
			RiskScore: 100,
			RiskLevel: sanitize.RiskCritical,
			Blocked:   true,
		}
	}()

	result := sanitize.SanitizeField(input, contextName, presetFor(contextName))

	metrics.SanitizationsTotal.WithLabelValues(string(result.RiskLevel)).Inc()
	metrics.RiskScore.Observe(float64(result.RiskScore))
	if result.Blocked {
		metrics.SanitizationsBlocked.Inc()
	}

	if result.Blocked || result.RiskScore >= highRiskThreshold {
		level := event.LevelHigh
		if result.Blocked {
			level = event.LevelCritical
		}
		evt := event.New(event.TypeThreatDetected, level, "input-validation",
			threatDescription(contextName, result)).
			WithUser(userID).
			WithMeta("context", contextName).
			WithMeta("risk_score", result.RiskScore).
			WithMeta("blocked", result.Blocked)
		m.publish(evt)
	}

	out := &ValidationResult{
		Valid:     !result.Blocked && len(result.Errors) == 0,
		Errors:    result.Errors,
		Warnings:  result.Warnings,
		RiskScore: result.RiskScore,
		RiskLevel: result.RiskLevel,
		Blocked:   result.Blocked,
	}
	if !result.Blocked {
		out.Sanitized = result.Sanitized
	}
	return out
}

// CheckRateLimit checks the identifier against the named context's
// configured window. Denials emit rate-limit-exceeded events from the
// limiter itself.
func (m *Monitor) CheckRateLimit(identifier, contextName, userID string) ratelimit.Decision {
	d := m.limiter.Check(identifier, contextName)
	outcome := "allowed"
	if !d.Allowed {
		outcome = "denied"
		logging.Debug().
			Str("identifier", identifier).
			Str("context", contextName).
			Str("user_id", userID).
			Int("retry_after", d.RetryAfter).
			Msg("rate limit denied")
	}
	metrics.RateLimitChecks.WithLabelValues(contextName, outcome).Inc()
	return d
}

// CreateAlert raises a security alert through the alert manager.
func (m *Monitor) CreateAlert(ctx context.Context, data alerting.AlertData) (*alerting.SecurityAlert, error) {
	return m.alerts.CreateAlert(ctx, data)
}

// ResolveAlert resolves an alert. Returns false for unknown or already
// resolved alerts.
func (m *Monitor) ResolveAlert(ctx context.Context, id, resolvedBy, reason string) bool {
	return m.alerts.Resolve(ctx, id, resolvedBy, reason)
}

// EscalateAlert escalates an alert to the given target, or the configured
// default when target is empty.
func (m *Monitor) EscalateAlert(ctx context.Context, id, target string) bool {
	return m.alerts.Escalate(ctx, id, target)
}

// GetAlert fetches one alert by ID.
func (m *Monitor) GetAlert(ctx context.Context, id string) (*alerting.SecurityAlert, error) {
	return m.alerts.Get(ctx, id)
}

// ListAlerts returns alerts matching the filter, newest first.
func (m *Monitor) ListAlerts(ctx context.Context, f alerting.Filter) ([]*alerting.SecurityAlert, error) {
	return m.alerts.List(ctx, f)
}

// GetAlertStats aggregates alert statistics over the trailing window.
func (m *Monitor) GetAlertStats(ctx context.Context, window time.Duration) (*alerting.AlertStats, error) {
	return m.alerts.Stats(ctx, window)
}

// GetSecurityMetrics returns the aggregate event counters and derived
// system health.
func (m *Monitor) GetSecurityMetrics() metrics.SecurityMetrics {
	if m.reporter == nil {
		return metrics.SecurityMetrics{SystemHealth: metrics.HealthHealthy}
	}
	return m.reporter.Snapshot()
}

// ExportSecurityAuditReport builds an audit report over [start, end].
func (m *Monitor) ExportSecurityAuditReport(ctx context.Context, start, end time.Time) (*audit.Report, error) {
	if m.recorder == nil {
		return nil, errors.New("audit recorder not configured")
	}
	return m.recorder.ExportReport(ctx, start, end)
}

// threatDescription summarizes what the sanitizer removed so downstream
// rule conditions can match on the removal reasons.
func threatDescription(contextName string, result *sanitize.Result) string {
	seen := make(map[string]struct{})
	var reasons []string
	for _, ch := range result.Changes {
		if _, dup := seen[ch.Reason]; dup {
			continue
		}
		seen[ch.Reason] = struct{}{}
		reasons = append(reasons, ch.Reason)
	}
	desc := fmt.Sprintf("high-risk input in context %q (score %d)", contextName, result.RiskScore)
	if len(reasons) > 0 {
		desc += ": " + strings.Join(reasons, "; ")
	}
	return desc
}

// publish sends an event to the bus, logging rather than propagating
// failures: detection results never depend on downstream delivery.
func (m *Monitor) publish(evt *event.SecurityEvent) {
	if m.bus == nil {
		return
	}
	if err := m.bus.PublishEvent(evt); err != nil {
		logging.Err(err).Str("event_id", evt.ID).Msg("failed to publish event")
	}
}
