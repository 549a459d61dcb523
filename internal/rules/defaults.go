// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package rules

import (
	"time"

	"github.com/bastionsec/bastion/internal/alerting"
	"github.com/bastionsec/bastion/internal/event"
)

// DefaultRules returns the baseline rule set. These are illustrative
// defaults; deployments override them via configuration.
func DefaultRules() []*MonitoringRule {
	return []*MonitoringRule{
		{
			ID:          "repeated-auth-failures",
			Name:        "Repeated authentication failures",
			Description: "Five or more failed logins from one source within five minutes",
			EventTypes:  []event.Type{event.TypeAuthFailure},
			Conditions: []Condition{
				{Field: "frequency", Operator: OpGreaterThan, Value: 4, Window: 5 * time.Minute},
			},
			Actions: []AutomatedAction{
				{Type: ActionAlert, Severity: alerting.SeverityWarning, Parameters: map[string]any{
					"title": "Possible brute-force attempt",
				}},
				{Type: ActionRateLimit, Parameters: map[string]any{
					"context":     "login",
					"duration_ms": float64((15 * time.Minute).Milliseconds()),
				}},
			},
			Enabled:  true,
			Cooldown: time.Minute,
		},
		{
			ID:          "injection-attempt",
			Name:        "Injection pattern detected",
			Description: "Script or SQL injection pattern in validated input",
			EventTypes:  []event.Type{event.TypeValidationFailure, event.TypeSuspiciousActivity, event.TypeThreatDetected},
			Conditions: []Condition{
				{Field: "description", Operator: OpMatches, Value: `(?i)(injection|script|sql|traversal)`},
			},
			Actions: []AutomatedAction{
				{Type: ActionAlert, Severity: alerting.SeverityCritical, Parameters: map[string]any{
					"title": "Injection attempt detected",
				}},
				{Type: ActionBlockIP, Parameters: map[string]any{
					"duration_ms": float64(time.Hour.Milliseconds()),
				}},
			},
			Enabled:  true,
			Cooldown: 5 * time.Minute,
		},
		{
			ID:          "repeated-violations",
			Name:        "Repeated security violations",
			Description: "Three or more medium-or-higher violations from one source within ten minutes",
			EventTypes:  []event.Type{event.TypeAccessDenied, event.TypeSuspiciousActivity, event.TypeThreatDetected},
			Conditions: []Condition{
				{Field: "level", Operator: OpMatches, Value: `^(medium|high|critical)$`},
				{Field: "frequency", Operator: OpGreaterThan, Value: 2, Window: 10 * time.Minute},
			},
			Actions: []AutomatedAction{
				{Type: ActionAlert, Severity: alerting.SeverityCritical, Parameters: map[string]any{
					"title": "Repeated security violations",
				}},
				{Type: ActionLog, Parameters: map[string]any{
					"message": "Source exceeded violation threshold",
				}},
			},
			Enabled:  true,
			Cooldown: 10 * time.Minute,
		},
	}
}
