// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

// Package alerting owns the security alert lifecycle: creation with
// duplicate suppression, notification dispatch, timer-driven escalation and
// auto-resolution, and alert statistics.
package alerting

import (
	"time"

	"github.com/bastionsec/bastion/internal/event"
)

// Severity orders alerts for routing and escalation.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// Rank returns the numeric ordering of a severity. Unknown severities rank
// below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	case SeverityEmergency:
		return 4
	default:
		return 0
	}
}

// SecurityAlert is an operator-facing notification with its own lifecycle:
// created, then suppressed or active, then optionally escalated, finally
// resolved. Resolved is terminal.
type SecurityAlert struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        event.Type     `json:"type"`
	Severity    Severity       `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Source      string         `json:"source"`
	UserID      string         `json:"user_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Actions     []string       `json:"actions,omitempty"`

	Resolved      bool       `json:"resolved"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy    string     `json:"resolved_by,omitempty"`
	ResolveReason string     `json:"resolve_reason,omitempty"`

	Escalated   bool       `json:"escalated"`
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`
	EscalatedTo string     `json:"escalated_to,omitempty"`

	Suppressed      bool       `json:"suppressed"`
	SuppressedUntil *time.Time `json:"suppressed_until,omitempty"`
}

// AppendAction records a lifecycle action on the alert.
func (a *SecurityAlert) AppendAction(action string) {
	a.Actions = append(a.Actions, action)
}

// AlertData is the input to alert creation.
type AlertData struct {
	Type        event.Type     `json:"type"`
	Severity    Severity       `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Source      string         `json:"source"`
	UserID      string         `json:"user_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AlertStats aggregates alert counts over a window.
type AlertStats struct {
	Total             int            `json:"total"`
	ByType            map[string]int `json:"by_type"`
	BySeverity        map[string]int `json:"by_severity"`
	Resolved          int            `json:"resolved"`
	Escalated         int            `json:"escalated"`
	Suppressed        int            `json:"suppressed"`
	ResolutionRate    float64        `json:"resolution_rate"`
	EscalationRate    float64        `json:"escalation_rate"`
	SuppressionRate   float64        `json:"suppression_rate"`
	MeanResolutionMs  float64        `json:"mean_resolution_ms"`
	WindowStart       time.Time      `json:"window_start"`
	WindowEnd         time.Time      `json:"window_end"`
}
