// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

// Package event defines the SecurityEvent record shared by all detectors
// and the pub/sub bus that carries it through the pipeline.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type categorizes security events.
type Type string

const (
	TypeAuthFailure        Type = "auth_failure"
	TypeAuthSuccess        Type = "auth_success"
	TypeAccessDenied       Type = "access_denied"
	TypeValidationFailure  Type = "validation_failure"
	TypeRateLimitExceeded  Type = "rate_limit_exceeded"
	TypeSuspiciousActivity Type = "suspicious_activity"
	TypeThreatDetected     Type = "threat_detected"
	TypeSecurityBreach     Type = "security_breach"
	TypeAutomatedResponse  Type = "automated_response"
	TypeSystemError        Type = "system_error"
)

// Level indicates how dangerous an event is judged to be.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Rank returns the ordering of a level, low to critical. Unknown levels
// rank below low so malformed input never outranks real detections.
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	case LevelCritical:
		return 4
	default:
		return 0
	}
}

// SecurityEvent is a timestamped record of a detected condition. Fields are
// immutable after creation except Resolved and Actions.
type SecurityEvent struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        Type           `json:"type"`
	Level       Level          `json:"level"`
	Source      string         `json:"source"`
	UserID      string         `json:"user_id,omitempty"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Resolved    bool           `json:"resolved"`
	Actions     []string       `json:"actions,omitempty"`
}

// New creates a SecurityEvent with a fresh ID and timestamp.
func New(t Type, level Level, source, description string) *SecurityEvent {
	return &SecurityEvent{
		ID:          uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		Type:        t,
		Level:       level,
		Source:      source,
		Description: description,
		Metadata:    make(map[string]any),
	}
}

// WithUser sets the user associated with the event.
func (e *SecurityEvent) WithUser(userID string) *SecurityEvent {
	e.UserID = userID
	return e
}

// WithMeta adds a metadata entry.
func (e *SecurityEvent) WithMeta(key string, value any) *SecurityEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// AppendAction records an action taken in response to the event.
func (e *SecurityEvent) AppendAction(action string) {
	e.Actions = append(e.Actions, action)
}

// MarkResolved flips the resolved flag. Resolution is terminal.
func (e *SecurityEvent) MarkResolved() {
	e.Resolved = true
}
