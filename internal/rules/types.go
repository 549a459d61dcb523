// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

// Package rules matches security events against configurable monitoring
// rules and executes the automated actions of matching rules.
package rules

import (
	"sync"
	"time"

	"github.com/bastionsec/bastion/internal/alerting"
	"github.com/bastionsec/bastion/internal/event"
)

// Operator compares a resolved event field against a condition value.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpMatches     Operator = "matches"
)

// Condition is one predicate of a rule. All conditions of a rule must hold
// for the rule to trigger.
//
// Field is a dotted path into the event ("type", "level", "source",
// "metadata.risk_score", ...). The pseudo-field "frequency" resolves to the
// number of events with the same (type, source) seen within Window.
type Condition struct {
	Field    string        `json:"field" koanf:"field"`
	Operator Operator      `json:"operator" koanf:"operator"`
	Value    any           `json:"value" koanf:"value"`
	Window   time.Duration `json:"window,omitempty" koanf:"window"`
}

// ActionType names an automated action kind.
type ActionType string

const (
	ActionAlert       ActionType = "alert"
	ActionBlockIP     ActionType = "block_ip"
	ActionDisableUser ActionType = "disable_user"
	ActionRateLimit   ActionType = "rate_limit"
	ActionLog         ActionType = "log"
	ActionNotify      ActionType = "notify"
)

// AutomatedAction is one response step of a rule, executed in declared
// order. A failing action is logged and never aborts the remaining actions.
type AutomatedAction struct {
	Type       ActionType        `json:"type" koanf:"type"`
	Parameters map[string]any    `json:"parameters,omitempty" koanf:"parameters"`
	Severity   alerting.Severity `json:"severity,omitempty" koanf:"severity"`
}

// MonitoringRule matches events by type and conditions.
type MonitoringRule struct {
	ID          string            `json:"id" koanf:"id"`
	Name        string            `json:"name" koanf:"name"`
	Description string            `json:"description,omitempty" koanf:"description"`
	EventTypes  []event.Type      `json:"event_types" koanf:"event_types"`
	Conditions  []Condition       `json:"conditions,omitempty" koanf:"conditions"`
	Actions     []AutomatedAction `json:"actions" koanf:"actions"`
	Enabled     bool              `json:"enabled" koanf:"enabled"`
	Cooldown    time.Duration     `json:"cooldown" koanf:"cooldown"`

	mu            sync.Mutex
	lastTriggered time.Time
}

// LastTriggered returns when the rule last fired. Zero if never.
func (r *MonitoringRule) LastTriggered() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTriggered
}

// matchesType reports whether the rule subscribes to the event type.
func (r *MonitoringRule) matchesType(t event.Type) bool {
	for _, et := range r.EventTypes {
		if et == t {
			return true
		}
	}
	return false
}

// tryAcquire atomically checks the cooldown and claims the trigger slot.
// Returns false while inside the cooldown window of the previous trigger.
func (r *MonitoringRule) tryAcquire(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.lastTriggered.IsZero() && now.Sub(r.lastTriggered) < r.Cooldown {
		return false
	}
	r.lastTriggered = now
	return true
}
