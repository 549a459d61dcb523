// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package rules

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bastionsec/bastion/internal/alerting"
	"github.com/bastionsec/bastion/internal/event"
	"github.com/bastionsec/bastion/internal/logging"
	"github.com/bastionsec/bastion/internal/metrics"
)

// Alerter creates alerts for the alert action.
type Alerter interface {
	CreateAlert(ctx context.Context, data alerting.AlertData) (*alerting.SecurityAlert, error)
}

// Responder executes block and disable actions.
type Responder interface {
	BlockIP(ip string, d time.Duration)
	DisableUser(userID string, d time.Duration)
}

// RateLimiter tightens a rate-limit context after repeated violations.
type RateLimiter interface {
	Tighten(context string, d time.Duration)
}

// NotifyFunc dispatches a notify action to configured channels.
type NotifyFunc func(ctx context.Context, severity alerting.Severity, title, message string)

// Deps are the collaborators rule actions delegate to. Nil members disable
// the corresponding action types.
type Deps struct {
	Alerts  Alerter
	Respond Responder
	Limiter RateLimiter
	Notify  NotifyFunc
}

// RuleTriggered is published on the rule-triggered topic.
type RuleTriggered struct {
	RuleID    string     `json:"rule_id"`
	RuleName  string     `json:"rule_name"`
	EventID   string     `json:"event_id"`
	EventType event.Type `json:"event_type"`
	Timestamp time.Time  `json:"timestamp"`
}

// frequencyHorizon bounds how long per-(type, source) event timestamps are
// retained for frequency conditions.
const frequencyHorizon = time.Hour

// Engine evaluates security events against the configured rule set.
// Evaluation is synchronous and bounded: O(rules x conditions) with no I/O.
type Engine struct {
	deps Deps
	bus  *event.Bus

	mu    sync.RWMutex
	rules []*MonitoringRule

	regexMu sync.Mutex
	regexes map[string]*regexp.Regexp

	freqMu    sync.Mutex
	seen      map[string][]time.Time
	lastSweep time.Time
}

// NewEngine creates a rule engine with the given rule set. bus may be nil;
// rule-triggered notifications are then not published.
func NewEngine(deps Deps, bus *event.Bus, rules ...*MonitoringRule) *Engine {
	e := &Engine{
		deps:    deps,
		bus:     bus,
		regexes: make(map[string]*regexp.Regexp),
		seen:    make(map[string][]time.Time),
	}
	for _, r := range rules {
		e.AddRule(r)
	}
	return e
}

// AddRule registers a rule. A rule with an id already present replaces the
// old rule.
func (e *Engine) AddRule(r *MonitoringRule) {
	if r == nil || r.ID == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.rules {
		if existing.ID == r.ID {
			e.rules[i] = r
			return
		}
	}
	e.rules = append(e.rules, r)
}

// RemoveRule deletes a rule by id. Returns false if unknown.
func (e *Engine) RemoveRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rules {
		if r.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Rules returns the registered rules in registration order.
func (e *Engine) Rules() []*MonitoringRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*MonitoringRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// SetEnabled toggles one rule. Returns false if unknown.
func (e *Engine) SetEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.rules {
		if r.ID == id {
			r.Enabled = enabled
			return true
		}
	}
	return false
}

// Evaluate matches one event against all enabled rules and executes the
// actions of every matching rule. A broken rule or failing action is logged
// and never halts evaluation of the remaining rules or actions.
func (e *Engine) Evaluate(ctx context.Context, evt *event.SecurityEvent) {
	if evt == nil {
		return
	}
	now := time.Now()
	e.recordSeen(evt, now)

	for _, rule := range e.Rules() {
		if !rule.Enabled || !rule.matchesType(evt.Type) {
			continue
		}

		matched, err := e.conditionsHold(rule, evt, now)
		if err != nil {
			logging.Err(err).Str("rule_id", rule.ID).Str("event_id", evt.ID).
				Msg("Rule evaluation failed")
			continue
		}
		if !matched {
			continue
		}
		if !rule.tryAcquire(now) {
			continue
		}

		logging.Info().Str("rule_id", rule.ID).Str("rule_name", rule.Name).
			Str("event_id", evt.ID).Str("event_type", string(evt.Type)).
			Msg("Monitoring rule triggered")
		metrics.RuleTriggers.WithLabelValues(rule.ID).Inc()
		e.publishTriggered(rule, evt, now)

		for i, action := range rule.Actions {
			e.execute(ctx, rule, i, action, evt)
		}
	}
}

func (e *Engine) conditionsHold(rule *MonitoringRule, evt *event.SecurityEvent, now time.Time) (bool, error) {
	for _, cond := range rule.Conditions {
		ok, err := e.conditionHolds(cond, evt, now)
		if err != nil {
			return false, fmt.Errorf("condition %q %s: %w", cond.Field, cond.Operator, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) conditionHolds(cond Condition, evt *event.SecurityEvent, now time.Time) (bool, error) {
	var actual any
	if cond.Field == "frequency" {
		window := cond.Window
		if window <= 0 {
			window = 5 * time.Minute
		}
		actual = e.frequency(evt, now, window)
	} else {
		v, ok := resolvePath(evt, cond.Field)
		if !ok {
			// Missing fields fail the condition, not the rule.
			return false, nil
		}
		actual = v
	}
	return e.compare(cond.Operator, actual, cond.Value)
}

func (e *Engine) compare(op Operator, actual, expected any) (bool, error) {
	switch op {
	case OpEquals, OpNotEquals:
		eq := equalValues(actual, expected)
		if op == OpNotEquals {
			return !eq, nil
		}
		return eq, nil
	case OpContains:
		return strings.Contains(toString(actual), toString(expected)), nil
	case OpGreaterThan, OpLessThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		if !aok || !bok {
			return false, fmt.Errorf("non-numeric comparison: %v vs %v", actual, expected)
		}
		if op == OpGreaterThan {
			return a > b, nil
		}
		return a < b, nil
	case OpMatches:
		re, err := e.compileRegex(toString(expected))
		if err != nil {
			return false, err
		}
		return re.MatchString(toString(actual)), nil
	default:
		return false, errors.New("unknown operator " + string(op))
	}
}

// compileRegex caches compiled patterns; rule sets are small and static, so
// the cache is never evicted.
func (e *Engine) compileRegex(pattern string) (*regexp.Regexp, error) {
	e.regexMu.Lock()
	defer e.regexMu.Unlock()
	if re, ok := e.regexes[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	e.regexes[pattern] = re
	return re, nil
}

// seenSweepInterval bounds how often the full seen map is swept for stale
// keys. Per-key trimming on access is not enough: sources that stop sending
// would otherwise leave their keys behind forever.
const seenSweepInterval = 10 * time.Minute

// recordSeen appends the event to the per-(type, source) history used by
// frequency conditions, pruning entries past the horizon.
func (e *Engine) recordSeen(evt *event.SecurityEvent, now time.Time) {
	key := string(evt.Type) + ":" + evt.Source
	cutoff := now.Add(-frequencyHorizon)

	e.freqMu.Lock()
	defer e.freqMu.Unlock()
	times := e.seen[key]
	kept := times[:0]
	for _, ts := range times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.seen[key] = append(kept, now)

	if now.Sub(e.lastSweep) >= seenSweepInterval {
		e.sweepSeenLocked(cutoff)
		e.lastSweep = now
	}
}

// sweepSeenLocked drops keys whose entire history is past the cutoff.
// Caller holds freqMu.
func (e *Engine) sweepSeenLocked(cutoff time.Time) {
	for key, times := range e.seen {
		live := false
		for _, ts := range times {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(e.seen, key)
		}
	}
}

// frequency counts events with the same (type, source) within the window,
// including the event under evaluation.
func (e *Engine) frequency(evt *event.SecurityEvent, now time.Time, window time.Duration) int {
	key := string(evt.Type) + ":" + evt.Source
	cutoff := now.Add(-window)

	e.freqMu.Lock()
	defer e.freqMu.Unlock()
	count := 0
	for _, ts := range e.seen[key] {
		if !ts.Before(cutoff) {
			count++
		}
	}
	return count
}

func (e *Engine) publishTriggered(rule *MonitoringRule, evt *event.SecurityEvent, now time.Time) {
	if e.bus == nil {
		return
	}
	err := e.bus.Publish(event.TopicRuleTriggered, RuleTriggered{
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		EventID:   evt.ID,
		EventType: evt.Type,
		Timestamp: now.UTC(),
	})
	if err != nil {
		logging.Err(err).Str("rule_id", rule.ID).Msg("Failed to publish rule trigger")
	}
}

func equalValues(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return toString(a) == toString(b)
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
