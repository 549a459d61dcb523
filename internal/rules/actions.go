// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bastionsec/bastion/internal/alerting"
	"github.com/bastionsec/bastion/internal/event"
	"github.com/bastionsec/bastion/internal/logging"
)

// execute runs one automated action. Panics and errors are contained here:
// action failure is logged and never aborts the remaining actions or the
// rule's bookkeeping.
func (e *Engine) execute(ctx context.Context, rule *MonitoringRule, idx int, action AutomatedAction, evt *event.SecurityEvent) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Str("rule_id", rule.ID).Int("action", idx).
				Str("type", string(action.Type)).Interface("panic", r).
				Msg("Automated action panicked")
		}
	}()

	var err error
	switch action.Type {
	case ActionAlert:
		err = e.executeAlert(ctx, rule, action, evt)
	case ActionBlockIP:
		err = e.executeBlockIP(action, evt)
	case ActionDisableUser:
		err = e.executeDisableUser(action, evt)
	case ActionRateLimit:
		err = e.executeRateLimit(action, evt)
	case ActionLog:
		e.executeLog(rule, action, evt)
	case ActionNotify:
		err = e.executeNotify(ctx, rule, action, evt)
	default:
		err = errors.New("unknown action type " + string(action.Type))
	}
	if err != nil {
		logging.Err(err).Str("rule_id", rule.ID).Int("action", idx).
			Str("type", string(action.Type)).Msg("Automated action failed")
	}
}

func (e *Engine) executeAlert(ctx context.Context, rule *MonitoringRule, action AutomatedAction, evt *event.SecurityEvent) error {
	if e.deps.Alerts == nil {
		return errors.New("no alerter configured")
	}

	severity := action.Severity
	if severity.Rank() == 0 {
		severity = alerting.SeverityWarning
	}
	title := stringParam(action.Parameters, "title", rule.Name)
	description := stringParam(action.Parameters, "description", evt.Description)

	_, err := e.deps.Alerts.CreateAlert(ctx, alerting.AlertData{
		Type:        evt.Type,
		Severity:    severity,
		Title:       title,
		Description: description,
		Source:      evt.Source,
		UserID:      evt.UserID,
		Metadata: map[string]any{
			"rule_id":  rule.ID,
			"event_id": evt.ID,
		},
	})
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	evt.AppendAction("alert:" + rule.ID)
	return nil
}

func (e *Engine) executeBlockIP(action AutomatedAction, evt *event.SecurityEvent) error {
	if e.deps.Respond == nil {
		return errors.New("no responder configured")
	}
	ip := stringParam(action.Parameters, "ip", evt.Source)
	if ip == "" {
		return errors.New("no ip to block")
	}
	d := durationParam(action.Parameters, "duration_ms", time.Hour)
	e.deps.Respond.BlockIP(ip, d)
	evt.AppendAction("block_ip:" + ip)
	return nil
}

func (e *Engine) executeDisableUser(action AutomatedAction, evt *event.SecurityEvent) error {
	if e.deps.Respond == nil {
		return errors.New("no responder configured")
	}
	userID := stringParam(action.Parameters, "user_id", evt.UserID)
	if userID == "" {
		return errors.New("no user to disable")
	}
	d := durationParam(action.Parameters, "duration_ms", time.Hour)
	e.deps.Respond.DisableUser(userID, d)
	evt.AppendAction("disable_user:" + userID)
	return nil
}

func (e *Engine) executeRateLimit(action AutomatedAction, evt *event.SecurityEvent) error {
	if e.deps.Limiter == nil {
		return errors.New("no rate limiter configured")
	}
	rlContext := stringParam(action.Parameters, "context", "")
	if rlContext == "" {
		if meta, ok := evt.Metadata["context"].(string); ok {
			rlContext = meta
		}
	}
	if rlContext == "" {
		return errors.New("no rate limit context")
	}
	d := durationParam(action.Parameters, "duration_ms", 15*time.Minute)
	e.deps.Limiter.Tighten(rlContext, d)
	evt.AppendAction("rate_limit:" + rlContext)
	return nil
}

func (e *Engine) executeLog(rule *MonitoringRule, action AutomatedAction, evt *event.SecurityEvent) {
	msg := stringParam(action.Parameters, "message", "Monitoring rule matched")
	logging.Warn().Str("rule_id", rule.ID).Str("event_id", evt.ID).
		Str("event_type", string(evt.Type)).Str("source", evt.Source).Msg(msg)
	evt.AppendAction("log:" + rule.ID)
}

func (e *Engine) executeNotify(ctx context.Context, rule *MonitoringRule, action AutomatedAction, evt *event.SecurityEvent) error {
	if e.deps.Notify == nil {
		return errors.New("no notify channel configured")
	}
	severity := action.Severity
	if severity.Rank() == 0 {
		severity = alerting.SeverityInfo
	}
	message := stringParam(action.Parameters, "message", evt.Description)
	e.deps.Notify(ctx, severity, rule.Name, message)
	evt.AppendAction("notify:" + rule.ID)
	return nil
}

func stringParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// durationParam reads a millisecond count from rule parameters. JSON
// decoding yields float64; config decoding may yield int.
func durationParam(params map[string]any, key string, fallback time.Duration) time.Duration {
	if ms, ok := toFloat(params[key]); ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
