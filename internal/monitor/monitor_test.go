// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package monitor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bastionsec/bastion/internal/alerting"
	"github.com/bastionsec/bastion/internal/audit"
	"github.com/bastionsec/bastion/internal/event"
	"github.com/bastionsec/bastion/internal/metrics"
	"github.com/bastionsec/bastion/internal/ratelimit"
	"github.com/bastionsec/bastion/internal/rules"
)

// testMonitor wires a full façade over in-memory subsystems.
func testMonitor(t *testing.T) (*Monitor, *event.Bus) {
	t.Helper()

	bus := event.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	limiter := ratelimit.New(ratelimit.DefaultConfig(),
		ratelimit.WithEmitter(func(evt *event.SecurityEvent) { _ = bus.PublishEvent(evt) }))
	t.Cleanup(limiter.Close)

	alerts := alerting.NewManager(alerting.DefaultConfig(), alerting.NewMemoryStore(), bus)
	t.Cleanup(alerts.Close)

	recorder := audit.NewRecorder(audit.DefaultConfig(), audit.NewMemoryStore())
	t.Cleanup(recorder.Close)

	m := New(Deps{
		Bus:      bus,
		Limiter:  limiter,
		Alerts:   alerts,
		Engine:   rules.NewEngine(rules.Deps{Alerts: alerts}, bus),
		Reporter: metrics.NewReporter(),
		Recorder: recorder,
	})
	return m, bus
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestValidateCleanInput(t *testing.T) {
	m, _ := testMonitor(t)

	res := m.ValidateAndSanitizeInput(context.Background(), "hello world", "display", "u1")
	if !res.Valid {
		t.Errorf("clean input invalid: %+v", res)
	}
	if res.RiskScore != 0 {
		t.Errorf("risk score = %d", res.RiskScore)
	}
	if res.Sanitized != "hello world" {
		t.Errorf("sanitized = %v", res.Sanitized)
	}
}

func TestValidateBlockedInputWithheld(t *testing.T) {
	m, _ := testMonitor(t)

	payload := strings.Repeat("<script>alert(1)</script>", 3)
	res := m.ValidateAndSanitizeInput(context.Background(), payload, "display", "u1")
	if res.Valid {
		t.Error("blocked input reported valid")
	}
	if !res.Blocked {
		t.Error("expected blocked")
	}
	if res.Sanitized != nil {
		t.Errorf("blocked input leaked sanitized value: %v", res.Sanitized)
	}
}

func TestValidatePublishesThreatEvent(t *testing.T) {
	m, bus := testMonitor(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var mu sync.Mutex
	var got []*event.SecurityEvent
	if err := bus.SubscribeEvents(ctx, event.TopicThreatDetected, func(evt *event.SecurityEvent) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	m.ValidateAndSanitizeInput(context.Background(),
		strings.Repeat("<script>alert(1)</script>", 3), "display", "u1")

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	})

	mu.Lock()
	defer mu.Unlock()
	evt := got[0]
	if evt.Type != event.TypeThreatDetected {
		t.Errorf("event type = %s", evt.Type)
	}
	if evt.Level != event.LevelCritical {
		t.Errorf("level = %s, blocked input should be critical", evt.Level)
	}
	if evt.UserID != "u1" {
		t.Errorf("user = %q", evt.UserID)
	}
}

func TestValidateEmailPreset(t *testing.T) {
	m, _ := testMonitor(t)

	res := m.ValidateAndSanitizeInput(context.Background(), "User@Example.COM", "email", "")
	if !res.Valid {
		t.Fatalf("valid email rejected: %+v", res)
	}
	if res.Sanitized != "user@example.com" {
		t.Errorf("sanitized = %v", res.Sanitized)
	}

	res = m.ValidateAndSanitizeInput(context.Background(), "not-an-email", "email", "")
	if res.Valid {
		t.Error("invalid email accepted")
	}
}

func TestCheckRateLimitDeniesSixthLogin(t *testing.T) {
	m, _ := testMonitor(t)

	var last ratelimit.Decision
	for i := 0; i < 6; i++ {
		last = m.CheckRateLimit("user1", "login", "u1")
	}
	if last.Allowed {
		t.Error("6th login check should be denied")
	}
	if last.Remaining != 0 {
		t.Errorf("remaining = %d", last.Remaining)
	}
	if last.RetryAfter <= 0 {
		t.Errorf("retry after = %d", last.RetryAfter)
	}
}

func TestAlertPassThroughs(t *testing.T) {
	m, _ := testMonitor(t)
	ctx := context.Background()

	alert, err := m.CreateAlert(ctx, alerting.AlertData{
		Type:     "threat_detected",
		Severity: alerting.SeverityWarning,
		Source:   "test",
		Title:    "probe",
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}

	if !m.ResolveAlert(ctx, alert.ID, "operator", "handled") {
		t.Error("resolve returned false")
	}
	if m.ResolveAlert(ctx, alert.ID, "operator", "again") {
		t.Error("double resolve returned true")
	}
	if m.EscalateAlert(ctx, alert.ID, "") {
		t.Error("escalating a resolved alert returned true")
	}

	stats, err := m.GetAlertStats(ctx, time.Hour)
	if err != nil {
		t.Fatalf("GetAlertStats: %v", err)
	}
	if stats.Total != 1 || stats.Resolved != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGetSecurityMetrics(t *testing.T) {
	m, _ := testMonitor(t)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	m.ValidateAndSanitizeInput(context.Background(),
		strings.Repeat("<script>alert(1)</script>", 3), "display", "u1")

	waitFor(t, time.Second, func() bool {
		return m.GetSecurityMetrics().TotalEvents > 0
	})

	snap := m.GetSecurityMetrics()
	if snap.EventsByType[string(event.TypeThreatDetected)] == 0 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestExportAuditReportEndToEnd(t *testing.T) {
	m, _ := testMonitor(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	m.ValidateAndSanitizeInput(ctx,
		strings.Repeat("<script>alert(1)</script>", 3), "display", "u1")

	waitFor(t, time.Second, func() bool {
		report, err := m.ExportSecurityAuditReport(ctx,
			time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
		return err == nil && report.Summary.TotalEvents > 0
	})

	report, err := m.ExportSecurityAuditReport(ctx,
		time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ExportSecurityAuditReport: %v", err)
	}
	if report.Summary.CriticalEvents == 0 {
		t.Errorf("summary = %+v", report.Summary)
	}
	if len(report.Recommendations) == 0 {
		t.Error("critical events in range require recommendations")
	}
}

func TestRuleEnginePipelineBlocksInjectionSource(t *testing.T) {
	m, bus := testMonitor(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// install the default rules so the injection rule reacts to the
	// threat event the validator publishes
	engine := rules.NewEngine(rules.Deps{Alerts: m.alerts}, bus, rules.DefaultRules()...)
	m.engine = engine

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	m.ValidateAndSanitizeInput(ctx,
		strings.Repeat("<script>alert(1)</script>", 3), "display", "u1")

	waitFor(t, time.Second, func() bool {
		alerts, err := m.alerts.List(ctx, alerting.Filter{})
		if err != nil {
			return false
		}
		for _, a := range alerts {
			if a.Severity == alerting.SeverityCritical {
				return true
			}
		}
		return false
	})
}
