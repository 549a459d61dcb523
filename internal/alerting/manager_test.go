// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package alerting

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bastionsec/bastion/internal/event"
	"github.com/bastionsec/bastion/internal/metrics"
)

type recordingNotifier struct {
	min Severity

	mu       sync.Mutex
	received []*SecurityAlert
}

func (n *recordingNotifier) Name() string          { return "recording" }
func (n *recordingNotifier) Enabled() bool         { return true }
func (n *recordingNotifier) MinSeverity() Severity { return n.min }

func (n *recordingNotifier) Send(ctx context.Context, alert *SecurityAlert) error {
	n.mu.Lock()
	n.received = append(n.received, alert)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.received)
}

func newTestManager(t *testing.T, cfg Config, notifiers ...Notifier) *Manager {
	t.Helper()
	m := NewManager(cfg, NewMemoryStore(), nil, notifiers...)
	t.Cleanup(m.Close)
	return m
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

func TestCreateAlert(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	alert, err := m.CreateAlert(ctx, AlertData{
		Type:        event.TypeThreatDetected,
		Severity:    SeverityWarning,
		Title:       "Suspicious input",
		Description: "injection pattern in search field",
		Source:      "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	if alert.ID == "" {
		t.Error("missing id")
	}
	if alert.Suppressed || alert.Resolved || alert.Escalated {
		t.Errorf("new alert has lifecycle flags set: %+v", alert)
	}

	got, err := m.Get(ctx, alert.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Suspicious input" {
		t.Errorf("title = %q", got.Title)
	}
}

func TestDuplicateSuppression(t *testing.T) {
	m := newTestManager(t, Config{SuppressDuplicates: time.Minute})
	ctx := context.Background()

	data := AlertData{Type: event.TypeThreatDetected, Severity: SeverityWarning, Source: "10.0.0.1"}
	first, err := m.CreateAlert(ctx, data)
	if err != nil {
		t.Fatalf("first CreateAlert: %v", err)
	}
	second, err := m.CreateAlert(ctx, data)
	if err != nil {
		t.Fatalf("second CreateAlert: %v", err)
	}

	if first.Suppressed {
		t.Error("first alert suppressed")
	}
	if !second.Suppressed {
		t.Error("duplicate not suppressed")
	}
	if second.SuppressedUntil == nil {
		t.Error("suppressed alert missing suppressed_until")
	}

	// A different source is not a duplicate.
	other, err := m.CreateAlert(ctx, AlertData{Type: event.TypeThreatDetected, Severity: SeverityWarning, Source: "10.0.0.2"})
	if err != nil {
		t.Fatalf("third CreateAlert: %v", err)
	}
	if other.Suppressed {
		t.Error("alert from different source suppressed")
	}
}

func TestSuppressedAlertSkipsNotification(t *testing.T) {
	n := &recordingNotifier{min: SeverityInfo}
	m := newTestManager(t, Config{SuppressDuplicates: time.Minute}, n)
	ctx := context.Background()

	data := AlertData{Type: event.TypeAuthFailure, Severity: SeverityWarning, Source: "u1"}
	m.CreateAlert(ctx, data)
	m.CreateAlert(ctx, data)

	waitFor(t, time.Second, func() bool { return n.count() >= 1 })
	time.Sleep(20 * time.Millisecond)
	if got := n.count(); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
}

func TestNotifierSeverityFloor(t *testing.T) {
	low := &recordingNotifier{min: SeverityInfo}
	high := &recordingNotifier{min: SeverityCritical}
	m := newTestManager(t, Config{}, low, high)
	ctx := context.Background()

	m.CreateAlert(ctx, AlertData{Type: event.TypeAuthFailure, Severity: SeverityWarning, Source: "u1"})

	waitFor(t, time.Second, func() bool { return low.count() == 1 })
	time.Sleep(20 * time.Millisecond)
	if high.count() != 0 {
		t.Errorf("critical-floor notifier received warning alert")
	}
}

func TestResolve(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	alert, _ := m.CreateAlert(ctx, AlertData{Type: event.TypeThreatDetected, Severity: SeverityWarning, Source: "s"})

	if !m.Resolve(ctx, alert.ID, "operator", "false positive") {
		t.Fatal("Resolve returned false on active alert")
	}
	got, _ := m.Get(ctx, alert.ID)
	if !got.Resolved || got.ResolvedBy != "operator" || got.ResolvedAt == nil {
		t.Errorf("resolution fields: %+v", got)
	}

	// Terminal state: second resolve is a no-op.
	if m.Resolve(ctx, alert.ID, "operator", "") {
		t.Error("Resolve returned true on already-resolved alert")
	}
	if m.Resolve(ctx, "no-such-id", "operator", "") {
		t.Error("Resolve returned true for unknown id")
	}
}

func TestEscalate(t *testing.T) {
	m := newTestManager(t, Config{EscalationTarget: "oncall"})
	ctx := context.Background()

	alert, _ := m.CreateAlert(ctx, AlertData{Type: event.TypeSecurityBreach, Severity: SeverityWarning, Source: "s"})

	if !m.Escalate(ctx, alert.ID, "") {
		t.Fatal("Escalate returned false on active alert")
	}
	got, _ := m.Get(ctx, alert.ID)
	if !got.Escalated || got.EscalatedTo != "oncall" || got.EscalatedAt == nil {
		t.Errorf("escalation fields: %+v", got)
	}

	if m.Escalate(ctx, alert.ID, "") {
		t.Error("Escalate returned true on already-escalated alert")
	}

	resolved, _ := m.CreateAlert(ctx, AlertData{Type: event.TypeSecurityBreach, Severity: SeverityWarning, Source: "other"})
	m.Resolve(ctx, resolved.ID, "operator", "")
	if m.Escalate(ctx, resolved.ID, "") {
		t.Error("Escalate returned true on resolved alert")
	}
}

func TestEscalationBypassesSeverityFloor(t *testing.T) {
	high := &recordingNotifier{min: SeverityEmergency}
	m := newTestManager(t, Config{}, high)
	ctx := context.Background()

	alert, _ := m.CreateAlert(ctx, AlertData{Type: event.TypeSecurityBreach, Severity: SeverityWarning, Source: "s"})
	if high.count() != 0 {
		t.Fatal("warning alert reached emergency-floor notifier")
	}

	m.Escalate(ctx, alert.ID, "oncall")
	waitFor(t, time.Second, func() bool { return high.count() == 1 })
}

func TestCriticalAlertAutoEscalates(t *testing.T) {
	m := newTestManager(t, Config{
		EscalationTimeout: 30 * time.Millisecond,
		EscalationTarget:  "security-team",
	})
	ctx := context.Background()

	alert, _ := m.CreateAlert(ctx, AlertData{Type: event.TypeThreatDetected, Severity: SeverityCritical, Source: "x"})

	waitFor(t, time.Second, func() bool {
		got, err := m.Get(ctx, alert.ID)
		return err == nil && got.Escalated
	})
	got, _ := m.Get(ctx, alert.ID)
	if got.EscalatedTo != "security-team" {
		t.Errorf("escalated_to = %q, want security-team", got.EscalatedTo)
	}
}

func TestResolveCancelsEscalationTimer(t *testing.T) {
	m := newTestManager(t, Config{EscalationTimeout: 40 * time.Millisecond})
	ctx := context.Background()

	alert, _ := m.CreateAlert(ctx, AlertData{Type: event.TypeThreatDetected, Severity: SeverityCritical, Source: "x"})
	if !m.Resolve(ctx, alert.ID, "operator", "handled") {
		t.Fatal("Resolve failed")
	}

	time.Sleep(80 * time.Millisecond)
	got, _ := m.Get(ctx, alert.ID)
	if got.Escalated {
		t.Error("stale escalation timer fired on resolved alert")
	}
}

func TestAutoResolve(t *testing.T) {
	m := newTestManager(t, Config{AutoResolveTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	alert, _ := m.CreateAlert(ctx, AlertData{Type: event.TypeAuthFailure, Severity: SeverityInfo, Source: "u"})

	waitFor(t, time.Second, func() bool {
		got, err := m.Get(ctx, alert.ID)
		return err == nil && got.Resolved
	})
	got, _ := m.Get(ctx, alert.ID)
	if got.ResolvedBy != "system" {
		t.Errorf("resolved_by = %q, want system", got.ResolvedBy)
	}
}

func TestHourlyThresholdSignal(t *testing.T) {
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	var mu sync.Mutex
	signals := 0
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := bus.Subscribe(ctx, event.TopicThresholdExceeded, func([]byte) {
		mu.Lock()
		signals++
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	m := NewManager(Config{MaxAlertsPerHour: 3, SuppressDuplicates: time.Nanosecond}, NewMemoryStore(), bus)
	t.Cleanup(m.Close)

	for i := 0; i < 6; i++ {
		_, err := m.CreateAlert(context.Background(), AlertData{
			Type:     event.TypeAuthFailure,
			Severity: SeverityInfo,
			Source:   string(rune('a' + i)),
		})
		if err != nil {
			t.Fatalf("CreateAlert %d: %v", i, err)
		}
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signals >= 1
	})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if signals != 1 {
		t.Errorf("threshold signals = %d, want exactly 1 per hour", signals)
	}
}

func TestStats(t *testing.T) {
	m := newTestManager(t, Config{SuppressDuplicates: time.Minute})
	ctx := context.Background()

	a1, _ := m.CreateAlert(ctx, AlertData{Type: event.TypeThreatDetected, Severity: SeverityCritical, Source: "a"})
	m.CreateAlert(ctx, AlertData{Type: event.TypeThreatDetected, Severity: SeverityCritical, Source: "a"}) // suppressed
	m.CreateAlert(ctx, AlertData{Type: event.TypeAuthFailure, Severity: SeverityWarning, Source: "b"})
	m.Resolve(ctx, a1.ID, "operator", "")

	stats, err := m.Stats(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByType["threat_detected"] != 2 {
		t.Errorf("by_type[threat_detected] = %d, want 2", stats.ByType["threat_detected"])
	}
	if stats.Resolved != 1 || stats.Suppressed != 1 {
		t.Errorf("resolved = %d suppressed = %d", stats.Resolved, stats.Suppressed)
	}
	if stats.SuppressionRate < 0.3 || stats.SuppressionRate > 0.34 {
		t.Errorf("suppression rate = %f", stats.SuppressionRate)
	}
}

func TestCreateAlertMovesCounters(t *testing.T) {
	m := newTestManager(t, Config{SuppressDuplicates: time.Hour})
	ctx := context.Background()

	created := testutil.ToFloat64(metrics.AlertsTotal.WithLabelValues("critical", "created"))
	active := testutil.ToFloat64(metrics.ActiveAlerts)

	for i := 0; i < 3; i++ {
		_, err := m.CreateAlert(ctx, AlertData{
			Type:     event.TypeThreatDetected,
			Severity: SeverityCritical,
			Source:   "203.0.113." + strconv.Itoa(i+1),
		})
		if err != nil {
			t.Fatalf("CreateAlert: %v", err)
		}
	}

	got := testutil.ToFloat64(metrics.AlertsTotal.WithLabelValues("critical", "created"))
	if got != created+3 {
		t.Errorf("created counter moved by %v, want 3", got-created)
	}
	if gauge := testutil.ToFloat64(metrics.ActiveAlerts); gauge != active+3 {
		t.Errorf("active gauge moved by %v, want 3", gauge-active)
	}
}

func TestResolveMovesCounters(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	alert, err := m.CreateAlert(ctx, AlertData{
		Type: event.TypeThreatDetected, Severity: SeverityWarning, Source: "10.0.0.9",
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}

	resolved := testutil.ToFloat64(metrics.AlertsTotal.WithLabelValues("warning", "resolved"))
	active := testutil.ToFloat64(metrics.ActiveAlerts)

	if !m.Resolve(ctx, alert.ID, "ops", "handled") {
		t.Fatal("Resolve failed")
	}

	if got := testutil.ToFloat64(metrics.AlertsTotal.WithLabelValues("warning", "resolved")); got != resolved+1 {
		t.Errorf("resolved counter moved by %v, want 1", got-resolved)
	}
	if gauge := testutil.ToFloat64(metrics.ActiveAlerts); gauge != active-1 {
		t.Errorf("active gauge moved by %v, want -1", gauge-active)
	}
}

func TestEscalationNotifiesAsEmergency(t *testing.T) {
	n := &recordingNotifier{min: SeverityEmergency}
	m := newTestManager(t, Config{}, n)
	ctx := context.Background()

	alert, err := m.CreateAlert(ctx, AlertData{
		Type: event.TypeSecurityBreach, Severity: SeverityWarning, Source: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	if !m.Escalate(ctx, alert.ID, "oncall") {
		t.Fatal("Escalate failed")
	}

	waitFor(t, time.Second, func() bool { return n.count() == 1 })
	n.mu.Lock()
	notice := n.received[0]
	n.mu.Unlock()
	if notice.Severity != SeverityEmergency {
		t.Errorf("notification severity = %s, want emergency", notice.Severity)
	}
	if notice.ID != alert.ID {
		t.Errorf("notification alert id = %s, want %s", notice.ID, alert.ID)
	}

	// The stored alert keeps its original rank.
	stored, err := m.Get(ctx, alert.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Severity != SeverityWarning {
		t.Errorf("stored severity = %s, want warning", stored.Severity)
	}
}

func TestRetentionPrunesAlertsAndSuppressionKeys(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(Config{
		SuppressDuplicates: 20 * time.Millisecond,
		Retention:          30 * time.Millisecond,
		PruneInterval:      10 * time.Millisecond,
	}, store, nil)
	t.Cleanup(m.Close)
	ctx := context.Background()

	alert, err := m.CreateAlert(ctx, AlertData{
		Type: event.TypeThreatDetected, Severity: SeverityWarning, Source: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		_, err := store.Get(ctx, alert.ID)
		return errors.Is(err, ErrAlertNotFound)
	})
	waitFor(t, 2*time.Second, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.lastByKey) == 0
	})
}
