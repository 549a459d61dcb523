// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bastionsec/bastion/internal/event"
	"github.com/bastionsec/bastion/internal/logging"
	"github.com/bastionsec/bastion/internal/metrics"
)

// Config holds alert lifecycle settings.
type Config struct {
	// SuppressDuplicates is the window in which a second alert with the
	// same (type, source) is marked suppressed instead of notifying.
	SuppressDuplicates time.Duration `koanf:"suppress_duplicates"`

	// EscalationTimeout is how long a critical or emergency alert may stay
	// unresolved before automatic escalation.
	EscalationTimeout time.Duration `koanf:"escalation_timeout"`

	// AutoResolveTimeout is how long any alert may stay unresolved before
	// the system resolves it.
	AutoResolveTimeout time.Duration `koanf:"auto_resolve_timeout"`

	// MaxAlertsPerHour is the alert-rate early-warning threshold. Crossing
	// it emits a threshold-exceeded signal; creation is never blocked.
	MaxAlertsPerHour int `koanf:"max_alerts_per_hour"`

	// EscalationTarget is the default escalation destination.
	EscalationTarget string `koanf:"escalation_target"`

	// Retention is how long stored alerts are kept before pruning.
	Retention time.Duration `koanf:"retention"`

	// PruneInterval is how often the retention pruner runs.
	PruneInterval time.Duration `koanf:"prune_interval"`
}

// DefaultConfig returns production alert lifecycle settings.
func DefaultConfig() Config {
	return Config{
		SuppressDuplicates: 5 * time.Minute,
		EscalationTimeout:  30 * time.Minute,
		AutoResolveTimeout: 24 * time.Hour,
		MaxAlertsPerHour:   50,
		EscalationTarget:   "security-team",
		Retention:          30 * 24 * time.Hour,
		PruneInterval:      time.Hour,
	}
}

// ThresholdSignal is published on the threshold-exceeded topic when alert
// creation outpaces MaxAlertsPerHour.
type ThresholdSignal struct {
	Hour      time.Time `json:"hour"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
}

type alertTimers struct {
	escalate    *time.Timer
	autoResolve *time.Timer
}

func (t *alertTimers) stop() {
	if t.escalate != nil {
		t.escalate.Stop()
	}
	if t.autoResolve != nil {
		t.autoResolve.Stop()
	}
}

// Manager owns the alert lifecycle. All state transitions go through it so
// the terminal-state invariants hold under concurrent callers.
type Manager struct {
	cfg       Config
	store     Store
	bus       *event.Bus
	notifiers []Notifier

	stop chan struct{}
	done sync.WaitGroup

	mu        sync.Mutex
	lastByKey map[string]time.Time
	timers    map[string]*alertTimers
	hour      time.Time
	hourCount int
	hourFired bool
	closed    bool
}

// NewManager creates an alert manager. bus may be nil in tests; lifecycle
// topics are then not published.
func NewManager(cfg Config, store Store, bus *event.Bus, notifiers ...Notifier) *Manager {
	if cfg.SuppressDuplicates <= 0 {
		cfg.SuppressDuplicates = DefaultConfig().SuppressDuplicates
	}
	if cfg.EscalationTimeout <= 0 {
		cfg.EscalationTimeout = DefaultConfig().EscalationTimeout
	}
	if cfg.AutoResolveTimeout <= 0 {
		cfg.AutoResolveTimeout = DefaultConfig().AutoResolveTimeout
	}
	if cfg.MaxAlertsPerHour <= 0 {
		cfg.MaxAlertsPerHour = DefaultConfig().MaxAlertsPerHour
	}
	if cfg.EscalationTarget == "" {
		cfg.EscalationTarget = DefaultConfig().EscalationTarget
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultConfig().PruneInterval
	}
	m := &Manager{
		cfg:       cfg,
		store:     store,
		bus:       bus,
		notifiers: notifiers,
		stop:      make(chan struct{}),
		lastByKey: make(map[string]time.Time),
		timers:    make(map[string]*alertTimers),
	}
	m.done.Add(1)
	go m.pruneLoop()
	return m
}

// CreateAlert creates a new alert. A second alert with the same (type,
// source) inside the suppression window is persisted as suppressed: no
// notification, no timers, no lifecycle topic.
func (m *Manager) CreateAlert(ctx context.Context, data AlertData) (*SecurityAlert, error) {
	if data.Type == "" || data.Source == "" {
		return nil, errors.New("alert requires type and source")
	}
	if data.Severity.Rank() == 0 {
		data.Severity = SeverityInfo
	}
	if data.Title == "" {
		data.Title = strings.ReplaceAll(string(data.Type), "_", " ")
	}

	now := time.Now().UTC()
	alert := &SecurityAlert{
		ID:          uuid.NewString(),
		Timestamp:   now,
		Type:        data.Type,
		Severity:    data.Severity,
		Title:       data.Title,
		Description: data.Description,
		Source:      data.Source,
		UserID:      data.UserID,
		Metadata:    data.Metadata,
	}

	key := string(data.Type) + ":" + data.Source
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("alert manager closed")
	}
	last, dup := m.lastByKey[key]
	suppressed := dup && now.Sub(last) < m.cfg.SuppressDuplicates
	if !suppressed {
		m.lastByKey[key] = now
	}
	m.mu.Unlock()

	if suppressed {
		until := now.Add(m.cfg.SuppressDuplicates)
		alert.Suppressed = true
		alert.SuppressedUntil = &until
		alert.AppendAction("suppressed as duplicate")
		if err := m.store.Save(ctx, alert); err != nil {
			return nil, fmt.Errorf("save alert: %w", err)
		}
		metrics.AlertsTotal.WithLabelValues(string(alert.Severity), "suppressed").Inc()
		logging.Debug().Str("alert_id", alert.ID).Str("type", string(alert.Type)).
			Str("source", alert.Source).Msg("Duplicate alert suppressed")
		return alert, nil
	}

	if err := m.store.Save(ctx, alert); err != nil {
		return nil, fmt.Errorf("save alert: %w", err)
	}
	metrics.AlertsTotal.WithLabelValues(string(alert.Severity), "created").Inc()
	metrics.ActiveAlerts.Inc()

	m.publish(event.TopicAlertCreated, alert)
	m.notify(alert, false)
	m.scheduleTimers(alert)
	m.countForThreshold(now)

	logging.Info().Str("alert_id", alert.ID).Str("type", string(alert.Type)).
		Str("severity", string(alert.Severity)).Str("source", alert.Source).
		Msg("Security alert created")
	return alert, nil
}

// Resolve marks an alert resolved. Returns false if the alert does not
// exist or is already resolved; resolution is terminal.
func (m *Manager) Resolve(ctx context.Context, id, resolvedBy, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, err := m.store.Get(ctx, id)
	if err != nil || alert.Resolved {
		return false
	}

	now := time.Now().UTC()
	alert.Resolved = true
	alert.ResolvedAt = &now
	alert.ResolvedBy = resolvedBy
	alert.ResolveReason = reason
	alert.AppendAction("resolved by " + resolvedBy)
	if err := m.store.Update(ctx, alert); err != nil {
		logging.Err(err).Str("alert_id", id).Msg("Failed to persist alert resolution")
		return false
	}

	if t, ok := m.timers[id]; ok {
		t.stop()
		delete(m.timers, id)
	}

	metrics.AlertsTotal.WithLabelValues(string(alert.Severity), "resolved").Inc()
	if !alert.Suppressed {
		metrics.ActiveAlerts.Dec()
	}

	m.publish(event.TopicAlertResolved, alert)
	logging.Info().Str("alert_id", id).Str("resolved_by", resolvedBy).Msg("Alert resolved")
	return true
}

// Escalate promotes an unresolved, non-escalated alert. The escalation
// notification is sent to every channel regardless of severity floor.
func (m *Manager) Escalate(ctx context.Context, id, escalatedTo string) bool {
	m.mu.Lock()

	alert, err := m.store.Get(ctx, id)
	if err != nil || alert.Resolved || alert.Escalated {
		m.mu.Unlock()
		return false
	}

	if escalatedTo == "" {
		escalatedTo = m.cfg.EscalationTarget
	}
	now := time.Now().UTC()
	alert.Escalated = true
	alert.EscalatedAt = &now
	alert.EscalatedTo = escalatedTo
	alert.AppendAction("escalated to " + escalatedTo)
	if err := m.store.Update(ctx, alert); err != nil {
		m.mu.Unlock()
		logging.Err(err).Str("alert_id", id).Msg("Failed to persist alert escalation")
		return false
	}
	m.mu.Unlock()

	metrics.AlertsTotal.WithLabelValues(string(alert.Severity), "escalated").Inc()
	m.publish(event.TopicAlertEscalated, alert)

	// Escalations page as emergency regardless of the original rank so
	// channel routing cannot file them under a quieter severity.
	notice := *alert
	notice.Severity = SeverityEmergency
	m.notify(&notice, true)
	logging.Warn().Str("alert_id", id).Str("escalated_to", escalatedTo).Msg("Alert escalated")
	return true
}

// Get returns one alert by id.
func (m *Manager) Get(ctx context.Context, id string) (*SecurityAlert, error) {
	return m.store.Get(ctx, id)
}

// List returns alerts matching the filter, newest first.
func (m *Manager) List(ctx context.Context, f Filter) ([]*SecurityAlert, error) {
	return m.store.List(ctx, f)
}

// Close stops the pruner and cancels all pending timers. Stored alerts
// remain. Safe to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id, t := range m.timers {
		t.stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()

	close(m.stop)
	m.done.Wait()
}

func (m *Manager) pruneLoop() {
	defer m.done.Done()
	ticker := time.NewTicker(m.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.pruneOnce()
		}
	}
}

// pruneOnce removes alerts past the retention horizon and sweeps stale
// suppression keys so per-source bookkeeping cannot grow without bound.
func (m *Manager) pruneOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	now := time.Now().UTC()
	cutoff := now.Add(-m.cfg.Retention)
	removed, err := m.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		logging.Err(err).Msg("Alert retention pruning failed")
	} else if removed > 0 {
		logging.Info().Int("removed", removed).Time("cutoff", cutoff).
			Msg("Pruned expired alerts")
	}

	m.mu.Lock()
	for key, last := range m.lastByKey {
		if now.Sub(last) >= m.cfg.SuppressDuplicates {
			delete(m.lastByKey, key)
		}
	}
	m.mu.Unlock()
}

// scheduleTimers arms the escalation and auto-resolve timers for a new
// alert. Each callback re-checks current state before acting so a stale
// timer never mutates a finalized alert.
func (m *Manager) scheduleTimers(alert *SecurityAlert) {
	id := alert.ID
	timers := &alertTimers{}

	if alert.Severity.Rank() >= SeverityCritical.Rank() {
		timers.escalate = time.AfterFunc(m.cfg.EscalationTimeout, func() {
			if m.Escalate(context.Background(), id, "") {
				logging.Warn().Str("alert_id", id).Msg("Alert auto-escalated after timeout")
			}
		})
	}
	timers.autoResolve = time.AfterFunc(m.cfg.AutoResolveTimeout, func() {
		m.Resolve(context.Background(), id, "system", "auto-resolved after timeout")
	})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		timers.stop()
		return
	}
	m.timers[id] = timers
	m.mu.Unlock()
}

// countForThreshold maintains the per-hour creation bucket and publishes a
// threshold-exceeded signal on first crossing in each hour.
func (m *Manager) countForThreshold(now time.Time) {
	hour := now.Truncate(time.Hour)

	m.mu.Lock()
	if !hour.Equal(m.hour) {
		m.hour = hour
		m.hourCount = 0
		m.hourFired = false
	}
	m.hourCount++
	fire := m.hourCount > m.cfg.MaxAlertsPerHour && !m.hourFired
	if fire {
		m.hourFired = true
	}
	count := m.hourCount
	m.mu.Unlock()

	if fire {
		m.publish(event.TopicThresholdExceeded, ThresholdSignal{
			Hour:      hour,
			Count:     count,
			Threshold: m.cfg.MaxAlertsPerHour,
		})
		logging.Warn().Int("count", count).Int("threshold", m.cfg.MaxAlertsPerHour).
			Msg("Alert creation rate exceeded hourly threshold")
	}
}

// notify dispatches to notification channels. Fire-and-forget: a slow or
// failing channel never blocks the caller or other channels.
func (m *Manager) notify(alert *SecurityAlert, bypassSeverity bool) {
	for _, n := range m.notifiers {
		if !n.Enabled() {
			continue
		}
		if !bypassSeverity && alert.Severity.Rank() < n.MinSeverity().Rank() {
			continue
		}
		go func(n Notifier) {
			defer func() {
				if r := recover(); r != nil {
					logging.Error().Str("notifier", n.Name()).Interface("panic", r).
						Msg("Notifier panicked")
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := n.Send(ctx, alert); err != nil {
				logging.Err(err).Str("notifier", n.Name()).Str("alert_id", alert.ID).
					Msg("Notification delivery failed")
			}
		}(n)
	}
}

func (m *Manager) publish(topic string, v any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(topic, v); err != nil {
		logging.Err(err).Str("topic", topic).Msg("Failed to publish alert lifecycle event")
	}
}
