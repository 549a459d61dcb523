// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/bastionsec/bastion/internal/event"
)

// SystemHealth summarizes the recent event mix.
type SystemHealth string

const (
	HealthHealthy  SystemHealth = "healthy"
	HealthDegraded SystemHealth = "degraded"
	HealthCritical SystemHealth = "critical"
)

// SecurityMetrics is the aggregate snapshot served to dashboards.
type SecurityMetrics struct {
	TotalEvents   int64            `json:"total_events"`
	EventsByType  map[string]int64 `json:"events_by_type"`
	EventsByLevel map[string]int64 `json:"events_by_level"`
	SystemHealth  SystemHealth     `json:"system_health"`
	CollectedAt   time.Time        `json:"collected_at"`
}

// healthWindow is how far back the health assessment looks.
const healthWindow = 15 * time.Minute

// Reporter aggregates event counts for getSecurityMetrics and mirrors them
// into the Prometheus collectors.
type Reporter struct {
	mu      sync.Mutex
	total   int64
	byType  map[string]int64
	byLevel map[string]int64
	recent  []recentEntry
}

type recentEntry struct {
	at    time.Time
	level event.Level
}

// NewReporter creates an empty reporter.
func NewReporter() *Reporter {
	return &Reporter{
		byType:  make(map[string]int64),
		byLevel: make(map[string]int64),
	}
}

// Observe records one security event.
func (r *Reporter) Observe(evt *event.SecurityEvent) {
	if evt == nil {
		return
	}
	EventsTotal.WithLabelValues(string(evt.Type), string(evt.Level)).Inc()

	now := time.Now()
	r.mu.Lock()
	r.total++
	r.byType[string(evt.Type)]++
	r.byLevel[string(evt.Level)]++
	r.recent = append(r.recent, recentEntry{at: now, level: evt.Level})
	r.pruneRecentLocked(now)
	r.mu.Unlock()
}

// AttachBus subscribes the reporter to the event firehose.
func (r *Reporter) AttachBus(ctx context.Context, bus *event.Bus) error {
	return bus.SubscribeEvents(ctx, event.TopicEvents, r.Observe)
}

// Snapshot returns the current aggregate metrics.
func (r *Reporter) Snapshot() SecurityMetrics {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneRecentLocked(now)

	byType := make(map[string]int64, len(r.byType))
	for k, v := range r.byType {
		byType[k] = v
	}
	byLevel := make(map[string]int64, len(r.byLevel))
	for k, v := range r.byLevel {
		byLevel[k] = v
	}

	return SecurityMetrics{
		TotalEvents:   r.total,
		EventsByType:  byType,
		EventsByLevel: byLevel,
		SystemHealth:  r.healthLocked(),
		CollectedAt:   now.UTC(),
	}
}

// healthLocked grades the last healthWindow of events: any critical event
// is critical, five or more high-level events degrade, otherwise healthy.
func (r *Reporter) healthLocked() SystemHealth {
	high := 0
	for _, entry := range r.recent {
		switch entry.level {
		case event.LevelCritical:
			return HealthCritical
		case event.LevelHigh:
			high++
		}
	}
	if high >= 5 {
		return HealthDegraded
	}
	return HealthHealthy
}

func (r *Reporter) pruneRecentLocked(now time.Time) {
	cutoff := now.Add(-healthWindow)
	kept := r.recent[:0]
	for _, entry := range r.recent {
		if entry.at.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	r.recent = kept
}
