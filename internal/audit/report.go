// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bastionsec/bastion/internal/event"
)

// ReportPeriod bounds a report.
type ReportPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ReportSummary aggregates the events of a report.
type ReportSummary struct {
	TotalEvents    int              `json:"total_events"`
	EventsByType   map[string]int64 `json:"events_by_type"`
	EventsByLevel  map[string]int64 `json:"events_by_level"`
	CriticalEvents int              `json:"critical_events"`
	UniqueSources  int              `json:"unique_sources"`
	ResolvedEvents int              `json:"resolved_events"`
}

// Report is an exported security audit document.
type Report struct {
	ReportID        string                `json:"report_id"`
	GeneratedAt     time.Time             `json:"generated_at"`
	Period          ReportPeriod          `json:"period"`
	Summary         ReportSummary         `json:"summary"`
	Events          []event.SecurityEvent `json:"events"`
	Recommendations []string              `json:"recommendations"`
}

// ExportReport builds an audit report over [start, end]. Zero bounds default
// to the trailing 24 hours.
func (r *Recorder) ExportReport(ctx context.Context, start, end time.Time) (*Report, error) {
	now := time.Now().UTC()
	if end.IsZero() {
		end = now
	}
	if start.IsZero() {
		start = end.Add(-24 * time.Hour)
	}

	filter := QueryFilter{Start: start, End: end}
	events, err := r.store.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query events for report: %w", err)
	}
	byType, err := r.store.CountByType(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count events by type: %w", err)
	}
	byLevel, err := r.store.CountByLevel(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count events by level: %w", err)
	}

	summary := ReportSummary{
		TotalEvents:   len(events),
		EventsByType:  byType,
		EventsByLevel: byLevel,
	}
	sources := make(map[string]struct{})
	for i := range events {
		if events[i].Level == event.LevelCritical {
			summary.CriticalEvents++
		}
		if events[i].Resolved {
			summary.ResolvedEvents++
		}
		sources[events[i].Source] = struct{}{}
	}
	summary.UniqueSources = len(sources)

	return &Report{
		ReportID:        uuid.NewString(),
		GeneratedAt:     now,
		Period:          ReportPeriod{Start: start, End: end},
		Summary:         summary,
		Events:          events,
		Recommendations: recommendations(summary, byType),
	}, nil
}

// recommendations derives remediation suggestions from the summary. Always
// non-empty when critical events are present in range.
func recommendations(summary ReportSummary, byType map[string]int64) []string {
	var out []string

	if summary.CriticalEvents > 0 {
		out = append(out, fmt.Sprintf(
			"Review the %d critical events in this period and confirm each was resolved or escalated.",
			summary.CriticalEvents))
	}
	if byType[string(event.TypeAuthFailure)] >= 10 {
		out = append(out, "High volume of authentication failures: consider stricter login rate limits or mandatory MFA.")
	}
	if byType[string(event.TypeRateLimitExceeded)] >= 10 {
		out = append(out, "Frequent rate limit violations: review per-context limits and identify abusive clients.")
	}
	if byType[string(event.TypeThreatDetected)] > 0 || byType[string(event.TypeSecurityBreach)] > 0 {
		out = append(out, "Threats were detected in this period: verify blocklists and rule coverage are current.")
	}
	if summary.TotalEvents > 0 && summary.ResolvedEvents*2 < summary.TotalEvents {
		out = append(out, "Less than half of recorded events are marked resolved: triage the backlog.")
	}
	return out
}
