// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package alerting

import (
	"context"
	"time"
)

// Stats aggregates alert counts over the trailing window. A zero window
// covers all stored alerts.
func (m *Manager) Stats(ctx context.Context, window time.Duration) (*AlertStats, error) {
	now := time.Now().UTC()
	f := Filter{Until: now}
	if window > 0 {
		f.Since = now.Add(-window)
	}

	alerts, err := m.store.List(ctx, f)
	if err != nil {
		return nil, err
	}

	stats := &AlertStats{
		ByType:      make(map[string]int),
		BySeverity:  make(map[string]int),
		WindowStart: f.Since,
		WindowEnd:   now,
	}

	var resolutionTotal time.Duration
	resolvedWithLatency := 0
	for _, a := range alerts {
		stats.Total++
		stats.ByType[string(a.Type)]++
		stats.BySeverity[string(a.Severity)]++
		if a.Resolved {
			stats.Resolved++
			if a.ResolvedAt != nil {
				resolutionTotal += a.ResolvedAt.Sub(a.Timestamp)
				resolvedWithLatency++
			}
		}
		if a.Escalated {
			stats.Escalated++
		}
		if a.Suppressed {
			stats.Suppressed++
		}
	}

	if stats.Total > 0 {
		stats.ResolutionRate = float64(stats.Resolved) / float64(stats.Total)
		stats.EscalationRate = float64(stats.Escalated) / float64(stats.Total)
		stats.SuppressionRate = float64(stats.Suppressed) / float64(stats.Total)
	}
	if resolvedWithLatency > 0 {
		stats.MeanResolutionMs = float64(resolutionTotal.Milliseconds()) / float64(resolvedWithLatency)
	}
	return stats, nil
}
