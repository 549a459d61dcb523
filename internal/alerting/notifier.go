// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package alerting

import (
	"context"

	"github.com/bastionsec/bastion/internal/logging"
)

// Notifier delivers alerts to one external channel. Delivery is best-effort:
// failures are logged and never roll back alert state.
type Notifier interface {
	Name() string
	Enabled() bool
	// MinSeverity is the lowest severity this channel accepts. Escalation
	// notifications bypass this filter.
	MinSeverity() Severity
	Send(ctx context.Context, alert *SecurityAlert) error
}

// LogNotifier writes alerts to the structured log. Always enabled; acts as
// the channel of last resort.
type LogNotifier struct {
	Min Severity
}

func (n *LogNotifier) Name() string          { return "log" }
func (n *LogNotifier) Enabled() bool         { return true }
func (n *LogNotifier) MinSeverity() Severity { return n.Min }

func (n *LogNotifier) Send(ctx context.Context, alert *SecurityAlert) error {
	evt := logging.Warn()
	if alert.Severity.Rank() >= SeverityCritical.Rank() {
		evt = logging.Error()
	}
	evt.Str("alert_id", alert.ID).
		Str("type", string(alert.Type)).
		Str("severity", string(alert.Severity)).
		Str("source", alert.Source).
		Str("title", alert.Title).
		Msg("Security alert")
	return nil
}
