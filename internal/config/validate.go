// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingJWTSecret is returned when running in production without
	// a JWT secret configured.
	ErrMissingJWTSecret = errors.New("security.jwt_secret is required in production")

	// ErrWeakJWTSecret is returned when the configured JWT secret is too
	// short to resist brute force.
	ErrWeakJWTSecret = errors.New("security.jwt_secret must be at least 32 characters")
)

// Validate checks the configuration for internal consistency. It is run
// automatically by Load but exported so tests and callers that assemble
// a Config by hand can reuse it.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validateAlerting(); err != nil {
		return err
	}
	if err := c.validateAudit(); err != nil {
		return err
	}
	return c.validateWebhook()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}
	switch c.Server.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("server.environment must be development, staging or production, got %q", c.Server.Environment)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.IsProduction() {
		if c.Security.JWTSecret == "" {
			return ErrMissingJWTSecret
		}
		if len(c.Security.JWTSecret) < 32 {
			return ErrWeakJWTSecret
		}
	}
	if c.Security.EdgeRateLimit < 0 {
		return fmt.Errorf("security.edge_rate_limit cannot be negative, got %d", c.Security.EdgeRateLimit)
	}
	if c.Security.EdgeRateLimit > 0 && c.Security.EdgeRateWindow <= 0 {
		return fmt.Errorf("security.edge_rate_window must be positive when edge limiting is on, got %s", c.Security.EdgeRateWindow)
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if c.RateLimit.Default.Window <= 0 {
		return fmt.Errorf("rate_limit.default.window must be positive, got %s", c.RateLimit.Default.Window)
	}
	if c.RateLimit.Default.MaxRequests < 1 {
		return fmt.Errorf("rate_limit.default.max_requests must be at least 1, got %d", c.RateLimit.Default.MaxRequests)
	}
	for name, limit := range c.RateLimit.Contexts {
		if limit.Window <= 0 {
			return fmt.Errorf("rate_limit.contexts.%s.window must be positive, got %s", name, limit.Window)
		}
		if limit.MaxRequests < 1 {
			return fmt.Errorf("rate_limit.contexts.%s.max_requests must be at least 1, got %d", name, limit.MaxRequests)
		}
	}
	return nil
}

func (c *Config) validateAlerting() error {
	if c.Alerting.SuppressDuplicates < 0 {
		return fmt.Errorf("alerting.suppress_duplicates cannot be negative, got %s", c.Alerting.SuppressDuplicates)
	}
	if c.Alerting.EscalationTimeout < 0 {
		return fmt.Errorf("alerting.escalation_timeout cannot be negative, got %s", c.Alerting.EscalationTimeout)
	}
	if c.Alerting.AutoResolveTimeout < 0 {
		return fmt.Errorf("alerting.auto_resolve_timeout cannot be negative, got %s", c.Alerting.AutoResolveTimeout)
	}
	if c.Alerting.MaxAlertsPerHour < 0 {
		return fmt.Errorf("alerting.max_alerts_per_hour cannot be negative, got %d", c.Alerting.MaxAlertsPerHour)
	}
	return nil
}

func (c *Config) validateAudit() error {
	if c.Audit.Retention <= 0 {
		return fmt.Errorf("audit.retention must be positive, got %s", c.Audit.Retention)
	}
	if c.Audit.BufferSize < 1 {
		return fmt.Errorf("audit.buffer_size must be at least 1, got %d", c.Audit.BufferSize)
	}
	return nil
}

func (c *Config) validateWebhook() error {
	if !c.Webhook.Enabled {
		return nil
	}
	url := strings.TrimSpace(c.Webhook.WebhookURL)
	if url == "" {
		return errors.New("webhook.webhook_url is required when the webhook notifier is enabled")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("webhook.webhook_url must be an http(s) URL, got %q", url)
	}
	if c.IsProduction() && strings.HasPrefix(url, "http://") {
		return errors.New("webhook.webhook_url must use https in production")
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
