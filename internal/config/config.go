// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

// Package config loads and validates the application configuration from
// layered sources: built-in defaults, an optional YAML file, and
// environment variables, in increasing order of precedence.
package config

import (
	"time"

	"github.com/bastionsec/bastion/internal/alerting"
	"github.com/bastionsec/bastion/internal/audit"
	"github.com/bastionsec/bastion/internal/ratelimit"
	"github.com/bastionsec/bastion/internal/rules"
)

// Config is the root configuration for the service.
type Config struct {
	Server    ServerConfig           `koanf:"server"`
	Logging   LoggingConfig          `koanf:"logging"`
	Security  SecurityConfig         `koanf:"security"`
	Database  DatabaseConfig         `koanf:"database"`
	Sanitize  SanitizeConfig         `koanf:"sanitize"`
	RateLimit ratelimit.Config       `koanf:"rate_limit"`
	Alerting  alerting.Config        `koanf:"alerting"`
	Webhook   alerting.WebhookConfig `koanf:"webhook"`
	Audit     audit.Config           `koanf:"audit"`
	Rules     RulesConfig            `koanf:"rules"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// SecurityConfig holds authentication and transport security settings.
type SecurityConfig struct {
	// JWTSecret signs operator API tokens and derives the credential
	// encryption key. Required in production.
	JWTSecret string `koanf:"jwt_secret"`

	SessionTimeout time.Duration `koanf:"session_timeout"`

	// EdgeRateLimit bounds requests per client IP at the HTTP edge,
	// before domain rate limiting applies.
	EdgeRateLimit  int           `koanf:"edge_rate_limit"`
	EdgeRateWindow time.Duration `koanf:"edge_rate_window"`

	CORSOrigins    []string `koanf:"cors_origins"`
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// DatabaseConfig holds storage paths. Empty paths select in-memory
// stores, which suits tests and ephemeral deployments.
type DatabaseConfig struct {
	// AuditPath is the DuckDB database file for the audit trail.
	AuditPath string `koanf:"audit_path"`

	// AlertPath is the Badger directory for alert state.
	AlertPath string `koanf:"alert_path"`
}

// SanitizeConfig holds input sanitization settings.
type SanitizeConfig struct {
	// MaxLength truncates free-form string inputs beyond this many runes.
	MaxLength int `koanf:"max_length"`

	// EscapeHTML escapes markup instead of stripping it.
	EscapeHTML bool `koanf:"escape_html"`
}

// RulesConfig holds monitoring rule engine settings.
type RulesConfig struct {
	// Defaults enables the built-in monitoring rules.
	Defaults bool `koanf:"defaults"`

	// Disabled lists rule IDs to disable at startup.
	Disabled []string `koanf:"disabled"`

	// Definitions are operator-defined monitoring rules, registered after
	// the built-in set. A definition with a built-in id replaces that
	// rule. Definitions must set enabled explicitly.
	Definitions []*rules.MonitoringRule `koanf:"definitions"`
}

// Default returns a Config with all default values applied. Defaults are
// layered first, then overridden by the config file and environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8750,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Security: SecurityConfig{
			JWTSecret:      "",
			SessionTimeout: 24 * time.Hour,
			EdgeRateLimit:  300,
			EdgeRateWindow: time.Minute,
			CORSOrigins:    []string{"*"},
			TrustedProxies: []string{},
		},
		Database: DatabaseConfig{
			AuditPath: "/data/bastion-audit.duckdb",
			AlertPath: "/data/bastion-alerts",
		},
		Sanitize: SanitizeConfig{
			MaxLength:  10000,
			EscapeHTML: false,
		},
		RateLimit: ratelimit.DefaultConfig(),
		Alerting:  alerting.DefaultConfig(),
		Webhook: alerting.WebhookConfig{
			Enabled:     false,
			MinSeverity: alerting.SeverityWarning,
			RatePerSec:  2,
			TimeoutSecs: 10,
		},
		Audit: audit.DefaultConfig(),
		Rules: RulesConfig{
			Defaults: true,
		},
	}
}
