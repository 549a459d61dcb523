// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/bastion/config.yaml",
	"/etc/bastion/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "BASTION_CONFIG"

// envPrefix namespaces the environment variables this service reads.
const envPrefix = "BASTION_"

// Load builds the configuration from layered sources:
//  1. Defaults from Default()
//  2. Optional YAML config file
//  3. BASTION_* environment variables (highest priority)
//
// Encrypted credential values are resolved and the result is validated
// before being returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.ResolveCredentials(); err != nil {
		return nil, fmt.Errorf("failed to resolve credentials: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices
// when supplied through environment variables.
var sliceConfigPaths = []string{
	"security.cors_origins",
	"security.trusted_proxies",
	"rules.disabled",
}

// processSliceFields converts comma-separated string values into slices
// for known slice fields. YAML-sourced values are already slices and are
// left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps BASTION_* environment variable names to koanf
// config paths. Unmapped variables are dropped so unrelated environment
// entries cannot pollute the configuration.
//
// Examples:
//   - BASTION_HTTP_PORT -> server.port
//   - BASTION_JWT_SECRET -> security.jwt_secret
//   - BASTION_AUDIT_RETENTION -> audit.retention
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	envMappings := map[string]string{
		// Server
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Security
		"jwt_secret":       "security.jwt_secret",
		"session_timeout":  "security.session_timeout",
		"edge_rate_limit":  "security.edge_rate_limit",
		"edge_rate_window": "security.edge_rate_window",
		"cors_origins":     "security.cors_origins",
		"trusted_proxies":  "security.trusted_proxies",

		// Storage
		"audit_db_path": "database.audit_path",
		"alert_db_path": "database.alert_path",

		// Sanitization
		"sanitize_max_length":  "sanitize.max_length",
		"sanitize_escape_html": "sanitize.escape_html",

		// Rate limiting
		"rate_limit_window":   "rate_limit.default.window",
		"rate_limit_requests": "rate_limit.default.max_requests",
		"rate_limit_prune":    "rate_limit.prune_interval",

		// Alerting
		"alert_suppress_window":    "alerting.suppress_duplicates",
		"alert_escalation_timeout": "alerting.escalation_timeout",
		"alert_auto_resolve":       "alerting.auto_resolve_timeout",
		"alert_hourly_threshold":   "alerting.max_alerts_per_hour",
		"alert_escalation_target":  "alerting.escalation_target",

		// Webhook notifier
		"webhook_enabled":      "webhook.enabled",
		"webhook_url":          "webhook.webhook_url",
		"webhook_min_severity": "webhook.min_severity",
		"webhook_rate":         "webhook.rate_per_sec",
		"webhook_timeout":      "webhook.timeout_secs",

		// Audit trail
		"audit_retention":      "audit.retention",
		"audit_prune_interval": "audit.prune_interval",
		"audit_buffer_size":    "audit.buffer_size",

		// Rules
		"rules_defaults": "rules.defaults",
		"rules_disabled": "rules.disabled",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
