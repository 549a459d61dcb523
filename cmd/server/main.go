// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

// Package main is the entry point for the Bastion server.
//
// Bastion is a self-hosted security monitoring and automated response
// service: it sanitizes and risk-scores untrusted input, rate limits by
// caller and context, evaluates monitoring rules over a security event
// stream, manages the alert lifecycle, executes automated responses
// (IP blocks, user disables) and keeps a durable audit trail.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered defaults, YAML file and BASTION_* environment
//     variables (Koanf v2)
//  2. Storage: Badger for alert state, DuckDB for the audit trail
//  3. Event bus: Watermill in-process pub/sub carrying security events
//  4. Pipeline: rate limiter, alert manager, response executor, rule
//     engine, metrics reporter, audit recorder behind the monitor façade
//  5. WebSocket hub: real-time alert stream for operator consoles
//  6. HTTP server: REST API with JWT operator auth and Prometheus metrics
//
// All long-lived services run under a suture supervision tree; see the
// supervisor package for the layer layout.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables (BASTION_*), config file
// (BASTION_CONFIG or ./config.yaml), built-in defaults.
//
// Minimal production setup:
//
//	export BASTION_ENVIRONMENT=production
//	export BASTION_JWT_SECRET=$(openssl rand -base64 32)
//	export BASTION_AUDIT_DB_PATH=/data/bastion-audit.duckdb
//	export BASTION_ALERT_DB_PATH=/data/bastion-alerts
//	./bastion
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP server
// stops accepting connections and drains in-flight requests, the hub
// closes its clients, the audit recorder flushes, and storage closes.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bastionsec/bastion/internal/alerting"
	"github.com/bastionsec/bastion/internal/api"
	"github.com/bastionsec/bastion/internal/audit"
	"github.com/bastionsec/bastion/internal/config"
	"github.com/bastionsec/bastion/internal/event"
	"github.com/bastionsec/bastion/internal/logging"
	"github.com/bastionsec/bastion/internal/metrics"
	"github.com/bastionsec/bastion/internal/monitor"
	"github.com/bastionsec/bastion/internal/ratelimit"
	"github.com/bastionsec/bastion/internal/response"
	"github.com/bastionsec/bastion/internal/rules"
	"github.com/bastionsec/bastion/internal/sanitize"
	"github.com/bastionsec/bastion/internal/supervisor"
	"github.com/bastionsec/bastion/internal/supervisor/services"
	ws "github.com/bastionsec/bastion/internal/websocket"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("audit_path", cfg.Database.AuditPath).
		Str("alert_path", cfg.Database.AlertPath).
		Msg("Starting Bastion")

	sanitize.SetDefaults(cfg.Sanitize.MaxLength, cfg.Sanitize.EscapeHTML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage. Empty paths select in-memory stores.
	alertStore, err := openAlertStore(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open alert store")
	}
	defer func() {
		if err := alertStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing alert store")
		}
	}()

	auditStore, err := openAuditStore(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open audit store")
	}
	defer func() {
		if err := auditStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing audit store")
		}
	}()

	// Event plumbing and pipeline components.
	bus := event.NewBus()
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	emit := func(evt *event.SecurityEvent) {
		if err := bus.PublishEvent(evt); err != nil {
			logging.Error().Err(err).Msg("Failed to publish event")
		}
	}

	limiter := ratelimit.New(cfg.RateLimit, ratelimit.WithEmitter(emit))
	defer limiter.Close()

	executor := response.NewExecutor(response.WithEmitter(emit))
	defer executor.Close()

	notifiers := []alerting.Notifier{&alerting.LogNotifier{Min: alerting.SeverityInfo}}
	if cfg.Webhook.Enabled {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.Webhook))
		logging.Info().
			Str("min_severity", string(cfg.Webhook.MinSeverity)).
			Msg("Webhook notifier enabled")
	}

	alerts := alerting.NewManager(cfg.Alerting, alertStore, bus, notifiers...)
	defer alerts.Close()

	engine := buildRuleEngine(cfg, alerts, executor, limiter, bus)
	recorder := audit.NewRecorder(cfg.Audit, auditStore)
	defer recorder.Close()

	mon := monitor.New(monitor.Deps{
		Bus:      bus,
		Limiter:  limiter,
		Alerts:   alerts,
		Engine:   engine,
		Reporter: metrics.NewReporter(),
		Recorder: recorder,
	})

	// WebSocket hub for the operator alert stream.
	hub := ws.NewHub()
	if err := hub.AttachBus(ctx, bus); err != nil {
		logging.Fatal().Err(err).Msg("Failed to attach hub to event bus")
	}

	// Operator authentication. The config validator requires a secret in
	// production; in development an empty secret leaves the API open.
	var auth *api.Authenticator
	if cfg.Security.JWTSecret != "" {
		auth, err = api.NewAuthenticator(cfg.Security.JWTSecret)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize authenticator")
		}
		logging.Info().Msg("JWT operator authentication enabled")
	} else {
		logging.Warn().Msg("JWT secret not set - operator endpoints are UNAUTHENTICATED")
		logging.Warn().Msg("This is only acceptable for local development")
	}

	handler := api.NewHandler(mon, hub, cfg.Security.CORSOrigins)
	router := api.NewRouter(handler, mon, executor, api.RouterConfig{
		CORSOrigins:    cfg.Security.CORSOrigins,
		EdgeRateLimit:  cfg.Security.EdgeRateLimit,
		EdgeRateWindow: cfg.Security.EdgeRateWindow,
		Auth:           auth,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Supervision tree. sutureslog bridges supervisor events into the
	// process-wide structured logger.
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}
	tree.AddPipelineService(services.NewPipelineService(mon))
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(srv, 10*time.Second))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", srv.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Bastion stopped gracefully")
}

// openAlertStore opens the Badger-backed alert store, or an in-memory
// store when no path is configured.
func openAlertStore(cfg *config.Config) (alerting.Store, error) {
	if cfg.Database.AlertPath == "" {
		logging.Info().Msg("Alert store: in-memory (no alert_path configured)")
		return alerting.NewMemoryStore(), nil
	}
	store, err := alerting.OpenBadgerStore(cfg.Database.AlertPath)
	if err != nil {
		return nil, err
	}
	logging.Info().Str("path", cfg.Database.AlertPath).Msg("Alert store: badger")
	return store, nil
}

// openAuditStore opens the DuckDB-backed audit store, or an in-memory
// store when no path is configured.
func openAuditStore(ctx context.Context, cfg *config.Config) (audit.Store, error) {
	if cfg.Database.AuditPath == "" {
		logging.Info().Msg("Audit store: in-memory (no audit_path configured)")
		return audit.NewMemoryStore(), nil
	}
	store, err := audit.OpenDuckDBStore(ctx, cfg.Database.AuditPath)
	if err != nil {
		return nil, err
	}
	logging.Info().Str("path", cfg.Database.AuditPath).Msg("Audit store: duckdb")
	return store, nil
}

// buildRuleEngine assembles the monitoring rule engine with the configured
// rule set and collaborators for its actions.
func buildRuleEngine(cfg *config.Config, alerts *alerting.Manager, executor *response.Executor, limiter *ratelimit.Limiter, bus *event.Bus) *rules.Engine {
	deps := rules.Deps{
		Alerts:  alerts,
		Respond: executor,
		Limiter: limiter,
		Notify: func(ctx context.Context, severity alerting.Severity, title, message string) {
			evt := logging.Warn()
			if severity.Rank() >= alerting.SeverityCritical.Rank() {
				evt = logging.Error()
			}
			evt.Str("severity", string(severity)).Str("title", title).Msg(message)
		},
	}

	var ruleset []*rules.MonitoringRule
	if cfg.Rules.Defaults {
		ruleset = rules.DefaultRules()
	}

	engine := rules.NewEngine(deps, bus, ruleset...)
	for _, r := range cfg.Rules.Definitions {
		if r == nil || r.ID == "" {
			logging.Warn().Msg("Skipping configured rule without an id")
			continue
		}
		engine.AddRule(r)
	}
	for _, id := range cfg.Rules.Disabled {
		if !engine.SetEnabled(id, false) {
			logging.Warn().Str("rule_id", id).Msg("Cannot disable unknown rule")
		}
	}
	logging.Info().Int("rules", len(engine.Rules())).Msg("Rule engine initialized")
	return engine
}
