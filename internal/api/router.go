// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bastionsec/bastion/internal/middleware"
	"github.com/bastionsec/bastion/internal/monitor"
	"github.com/bastionsec/bastion/internal/response"
)

// RouterConfig carries everything the router needs beyond the handler.
type RouterConfig struct {
	CORSOrigins []string

	// EdgeRateLimit / EdgeRateWindow bound requests per client IP before
	// any handler runs. Zero disables edge limiting.
	EdgeRateLimit  int
	EdgeRateWindow time.Duration

	// Auth guards operator endpoints. Nil leaves them open, which is
	// only acceptable in development.
	Auth *Authenticator
}

// Router assembles the middleware chain and routes.
type Router struct {
	handler  *Handler
	mon      *monitor.Monitor
	executor *response.Executor
	cfg      RouterConfig
}

// NewRouter creates the router. executor may be nil to skip blocked-IP
// enforcement.
func NewRouter(handler *Handler, mon *monitor.Monitor, executor *response.Executor, cfg RouterConfig) *Router {
	return &Router{handler: handler, mon: mon, executor: executor, cfg: cfg}
}

// Setup builds the http.Handler.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   router.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if router.cfg.EdgeRateLimit > 0 {
		r.Use(httprate.Limit(
			router.cfg.EdgeRateLimit,
			router.cfg.EdgeRateWindow,
			httprate.WithKeyFuncs(httprate.KeyByRealIP),
		))
	}

	// Operational endpoints stay outside the guard so probes and scrapes
	// never consume domain rate budget.
	r.Get("/healthz", router.handler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Guard(router.mon, router.executor))
		r.Use(middleware.PrometheusMetrics)

		// Validation is open to callers fronting untrusted input.
		r.Post("/validate", router.handler.Validate)

		// Operator endpoints require a bearer token.
		r.Group(func(r chi.Router) {
			if router.cfg.Auth != nil {
				r.Use(router.cfg.Auth.Middleware)
			}

			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", router.handler.ListAlerts)
				r.Post("/", router.handler.CreateAlert)
				r.Get("/stats", router.handler.AlertStats)
				r.Get("/{id}", router.handler.GetAlert)
				r.Post("/{id}/resolve", router.handler.ResolveAlert)
				r.Post("/{id}/escalate", router.handler.EscalateAlert)
			})

			r.Get("/metrics/security", router.handler.SecurityMetrics)
			r.Get("/audit/report", router.handler.AuditReport)
		})
	})

	// The alert stream authenticates via token query parameter or header;
	// browsers cannot set headers on websocket dials, so the guard and
	// edge limiter still apply.
	r.Get("/ws", router.websocketWithAuth())

	return r
}

// websocketWithAuth wraps the websocket handler with token verification
// accepting either the Authorization header or a token query parameter.
func (router *Router) websocketWithAuth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if router.cfg.Auth != nil {
			token := r.URL.Query().Get("token")
			if token == "" {
				header := r.Header.Get("Authorization")
				token = strings.TrimPrefix(header, "Bearer ")
			}
			if _, err := router.cfg.Auth.Verify(token); err != nil {
				NewResponseWriter(w, r).Error(http.StatusUnauthorized, ErrCodeUnauthorized, "invalid token")
				return
			}
		}
		router.handler.WebSocket(w, r)
	}
}
