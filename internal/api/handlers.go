// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/bastionsec/bastion/internal/alerting"
	"github.com/bastionsec/bastion/internal/event"
	"github.com/bastionsec/bastion/internal/logging"
	"github.com/bastionsec/bastion/internal/monitor"
	ws "github.com/bastionsec/bastion/internal/websocket"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// Handler serves the API endpoints over the monitor façade.
type Handler struct {
	mon      *monitor.Monitor
	hub      *ws.Hub
	upgrader websocket.Upgrader
}

// NewHandler creates the handler set. hub may be nil to disable /ws.
func NewHandler(mon *monitor.Monitor, hub *ws.Hub, corsOrigins []string) *Handler {
	allowAll := len(corsOrigins) == 1 && corsOrigins[0] == "*"
	return &Handler{
		mon: mon,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range corsOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
}

// validateRequest is the body of POST /api/v1/validate.
type validateRequest struct {
	Value   any    `json:"value"`
	Context string `json:"context"`
}

// Validate sanitizes and risk-scores a value under the named context.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if req.Context == "" {
		req.Context = "display"
	}

	result := h.mon.ValidateAndSanitizeInput(r.Context(), req.Value, req.Context, SubjectFromContext(r.Context()))
	rw.Success(result)
}

// CreateAlert raises an alert.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var data alerting.AlertData
	if err := decodeJSON(r, &data); err != nil {
		rw.BadRequest(err.Error())
		return
	}

	alert, err := h.mon.CreateAlert(r.Context(), data)
	if err != nil {
		rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeValidationFailed, "invalid alert data", err.Error())
		return
	}
	rw.Created(alert)
}

// ListAlerts returns alerts, newest first, filtered by query parameters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	f := alerting.Filter{
		Type:     event.Type(r.URL.Query().Get("type")),
		Severity: alerting.Severity(r.URL.Query().Get("severity")),
	}
	if v := r.URL.Query().Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			rw.BadRequest("resolved must be true or false")
			return
		}
		f.Resolved = &resolved
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			rw.BadRequest("limit must be a non-negative integer")
			return
		}
		f.Limit = limit
	}

	alerts, err := h.mon.ListAlerts(r.Context(), f)
	if err != nil {
		rw.InternalError(err)
		return
	}
	rw.SuccessWithMeta(alerts, &APIMeta{Count: len(alerts)})
}

// GetAlert returns one alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	alert, err := h.mon.GetAlert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, alerting.ErrAlertNotFound) {
			rw.NotFound("alert not found")
			return
		}
		rw.InternalError(err)
		return
	}
	rw.Success(alert)
}

// resolveRequest is the body of POST /api/v1/alerts/{id}/resolve.
type resolveRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ResolveAlert resolves an alert; the resolver is the authenticated
// operator.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		rw.BadRequest(err.Error())
		return
	}

	resolvedBy := SubjectFromContext(r.Context())
	if resolvedBy == "" {
		resolvedBy = "operator"
	}

	if !h.mon.ResolveAlert(r.Context(), chi.URLParam(r, "id"), resolvedBy, req.Reason) {
		rw.NotFound("alert not found or already resolved")
		return
	}
	rw.Success(map[string]bool{"resolved": true})
}

// escalateRequest is the body of POST /api/v1/alerts/{id}/escalate.
type escalateRequest struct {
	Target string `json:"target,omitempty"`
}

// EscalateAlert escalates an alert to the given target, or the configured
// default.
func (h *Handler) EscalateAlert(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req escalateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		rw.BadRequest(err.Error())
		return
	}

	if !h.mon.EscalateAlert(r.Context(), chi.URLParam(r, "id"), req.Target) {
		rw.NotFound("alert not found, resolved, or already escalated")
		return
	}
	rw.Success(map[string]bool{"escalated": true})
}

// AlertStats aggregates alert statistics over a trailing window
// (?window=24h, default 24h).
func (h *Handler) AlertStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			rw.BadRequest("window must be a positive duration")
			return
		}
		window = d
	}

	stats, err := h.mon.GetAlertStats(r.Context(), window)
	if err != nil {
		rw.InternalError(err)
		return
	}
	rw.Success(stats)
}

// SecurityMetrics returns aggregate event counters and system health.
func (h *Handler) SecurityMetrics(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.mon.GetSecurityMetrics())
}

// AuditReport exports the audit report over [start, end] (RFC 3339;
// defaults to the trailing 24 hours).
func (h *Handler) AuditReport(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var start, end time.Time
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			rw.BadRequest("start must be RFC 3339")
			return
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			rw.BadRequest("end must be RFC 3339")
			return
		}
		end = t
	}

	report, err := h.mon.ExportSecurityAuditReport(r.Context(), start, end)
	if err != nil {
		rw.InternalError(err)
		return
	}
	rw.Success(report)
}

// Health is the liveness endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}

// WebSocket upgrades the connection and registers the client with the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		NewResponseWriter(w, r).Error(http.StatusServiceUnavailable, ErrCodeInternalError, "websocket unavailable")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}

// errEmptyBody marks an absent request body, which optional-body
// endpoints tolerate.
var errEmptyBody = errors.New("empty request body")

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errEmptyBody
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return errors.New("invalid JSON body")
	}
	return nil
}
