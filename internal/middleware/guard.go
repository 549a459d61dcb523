// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package middleware

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/bastionsec/bastion/internal/logging"
	"github.com/bastionsec/bastion/internal/monitor"
	"github.com/bastionsec/bastion/internal/response"
)

// bodySampleLimit bounds how much of a request body the guard inspects.
// Larger bodies are still passed through to the handler untouched.
const bodySampleLimit = 1 << 20

// Guard fronts every request with the detection pipeline: blocked-IP
// lookup, per-context rate limiting and the suspicious-activity
// heuristics. Requests scoring at or above the hard-block threshold are
// rejected outright.
func Guard(mon *monitor.Monitor, executor *response.Executor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)

			if executor != nil && executor.IsIPBlocked(ip) {
				logging.Warn().Str("ip", ip).Str("path", r.URL.Path).Msg("blocked IP rejected")
				writeJSONError(w, http.StatusForbidden, "access denied")
				return
			}

			decision := mon.CheckRateLimit(ip, rateContextFor(r.URL.Path), "")
			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			req := requestInfo(r)
			res := mon.DetectSuspiciousActivity(req)
			if res.RiskScore >= 80 {
				logging.Warn().
					Str("ip", ip).
					Str("path", r.URL.Path).
					Int("risk_score", res.RiskScore).
					Strs("reasons", res.Reasons).
					Msg("request hard-blocked")
				writeJSONError(w, http.StatusForbidden, "request rejected")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestInfo projects an http.Request into the façade's transport-neutral
// shape, sampling the body without consuming it.
func requestInfo(r *http.Request) monitor.RequestInfo {
	headers := make(map[string]string, len(r.Header)+1)
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}
	if r.Host != "" {
		headers["Host"] = r.Host
	}

	var body string
	if r.Body != nil && r.Body != http.NoBody {
		sample, err := io.ReadAll(io.LimitReader(r.Body, bodySampleLimit+1))
		if err == nil {
			body = string(sample)
			r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(sample), r.Body))
		}
	}

	return monitor.RequestInfo{
		Method:    r.Method,
		Path:      r.URL.Path,
		Headers:   headers,
		Body:      body,
		IP:        ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// rateContextFor maps a request path to a rate-limit context.
func rateContextFor(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/auth"), strings.Contains(path, "/login"):
		return "login"
	case strings.HasPrefix(path, "/api/v1/validate"):
		return "validate"
	case strings.HasPrefix(path, "/api/v1/search"):
		return "search"
	default:
		return "api"
	}
}

// ClientIP extracts the originating client address: X-Real-IP, then the
// first X-Forwarded-For hop, then the socket peer.
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, found := strings.Cut(xff, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
