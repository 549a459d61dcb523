// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package monitor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bastionsec/bastion/internal/event"
)

// Suspicion thresholds. A score at or above suspiciousThreshold marks the
// request suspicious; callers typically hard-block at hardBlockThreshold.
const (
	suspiciousThreshold = 50
	hardBlockThreshold  = 80
)

// maxBodyBytes is the request body size above which a request is scored
// as a potential payload smuggling or resource exhaustion attempt.
const maxBodyBytes = 1 << 20

// RequestInfo carries the request fields the heuristics inspect. The
// transport layer fills it in; nothing here depends on net/http.
type RequestInfo struct {
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	IP        string            `json:"ip"`
	UserAgent string            `json:"user_agent,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
}

// SuspicionResult is the outcome of DetectSuspiciousActivity.
type SuspicionResult struct {
	Suspicious bool     `json:"suspicious"`
	Reasons    []string `json:"reasons,omitempty"`
	RiskScore  int      `json:"risk_score"`
}

var (
	allowedMethods = map[string]struct{}{
		"GET": {}, "POST": {}, "PUT": {}, "PATCH": {},
		"DELETE": {}, "HEAD": {}, "OPTIONS": {},
	}

	traversalPattern = regexp.MustCompile(`(?i)(?:\.\./|\.\.\\|%2e%2e%2f|%2e%2e%5c)`)
	injectionPattern = regexp.MustCompile(`(?i)(?:<\s*script\b|\bunion\s+select\b|'\s*or\s+'?\d+'?\s*=|\bjavascript\s*:|;\s*--|\beval\s*\()`)

	// Well-known probe targets that legitimate clients never request.
	probePattern = regexp.MustCompile(`(?i)(?:/\.env\b|/\.git\b|/wp-admin\b|/phpmyadmin\b|/etc/passwd\b|/cgi-bin/\b|\.php\b)`)

	scannerAgents = []string{
		"sqlmap", "nikto", "nmap", "masscan", "dirbuster",
		"gobuster", "wfuzz", "acunetix", "nessus", "zgrab",
	}
)

// DetectSuspiciousActivity scores a request against a set of additive
// heuristics. Each matching heuristic appends a reason; the total is
// capped at 100. Suspicious requests publish a suspicious-activity event.
func (m *Monitor) DetectSuspiciousActivity(req RequestInfo) SuspicionResult {
	var (
		score   int
		reasons []string
	)
	add := func(points int, reason string) {
		score += points
		reasons = append(reasons, reason)
	}

	if _, ok := allowedMethods[strings.ToUpper(req.Method)]; !ok && req.Method != "" {
		add(20, fmt.Sprintf("unusual HTTP method %q", req.Method))
	}

	if traversalPattern.MatchString(req.Path) {
		add(35, "path traversal sequence in request path")
	}
	if probePattern.MatchString(req.Path) {
		add(30, "request path probes a well-known sensitive target")
	}
	if injectionPattern.MatchString(req.Path) {
		add(40, "injection pattern in request path")
	}
	if req.Body != "" && injectionPattern.MatchString(req.Body) {
		add(40, "injection pattern in request body")
	}
	if len(req.Body) > maxBodyBytes {
		add(25, "request body exceeds size limit")
	}

	ua := strings.ToLower(req.UserAgent)
	if ua == "" {
		add(10, "missing user agent")
	} else {
		for _, scanner := range scannerAgents {
			if strings.Contains(ua, scanner) {
				add(30, fmt.Sprintf("known scanner user agent %q", scanner))
				break
			}
		}
	}

	if req.Headers != nil {
		if _, ok := headerValue(req.Headers, "Host"); !ok {
			add(15, "missing Host header")
		}
		if xff, ok := headerValue(req.Headers, "X-Forwarded-For"); ok {
			if strings.Count(xff, ",") >= 5 {
				add(15, "implausible X-Forwarded-For chain")
			}
		}
	}

	if score > 100 {
		score = 100
	}

	result := SuspicionResult{
		Suspicious: score >= suspiciousThreshold,
		Reasons:    reasons,
		RiskScore:  score,
	}

	if result.Suspicious {
		level := event.LevelMedium
		if score >= hardBlockThreshold {
			level = event.LevelHigh
		}
		evt := event.New(event.TypeSuspiciousActivity, level, req.IP,
			strings.Join(reasons, "; ")).
			WithUser(req.UserID).
			WithMeta("method", req.Method).
			WithMeta("path", req.Path).
			WithMeta("risk_score", score)
		m.publish(evt)
	}
	return result
}

// headerValue looks up a header case-insensitively.
func headerValue(headers map[string]string, name string) (string, bool) {
	if v, ok := headers[name]; ok {
		return v, true
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
