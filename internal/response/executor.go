// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

// Package response holds the authoritative allow/deny state for automated
// responses: temporary IP blocks and user disables. Enforcement at the
// request boundary belongs to the HTTP layer; this package only answers
// lookups.
package response

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/bastionsec/bastion/internal/event"
	"github.com/bastionsec/bastion/internal/logging"
	"github.com/bastionsec/bastion/internal/metrics"
)

type blockEntry struct {
	until time.Time
	timer *time.Timer
	seq   uint64
}

// Executor applies and expires automated response actions. All lookups are
// linearizable against concurrent writers on the same key.
type Executor struct {
	emit func(*event.SecurityEvent)

	mu            sync.Mutex
	blockedIPs    map[string]*blockEntry
	disabledUsers map[string]*blockEntry
	seq           uint64
	closed        bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithEmitter sets the callback invoked when a response action is taken.
func WithEmitter(emit func(*event.SecurityEvent)) Option {
	return func(e *Executor) { e.emit = emit }
}

// NewExecutor creates an empty executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		blockedIPs:    make(map[string]*blockEntry),
		disabledUsers: make(map[string]*blockEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BlockIP blocks an IP for the duration and schedules automatic unblocking.
// Re-blocking an already-blocked IP extends or shortens the block to the new
// duration; the previous expiry timer is cancelled.
func (e *Executor) BlockIP(ip string, d time.Duration) {
	key := normalizeIP(ip)
	if key == "" || d <= 0 {
		return
	}
	e.schedule(e.blockedIPs, key, d, func(k string) {
		logging.Info().Str("ip", k).Msg("IP block expired")
	})
	logging.Warn().Str("ip", key).Dur("duration", d).Msg("IP blocked")
	e.emitAction("block_ip", key, d)
	e.emitBreach(key, d)
}

// UnblockIP removes a block before its scheduled expiry.
func (e *Executor) UnblockIP(ip string) {
	e.remove(e.blockedIPs, normalizeIP(ip))
}

// IsIPBlocked reports whether ip is currently blocked.
func (e *Executor) IsIPBlocked(ip string) bool {
	return e.active(e.blockedIPs, normalizeIP(ip))
}

// DisableUser disables a user account for the duration.
func (e *Executor) DisableUser(userID string, d time.Duration) {
	key := strings.ToLower(strings.TrimSpace(userID))
	if key == "" || d <= 0 {
		return
	}
	e.schedule(e.disabledUsers, key, d, func(k string) {
		logging.Info().Str("user_id", k).Msg("User re-enabled")
	})
	logging.Warn().Str("user_id", key).Dur("duration", d).Msg("User disabled")
	e.emitAction("disable_user", key, d)
}

// EnableUser re-enables a user before the scheduled expiry.
func (e *Executor) EnableUser(userID string) {
	e.remove(e.disabledUsers, strings.ToLower(strings.TrimSpace(userID)))
}

// IsUserDisabled reports whether the user is currently disabled.
func (e *Executor) IsUserDisabled(userID string) bool {
	return e.active(e.disabledUsers, strings.ToLower(strings.TrimSpace(userID)))
}

// BlockedIPs returns the currently blocked addresses.
func (e *Executor) BlockedIPs() []string {
	return e.keys(e.blockedIPs)
}

// DisabledUsers returns the currently disabled user ids.
func (e *Executor) DisabledUsers() []string {
	return e.keys(e.disabledUsers)
}

// Close cancels all expiry timers. Entries remain blocked until process
// exit; Close is for shutdown, not for unblocking.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for _, entry := range e.blockedIPs {
		entry.timer.Stop()
	}
	for _, entry := range e.disabledUsers {
		entry.timer.Stop()
	}
}

// schedule inserts or replaces an entry and arms its expiry timer. The
// callback re-checks entry identity so a stale timer from a replaced block
// never removes the newer one.
func (e *Executor) schedule(set map[string]*blockEntry, key string, d time.Duration, onExpire func(string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	if old, ok := set[key]; ok {
		old.timer.Stop()
	}

	e.seq++
	entry := &blockEntry{until: time.Now().Add(d), seq: e.seq}
	entry.timer = time.AfterFunc(d, func() {
		e.mu.Lock()
		cur, ok := set[key]
		if ok && cur.seq == entry.seq {
			delete(set, key)
		} else {
			ok = false
		}
		e.syncGauges()
		e.mu.Unlock()
		if ok {
			onExpire(key)
		}
	})
	set[key] = entry
	e.syncGauges()
}

func (e *Executor) remove(set map[string]*blockEntry, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := set[key]; ok {
		entry.timer.Stop()
		delete(set, key)
		e.syncGauges()
	}
}

// syncGauges mirrors the current entry counts into the Prometheus gauges.
// Caller holds e.mu.
func (e *Executor) syncGauges() {
	metrics.BlockedIPs.Set(float64(len(e.blockedIPs)))
	metrics.DisabledUsers.Set(float64(len(e.disabledUsers)))
}

func (e *Executor) active(set map[string]*blockEntry, key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := set[key]
	if !ok {
		return false
	}
	// The timer normally removes expired entries; the time check covers the
	// window between expiry and timer execution.
	return time.Now().Before(entry.until)
}

func (e *Executor) keys(set map[string]*blockEntry) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(set))
	now := time.Now()
	for k, entry := range set {
		if now.Before(entry.until) {
			out = append(out, k)
		}
	}
	return out
}

func (e *Executor) emitAction(action, target string, d time.Duration) {
	if e.emit == nil {
		return
	}
	evt := event.New(event.TypeAutomatedResponse, event.LevelHigh,
		target, "Automated response action executed").
		WithMeta("action", action).
		WithMeta("duration_ms", d.Milliseconds())
	e.emit(evt)
}

// emitBreach publishes a security-breach event for a block. Blocking a
// source is the confirmed-intrusion signal downstream breach subscribers
// key on.
func (e *Executor) emitBreach(ip string, d time.Duration) {
	if e.emit == nil {
		return
	}
	evt := event.New(event.TypeSecurityBreach, event.LevelCritical,
		ip, "Source blocked after detected intrusion").
		WithMeta("action", "block_ip").
		WithMeta("duration_ms", d.Milliseconds())
	e.emit(evt)
}

// normalizeIP canonicalizes textual IPs so "::1" and "0:0:0:0:0:0:0:1"
// share one entry. Unparseable input is treated as an opaque identifier.
func normalizeIP(ip string) string {
	s := strings.TrimSpace(ip)
	if parsed := net.ParseIP(s); parsed != nil {
		return parsed.String()
	}
	return strings.ToLower(s)
}
