// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

// Package ratelimit implements fixed-window request counting keyed by
// lower-cased "{context}:{identifier}". Denials emit a rate_limit_exceeded
// security event into the monitoring pipeline.
package ratelimit

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/bastionsec/bastion/internal/event"
	"github.com/bastionsec/bastion/internal/logging"
)

// ContextLimit configures the window applied to one rate-limit context.
type ContextLimit struct {
	Window      time.Duration `json:"window" koanf:"window"`
	MaxRequests int           `json:"max_requests" koanf:"max_requests"`
}

// Config holds limiter settings. Contexts without an explicit limit use
// Default.
type Config struct {
	Default       ContextLimit            `koanf:"default"`
	Contexts      map[string]ContextLimit `koanf:"contexts"`
	PruneInterval time.Duration           `koanf:"prune_interval"`
}

// DefaultConfig returns limits suitable for a small deployment.
func DefaultConfig() Config {
	return Config{
		Default: ContextLimit{Window: time.Minute, MaxRequests: 100},
		Contexts: map[string]ContextLimit{
			"login":    {Window: 15 * time.Minute, MaxRequests: 5},
			"api":      {Window: time.Minute, MaxRequests: 60},
			"search":   {Window: time.Minute, MaxRequests: 30},
			"validate": {Window: time.Minute, MaxRequests: 120},
		},
		PruneInterval: time.Hour,
	}
}

// Decision reports the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool      `json:"allowed"`
	Remaining  int       `json:"remaining"`
	ResetTime  time.Time `json:"reset_time"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, set on denial
}

type record struct {
	count int
	reset time.Time
}

// Limiter counts requests in fixed windows. Safe for concurrent use; per-key
// mutation happens under one mutex so allow/deny reads are linearizable
// against concurrent writers.
type Limiter struct {
	cfg  Config
	emit func(*event.SecurityEvent)

	mu        sync.Mutex
	records   map[string]*record
	tightened map[string]time.Time

	stop chan struct{}
	done chan struct{}
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithEmitter sets the callback invoked on every denial. Typically
// bus.PublishEvent wrapped to discard the error.
func WithEmitter(emit func(*event.SecurityEvent)) Option {
	return func(l *Limiter) { l.emit = emit }
}

// New creates a Limiter and starts its background pruning loop.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.Default.Window <= 0 {
		cfg.Default = DefaultConfig().Default
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}
	l := &Limiter{
		cfg:       cfg,
		records:   make(map[string]*record),
		tightened: make(map[string]time.Time),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.pruneLoop()
	return l
}

// Check applies the configured limit for context to identifier.
func (l *Limiter) Check(identifier, context string) Decision {
	limit := l.limitFor(context)
	return l.CheckWindow(identifier, context, limit.Window, limit.MaxRequests)
}

// CheckWindow applies an explicit window and maximum. The first call in a
// window records count=1; later calls increment until the maximum is
// reached, after which the decision is denied until the window resets.
func (l *Limiter) CheckWindow(identifier, context string, window time.Duration, maxRequests int) Decision {
	key := strings.ToLower(context + ":" + identifier)
	now := time.Now()

	if until, ok := l.tightenedUntil(context); ok && now.Before(until) {
		maxRequests = maxRequests / 2
		if maxRequests < 1 {
			maxRequests = 1
		}
	}

	l.mu.Lock()
	rec, ok := l.records[key]
	if !ok || !now.Before(rec.reset) {
		rec = &record{count: 1, reset: now.Add(window)}
		l.records[key] = rec
		l.mu.Unlock()
		return Decision{Allowed: true, Remaining: maxRequests - 1, ResetTime: rec.reset}
	}

	if rec.count >= maxRequests {
		reset := rec.reset
		l.mu.Unlock()
		retry := int(math.Ceil(reset.Sub(now).Seconds()))
		if retry < 1 {
			retry = 1
		}
		l.emitDenial(identifier, context, maxRequests, retry)
		return Decision{Allowed: false, Remaining: 0, ResetTime: reset, RetryAfter: retry}
	}

	rec.count++
	remaining := maxRequests - rec.count
	reset := rec.reset
	l.mu.Unlock()
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining, ResetTime: reset}
}

// Tighten halves the effective maximum for context until now+d. Used by the
// rule engine's rate_limit action after repeated violations.
func (l *Limiter) Tighten(context string, d time.Duration) {
	until := time.Now().Add(d)
	l.mu.Lock()
	if cur, ok := l.tightened[strings.ToLower(context)]; !ok || until.After(cur) {
		l.tightened[strings.ToLower(context)] = until
	}
	l.mu.Unlock()
	logging.Warn().Str("context", context).Dur("duration", d).Msg("Rate limit tightened")
}

// Reset removes the record for one (identifier, context) pair.
func (l *Limiter) Reset(identifier, context string) {
	key := strings.ToLower(context + ":" + identifier)
	l.mu.Lock()
	delete(l.records, key)
	l.mu.Unlock()
}

// Close stops the pruning loop.
func (l *Limiter) Close() {
	close(l.stop)
	<-l.done
}

func (l *Limiter) limitFor(context string) ContextLimit {
	if limit, ok := l.cfg.Contexts[strings.ToLower(context)]; ok && limit.Window > 0 && limit.MaxRequests > 0 {
		return limit
	}
	return l.cfg.Default
}

func (l *Limiter) tightenedUntil(context string) (time.Time, bool) {
	l.mu.Lock()
	until, ok := l.tightened[strings.ToLower(context)]
	l.mu.Unlock()
	return until, ok
}

func (l *Limiter) emitDenial(identifier, context string, maxRequests, retryAfter int) {
	if l.emit == nil {
		return
	}
	evt := event.New(event.TypeRateLimitExceeded, event.LevelMedium,
		identifier, "Rate limit exceeded for context "+context).
		WithMeta("context", context).
		WithMeta("limit", maxRequests).
		WithMeta("retry_after", retryAfter)
	l.emit(evt)
}

// pruneLoop drops expired window records so long-running processes do not
// accumulate one record per identifier ever seen.
func (l *Limiter) pruneLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.prune(time.Now())
		}
	}
}

func (l *Limiter) prune(now time.Time) {
	l.mu.Lock()
	removed := 0
	for key, rec := range l.records {
		if !now.Before(rec.reset) {
			delete(l.records, key)
			removed++
		}
	}
	for ctx, until := range l.tightened {
		if !now.Before(until) {
			delete(l.tightened, ctx)
		}
	}
	l.mu.Unlock()
	if removed > 0 {
		logging.Debug().Int("removed", removed).Msg("Pruned expired rate limit records")
	}
}
