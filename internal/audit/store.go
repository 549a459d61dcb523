// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

// Package audit retains security events for compliance reporting. Events
// flow in asynchronously from the event bus, are pruned past a retention
// horizon, and can be exported as an audit report over a time range.
package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bastionsec/bastion/internal/event"
)

// QueryFilter narrows audit queries. Zero values match everything.
type QueryFilter struct {
	Types  []event.Type
	Levels []event.Level
	Source string
	UserID string
	Start  time.Time
	End    time.Time
	Limit  int
	Offset int
}

func (f QueryFilter) matches(e *event.SecurityEvent) bool {
	if len(f.Types) > 0 && !containsValue(f.Types, e.Type) {
		return false
	}
	if len(f.Levels) > 0 && !containsValue(f.Levels, e.Level) {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	return true
}

func containsValue[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// Store persists security events for audit. Implementations must be safe
// for concurrent use.
type Store interface {
	Save(ctx context.Context, evt *event.SecurityEvent) error
	Query(ctx context.Context, filter QueryFilter) ([]event.SecurityEvent, error)
	CountByType(ctx context.Context, filter QueryFilter) (map[string]int64, error)
	CountByLevel(ctx context.Context, filter QueryFilter) (map[string]int64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// MemoryStore keeps audit events in memory, for tests and ephemeral
// deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	events []event.SecurityEvent
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(ctx context.Context, evt *event.SecurityEvent) error {
	s.mu.Lock()
	s.events = append(s.events, *evt)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, filter QueryFilter) ([]event.SecurityEvent, error) {
	s.mu.RLock()
	var out []event.SecurityEvent
	for i := range s.events {
		if filter.matches(&s.events[i]) {
			out = append(out, s.events[i])
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CountByType(ctx context.Context, filter QueryFilter) (map[string]int64, error) {
	return s.countBy(filter, func(e *event.SecurityEvent) string { return string(e.Type) })
}

func (s *MemoryStore) CountByLevel(ctx context.Context, filter QueryFilter) (map[string]int64, error) {
	return s.countBy(filter, func(e *event.SecurityEvent) string { return string(e.Level) })
}

func (s *MemoryStore) countBy(filter QueryFilter, key func(*event.SecurityEvent) string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64)
	for i := range s.events {
		if filter.matches(&s.events[i]) {
			out[key(&s.events[i])]++
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var removed int64
	for i := range s.events {
		if s.events[i].Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, s.events[i])
	}
	s.events = kept
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }
