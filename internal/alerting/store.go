// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package alerting

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bastionsec/bastion/internal/event"
)

// ErrAlertNotFound is returned when an alert id has no stored record.
var ErrAlertNotFound = errors.New("alert not found")

// Filter narrows alert listings. Zero values match everything.
type Filter struct {
	Type     event.Type
	Severity Severity
	Resolved *bool
	Since    time.Time
	Until    time.Time
	Limit    int
}

func (f Filter) matches(a *SecurityAlert) bool {
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Resolved != nil && a.Resolved != *f.Resolved {
		return false
	}
	if !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && a.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Store persists alerts. Implementations must be safe for concurrent use.
type Store interface {
	Save(ctx context.Context, alert *SecurityAlert) error
	Get(ctx context.Context, id string) (*SecurityAlert, error)
	Update(ctx context.Context, alert *SecurityAlert) error
	List(ctx context.Context, f Filter) ([]*SecurityAlert, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// MemoryStore keeps alerts in process memory. Suitable for tests and
// single-node deployments without durability requirements.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[string]*SecurityAlert
}

// NewMemoryStore creates an empty in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]*SecurityAlert)}
}

func (s *MemoryStore) Save(ctx context.Context, alert *SecurityAlert) error {
	cp := *alert
	s.mu.Lock()
	s.alerts[alert.ID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*SecurityAlert, error) {
	s.mu.RLock()
	a, ok := s.alerts[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrAlertNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, alert *SecurityAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[alert.ID]; !ok {
		return ErrAlertNotFound
	}
	cp := *alert
	s.alerts[alert.ID] = &cp
	return nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]*SecurityAlert, error) {
	s.mu.RLock()
	out := make([]*SecurityAlert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if f.matches(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, a := range s.alerts {
		if a.Timestamp.Before(cutoff) {
			delete(s.alerts, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }
