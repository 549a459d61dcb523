// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bastionsec/bastion/internal/event"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadgerStore("")
	if err != nil {
		t.Fatalf("OpenBadgerStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()

	alert := &SecurityAlert{
		ID:        "a1",
		Timestamp: time.Now().UTC(),
		Type:      event.TypeThreatDetected,
		Severity:  SeverityCritical,
		Title:     "test",
		Source:    "10.0.0.1",
	}
	if err := store.Save(ctx, alert); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Severity != SeverityCritical || got.Source != "10.0.0.1" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	got.Resolved = true
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	again, _ := store.Get(ctx, "a1")
	if !again.Resolved {
		t.Error("update not persisted")
	}
}

func TestBadgerStoreGetMissing(t *testing.T) {
	store := newTestBadgerStore(t)

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("err = %v, want ErrAlertNotFound", err)
	}
	if err := store.Update(context.Background(), &SecurityAlert{ID: "missing"}); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("Update err = %v, want ErrAlertNotFound", err)
	}
}

func TestBadgerStoreListAndRetention(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()

	old := &SecurityAlert{ID: "old", Timestamp: time.Now().UTC().Add(-48 * time.Hour), Type: event.TypeAuthFailure, Severity: SeverityInfo, Source: "a"}
	recent := &SecurityAlert{ID: "recent", Timestamp: time.Now().UTC(), Type: event.TypeAuthFailure, Severity: SeverityWarning, Source: "b"}
	store.Save(ctx, old)
	store.Save(ctx, recent)

	alerts, err := store.List(ctx, Filter{Severity: SeverityWarning})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(alerts) != 1 || alerts[0].ID != "recent" {
		t.Errorf("filtered list = %+v", alerts)
	}

	removed, err := store.DeleteBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := store.Get(ctx, "old"); !errors.Is(err, ErrAlertNotFound) {
		t.Error("old alert survived retention")
	}
}
