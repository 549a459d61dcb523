// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package response

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bastionsec/bastion/internal/event"
	"github.com/bastionsec/bastion/internal/metrics"
)

func newTestExecutor(t *testing.T, opts ...Option) *Executor {
	t.Helper()
	e := NewExecutor(opts...)
	t.Cleanup(e.Close)
	return e
}

func TestBlockAndUnblockIP(t *testing.T) {
	e := newTestExecutor(t)

	if e.IsIPBlocked("10.0.0.1") {
		t.Fatal("fresh executor reports blocked IP")
	}

	e.BlockIP("10.0.0.1", time.Minute)
	if !e.IsIPBlocked("10.0.0.1") {
		t.Error("blocked IP not reported")
	}
	if e.IsIPBlocked("10.0.0.2") {
		t.Error("unrelated IP reported blocked")
	}

	e.UnblockIP("10.0.0.1")
	if e.IsIPBlocked("10.0.0.1") {
		t.Error("IP still blocked after UnblockIP")
	}
}

func TestBlockExpiresAutomatically(t *testing.T) {
	e := newTestExecutor(t)

	e.BlockIP("10.0.0.1", 30*time.Millisecond)
	if !e.IsIPBlocked("10.0.0.1") {
		t.Fatal("IP not blocked")
	}

	deadline := time.Now().Add(time.Second)
	for e.IsIPBlocked("10.0.0.1") {
		if time.Now().After(deadline) {
			t.Fatal("block never expired")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReblockReplacesExpiry(t *testing.T) {
	e := newTestExecutor(t)

	// Short block immediately replaced by a long one: the short block's
	// timer must not unblock the long block.
	e.BlockIP("10.0.0.1", 20*time.Millisecond)
	e.BlockIP("10.0.0.1", time.Minute)

	time.Sleep(50 * time.Millisecond)
	if !e.IsIPBlocked("10.0.0.1") {
		t.Error("stale expiry timer removed the replaced block")
	}
}

func TestIPNormalization(t *testing.T) {
	e := newTestExecutor(t)

	e.BlockIP("::1", time.Minute)
	if !e.IsIPBlocked("0:0:0:0:0:0:0:1") {
		t.Error("IPv6 textual variants treated as different IPs")
	}
}

func TestDisableUser(t *testing.T) {
	e := newTestExecutor(t)

	e.DisableUser("Alice", time.Minute)
	if !e.IsUserDisabled("alice") {
		t.Error("user lookup is case-sensitive")
	}

	e.EnableUser("ALICE")
	if e.IsUserDisabled("alice") {
		t.Error("user still disabled after EnableUser")
	}
}

func TestEmitsAutomatedResponseEvent(t *testing.T) {
	var mu sync.Mutex
	var events []*event.SecurityEvent
	e := newTestExecutor(t, WithEmitter(func(evt *event.SecurityEvent) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	}))

	e.BlockIP("10.0.0.1", time.Minute)
	e.DisableUser("mallory", time.Minute)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Type != event.TypeAutomatedResponse {
		t.Errorf("type = %s", events[0].Type)
	}
	if events[0].Metadata["action"] != "block_ip" {
		t.Errorf("action = %v", events[0].Metadata["action"])
	}
	if events[2].Metadata["action"] != "disable_user" {
		t.Errorf("action = %v", events[2].Metadata["action"])
	}
}

func TestBlockIPEmitsSecurityBreach(t *testing.T) {
	var mu sync.Mutex
	var events []*event.SecurityEvent
	e := newTestExecutor(t, WithEmitter(func(evt *event.SecurityEvent) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	}))

	e.BlockIP("10.0.0.1", time.Minute)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	breach := events[1]
	if breach.Type != event.TypeSecurityBreach {
		t.Errorf("type = %s, want %s", breach.Type, event.TypeSecurityBreach)
	}
	if breach.Level != event.LevelCritical {
		t.Errorf("level = %s", breach.Level)
	}
	if breach.Source != "10.0.0.1" {
		t.Errorf("source = %s", breach.Source)
	}
}

func TestGaugesTrackActiveEntries(t *testing.T) {
	e := newTestExecutor(t)

	e.BlockIP("10.0.0.1", time.Minute)
	e.BlockIP("10.0.0.2", time.Minute)
	e.DisableUser("mallory", time.Minute)

	if got := testutil.ToFloat64(metrics.BlockedIPs); got != 2 {
		t.Errorf("blocked ip gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.DisabledUsers); got != 1 {
		t.Errorf("disabled user gauge = %v, want 1", got)
	}

	e.UnblockIP("10.0.0.1")
	e.EnableUser("mallory")

	if got := testutil.ToFloat64(metrics.BlockedIPs); got != 1 {
		t.Errorf("blocked ip gauge after unblock = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.DisabledUsers); got != 0 {
		t.Errorf("disabled user gauge after enable = %v, want 0", got)
	}
}

func TestConcurrentBlockLookups(t *testing.T) {
	e := newTestExecutor(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ip := "10.0.0.1"
			for j := 0; j < 100; j++ {
				e.BlockIP(ip, time.Minute)
				e.IsIPBlocked(ip)
				if n%2 == 0 {
					e.UnblockIP(ip)
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestBlockedIPsListing(t *testing.T) {
	e := newTestExecutor(t)

	e.BlockIP("10.0.0.1", time.Minute)
	e.BlockIP("10.0.0.2", time.Minute)
	if got := len(e.BlockedIPs()); got != 2 {
		t.Errorf("blocked IPs = %d, want 2", got)
	}
}
