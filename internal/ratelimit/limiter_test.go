// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/bastionsec/bastion/internal/event"
)

func newTestLimiter(t *testing.T, opts ...Option) *Limiter {
	t.Helper()
	l := New(DefaultConfig(), opts...)
	t.Cleanup(l.Close)
	return l
}

func TestSixthCallDenied(t *testing.T) {
	l := newTestLimiter(t)

	for i := 0; i < 5; i++ {
		d := l.CheckWindow("user1", "login", time.Minute, 5)
		if !d.Allowed {
			t.Fatalf("call %d denied, want allowed", i+1)
		}
		if d.Remaining != 5-(i+1) {
			t.Errorf("call %d remaining = %d, want %d", i+1, d.Remaining, 5-(i+1))
		}
	}

	d := l.CheckWindow("user1", "login", time.Minute, 5)
	if d.Allowed {
		t.Error("6th call allowed, want denied")
	}
	if d.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", d.Remaining)
	}
	if d.RetryAfter <= 0 {
		t.Errorf("retry after = %d, want > 0", d.RetryAfter)
	}
}

func TestDifferentContextIndependent(t *testing.T) {
	l := newTestLimiter(t)

	for i := 0; i < 5; i++ {
		l.CheckWindow("user1", "login", time.Minute, 5)
	}
	if d := l.CheckWindow("user1", "login", time.Minute, 5); d.Allowed {
		t.Fatal("exhausted context still allowed")
	}
	if d := l.CheckWindow("user1", "api", time.Minute, 5); !d.Allowed {
		t.Error("same identifier under a different context denied")
	}
}

func TestKeyIsCaseInsensitive(t *testing.T) {
	l := newTestLimiter(t)

	l.CheckWindow("User1", "Login", time.Minute, 2)
	l.CheckWindow("user1", "login", time.Minute, 2)
	if d := l.CheckWindow("USER1", "LOGIN", time.Minute, 2); d.Allowed {
		t.Error("case variants counted as separate keys")
	}
}

func TestWindowResets(t *testing.T) {
	l := newTestLimiter(t)

	l.CheckWindow("u", "c", 30*time.Millisecond, 1)
	if d := l.CheckWindow("u", "c", 30*time.Millisecond, 1); d.Allowed {
		t.Fatal("second call in window allowed")
	}
	time.Sleep(40 * time.Millisecond)
	if d := l.CheckWindow("u", "c", 30*time.Millisecond, 1); !d.Allowed {
		t.Error("call after window expiry denied")
	}
}

func TestDenialEmitsEvent(t *testing.T) {
	var mu sync.Mutex
	var events []*event.SecurityEvent
	l := newTestLimiter(t, WithEmitter(func(evt *event.SecurityEvent) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	}))

	l.CheckWindow("u", "login", time.Minute, 1)
	l.CheckWindow("u", "login", time.Minute, 1)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	evt := events[0]
	if evt.Type != event.TypeRateLimitExceeded {
		t.Errorf("type = %s", evt.Type)
	}
	if evt.Level != event.LevelMedium {
		t.Errorf("level = %s", evt.Level)
	}
	if evt.Metadata["context"] != "login" {
		t.Errorf("context metadata = %v", evt.Metadata["context"])
	}
}

func TestTightenHalvesLimit(t *testing.T) {
	l := newTestLimiter(t)
	l.Tighten("api", time.Minute)

	// Effective max drops from 4 to 2.
	l.CheckWindow("u", "api", time.Minute, 4)
	l.CheckWindow("u", "api", time.Minute, 4)
	if d := l.CheckWindow("u", "api", time.Minute, 4); d.Allowed {
		t.Error("third call allowed under tightened limit of 2")
	}
}

func TestConfiguredContextLimits(t *testing.T) {
	l := newTestLimiter(t)

	for i := 0; i < 5; i++ {
		if d := l.Check("10.0.0.1", "login"); !d.Allowed {
			t.Fatalf("call %d denied, want allowed", i+1)
		}
	}
	if d := l.Check("10.0.0.1", "login"); d.Allowed {
		t.Error("6th login call allowed, configured max is 5")
	}
}

func TestConcurrentCheckNeverOverAdmits(t *testing.T) {
	l := newTestLimiter(t)

	const workers = 20
	const callsPerWorker = 10
	const max = 50

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < callsPerWorker; i++ {
				if d := l.CheckWindow("shared", "bulk", time.Minute, max); d.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != max {
		t.Errorf("allowed %d of %d calls, want exactly %d", allowed, workers*callsPerWorker, max)
	}
}

func TestPruneRemovesExpired(t *testing.T) {
	l := newTestLimiter(t)

	l.CheckWindow("a", "c", 10*time.Millisecond, 5)
	l.CheckWindow("b", "c", time.Hour, 5)
	time.Sleep(20 * time.Millisecond)
	l.prune(time.Now())

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records["c:a"]; ok {
		t.Error("expired record survived pruning")
	}
	if _, ok := l.records["c:b"]; !ok {
		t.Error("live record pruned")
	}
}
