// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type mockStarter struct {
	starts atomic.Int64
	err    error
}

func (m *mockStarter) Start(ctx context.Context) error {
	m.starts.Add(1)
	return m.err
}

func TestPipelineServiceStartsOnce(t *testing.T) {
	starter := &mockStarter{}
	svc := NewPipelineService(starter)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 2)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}

	// A second Serve must not rewire subscriptions.
	ctx2, cancel2 := context.WithCancel(context.Background())
	go func() { errCh <- svc.Serve(ctx2) }()
	time.Sleep(20 * time.Millisecond)
	cancel2()
	<-errCh

	if got := starter.starts.Load(); got != 1 {
		t.Errorf("starts = %d, want 1", got)
	}
}

func TestPipelineServiceStartError(t *testing.T) {
	starter := &mockStarter{err: errors.New("subscribe failed")}
	svc := NewPipelineService(starter)

	if err := svc.Serve(context.Background()); err == nil || !errors.Is(err, starter.err) {
		t.Errorf("err = %v, want wrapped start error", err)
	}
}

type mockHub struct {
	ran atomic.Bool
}

func (m *mockHub) RunWithContext(ctx context.Context) error {
	m.ran.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

func TestHubServiceDelegates(t *testing.T) {
	hub := &mockHub{}
	svc := NewHubService(hub)
	if svc.String() != "websocket-hub" {
		t.Errorf("name = %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if !hub.ran.Load() {
		t.Error("hub did not run")
	}
}
