// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package services

import (
	"context"
	"fmt"
	"sync"
)

// Starter matches *monitor.Monitor's Start method: it wires event bus
// subscriptions bound to the given context and returns.
type Starter interface {
	Start(ctx context.Context) error
}

// PipelineService runs the event pipeline as a supervised service. Start
// is invoked at most once per process; subscriptions stay bound to the
// service context, so the service blocks until shutdown rather than
// returning after wiring.
type PipelineService struct {
	starter Starter
	once    sync.Once
	name    string
}

// NewPipelineService creates a new pipeline service wrapper.
func NewPipelineService(starter Starter) *PipelineService {
	return &PipelineService{
		starter: starter,
		name:    "event-pipeline",
	}
}

// Serve implements suture.Service.
func (s *PipelineService) Serve(ctx context.Context) error {
	var startErr error
	s.once.Do(func() {
		startErr = s.starter.Start(ctx)
	})
	if startErr != nil {
		return fmt.Errorf("pipeline start failed: %w", startErr)
	}

	<-ctx.Done()
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (s *PipelineService) String() string {
	return s.name
}
