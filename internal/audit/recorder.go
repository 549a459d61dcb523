// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/bastionsec/bastion/internal/event"
	"github.com/bastionsec/bastion/internal/logging"
	"github.com/bastionsec/bastion/internal/metrics"
)

// Config holds audit retention settings.
type Config struct {
	// Retention is how long events are kept before pruning.
	Retention time.Duration `koanf:"retention"`

	// PruneInterval is how often the retention pruner runs.
	PruneInterval time.Duration `koanf:"prune_interval"`

	// BufferSize is the capacity of the asynchronous write queue. When the
	// queue is full new events are dropped with a warning; audit writes
	// must never block the detection path.
	BufferSize int `koanf:"buffer_size"`
}

// DefaultConfig returns production retention settings.
func DefaultConfig() Config {
	return Config{
		Retention:     90 * 24 * time.Hour,
		PruneInterval: time.Hour,
		BufferSize:    1024,
	}
}

// Recorder writes security events to the audit store asynchronously and
// prunes entries past the retention horizon.
type Recorder struct {
	cfg   Config
	store Store

	queue   chan *event.SecurityEvent
	stop    chan struct{}
	done    sync.WaitGroup
	dropped int64
	mu      sync.Mutex
}

// NewRecorder creates a recorder and starts its worker and pruning loops.
func NewRecorder(cfg Config, store Store) *Recorder {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultConfig().PruneInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	r := &Recorder{
		cfg:   cfg,
		store: store,
		queue: make(chan *event.SecurityEvent, cfg.BufferSize),
		stop:  make(chan struct{}),
	}
	r.done.Add(2)
	go r.writeLoop()
	go r.pruneLoop()
	return r
}

// Record enqueues an event for persistence. Non-blocking: when the queue is
// full the event is dropped and counted.
func (r *Recorder) Record(evt *event.SecurityEvent) {
	if evt == nil {
		return
	}
	select {
	case r.queue <- evt:
	default:
		r.mu.Lock()
		r.dropped++
		dropped := r.dropped
		r.mu.Unlock()
		metrics.AuditQueueDropped.Inc()
		logging.Warn().Str("event_id", evt.ID).Int64("dropped_total", dropped).
			Msg("Audit queue full, event dropped")
	}
}

// Dropped returns how many events were discarded due to a full queue.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// AttachBus subscribes the recorder to the event firehose.
func (r *Recorder) AttachBus(ctx context.Context, bus *event.Bus) error {
	return bus.SubscribeEvents(ctx, event.TopicEvents, r.Record)
}

// Close drains the queue, persists pending events and stops the loops.
func (r *Recorder) Close() {
	close(r.stop)
	r.done.Wait()
}

func (r *Recorder) writeLoop() {
	defer r.done.Done()
	for {
		select {
		case evt := <-r.queue:
			r.save(evt)
		case <-r.stop:
			// Drain whatever is already queued.
			for {
				select {
				case evt := <-r.queue:
					r.save(evt)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) save(evt *event.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.Save(ctx, evt); err != nil {
		logging.Err(err).Str("event_id", evt.ID).Msg("Failed to persist audit event")
	}
}

func (r *Recorder) pruneLoop() {
	defer r.done.Done()
	ticker := time.NewTicker(r.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.pruneOnce()
		}
	}
}

func (r *Recorder) pruneOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	cutoff := time.Now().UTC().Add(-r.cfg.Retention)
	removed, err := r.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		logging.Err(err).Msg("Audit retention pruning failed")
		return
	}
	if removed > 0 {
		logging.Info().Int64("removed", removed).Time("cutoff", cutoff).
			Msg("Pruned expired audit events")
	}
}
