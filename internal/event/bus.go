// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bastionsec/bastion/internal/logging"
)

// Bus topics. Every SecurityEvent is additionally published to TopicEvents,
// the firehose consumed by the rule engine, the audit recorder and the
// metrics reporter.
const (
	TopicEvents            = "security-events"
	TopicThreatDetected    = "threat-detected"
	TopicSecurityBreach    = "security-breach"
	TopicRateLimitExceeded = "rate-limit-exceeded"
	TopicAlertCreated      = "alert-created"
	TopicAlertResolved     = "alert-resolved"
	TopicAlertEscalated    = "alert-escalated"
	TopicRuleTriggered     = "rule-triggered"
	TopicThresholdExceeded = "threshold-exceeded"
)

// topicFor maps an event type to its dedicated topic, or "" when the event
// only travels on the firehose.
func topicFor(t Type) string {
	switch t {
	case TypeThreatDetected, TypeSuspiciousActivity:
		return TopicThreatDetected
	case TypeSecurityBreach:
		return TopicSecurityBreach
	case TypeRateLimitExceeded:
		return TopicRateLimitExceeded
	default:
		return ""
	}
}

// Bus is the in-process pub/sub backbone, built on Watermill's gochannel
// Pub/Sub. Each subscriber receives messages on its own buffered channel,
// so a slow or failing subscriber never blocks the others.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu     sync.Mutex
	closed bool
}

// NewBus creates a bus ready for publishing and subscription.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, newWatermillLogger()),
	}
}

// PublishEvent publishes a SecurityEvent to the firehose topic and, when one
// exists, to the event type's dedicated topic.
func (b *Bus) PublishEvent(evt *SecurityEvent) error {
	if err := b.Publish(TopicEvents, evt); err != nil {
		return err
	}
	if topic := topicFor(evt.Type); topic != "" {
		return b.Publish(topic, evt)
	}
	return nil
}

// Publish serializes v as JSON and publishes it on the given topic.
func (b *Bus) Publish(topic string, v any) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("publish %s: bus closed", topic)
	}
	b.mu.Unlock()

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	msg := message.NewMessage(uuid.New().String(), payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a handler for a topic. The handler runs on its own
// goroutine; panics are recovered and logged so one subscriber cannot take
// down the pipeline. The subscription ends when ctx is canceled or the bus
// is closed.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler func(payload []byte)) error {
	ch, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	go func() {
		for msg := range ch {
			deliver(topic, msg, handler)
		}
	}()
	return nil
}

// SubscribeEvents registers a handler receiving decoded SecurityEvents.
// Messages that fail to decode are logged and dropped.
func (b *Bus) SubscribeEvents(ctx context.Context, topic string, handler func(evt *SecurityEvent)) error {
	return b.Subscribe(ctx, topic, func(payload []byte) {
		var evt SecurityEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			logging.Err(err).Str("topic", topic).Msg("dropping undecodable event")
			return
		}
		handler(&evt)
	})
}

func deliver(topic string, msg *message.Message, handler func(payload []byte)) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Str("topic", topic).
				Interface("panic", r).
				Msg("subscriber panicked")
		}
		msg.Ack()
	}()
	handler(msg.Payload)
}

// Close shuts the bus down. Subscriber channels are closed and further
// publishes fail.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}

// watermillLogger adapts zerolog to watermill.LoggerAdapter so the bus
// internals log through the shared logging package.
type watermillLogger struct {
	fields watermill.LogFields
}

func newWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(logging.Err(err), fields).Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{fields: l.fields.Add(fields)}
}

func (l *watermillLogger) event(evt *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range l.fields {
		evt = evt.Interface(k, v)
	}
	for k, v := range fields {
		evt = evt.Interface(k, v)
	}
	return evt
}
