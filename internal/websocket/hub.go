// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

// Package websocket streams alert lifecycle events to connected dashboard
// clients. The hub fans bus topics out to every client; a slow client
// drops messages rather than blocking the broadcast.
package websocket

import (
	"context"
	"sync"

	"github.com/goccy/go-json"

	"github.com/bastionsec/bastion/internal/event"
	"github.com/bastionsec/bastion/internal/logging"
)

// Message types sent to clients. Each mirrors one bus topic, plus the
// ping/pong keepalive pair.
const (
	MessageTypeAlertCreated      = "alert_created"
	MessageTypeAlertResolved     = "alert_resolved"
	MessageTypeAlertEscalated    = "alert_escalated"
	MessageTypeRuleTriggered     = "rule_triggered"
	MessageTypeThresholdExceeded = "threshold_exceeded"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
)

// Message is the envelope every client receives.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a hub. Call RunWithContext to start it.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext runs the hub until ctx is cancelled, then closes every
// client and returns ctx.Err(). Lifecycle events take priority over
// broadcasts so client state is consistent before messages flow.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAllClients()
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// broadcastToClients delivers a message to every client, dropping it for
// clients whose send buffer is full.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			logging.Warn().Uint64("client_id", client.id).Msg("client send buffer full, message dropped")
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// BroadcastJSON queues a message for all clients. Non-blocking: if the
// broadcast queue is full the message is dropped.
func (h *Hub) BroadcastJSON(messageType string, data any) {
	select {
	case h.broadcast <- Message{Type: messageType, Data: data}:
	default:
		logging.Warn().Str("type", messageType).Msg("broadcast queue full, message dropped")
	}
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// AttachBus forwards alert lifecycle topics to connected clients. Payloads
// are re-decoded into generic maps so clients see the same JSON the bus
// carries.
func (h *Hub) AttachBus(ctx context.Context, bus *event.Bus) error {
	topics := map[string]string{
		event.TopicAlertCreated:      MessageTypeAlertCreated,
		event.TopicAlertResolved:     MessageTypeAlertResolved,
		event.TopicAlertEscalated:    MessageTypeAlertEscalated,
		event.TopicRuleTriggered:     MessageTypeRuleTriggered,
		event.TopicThresholdExceeded: MessageTypeThresholdExceeded,
	}
	for topic, messageType := range topics {
		mt := messageType
		err := bus.Subscribe(ctx, topic, func(payload []byte) {
			var data any
			if err := json.Unmarshal(payload, &data); err != nil {
				logging.Err(err).Str("type", mt).Msg("failed to decode bus payload")
				return
			}
			h.BroadcastJSON(mt, data)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
