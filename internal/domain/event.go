package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// Catalog lifecycle.
	EventAgentAvailable EventType = "agent.available"

	// Activation lifecycle.
	EventAgentActivated   EventType = "agent.activated"
	EventAgentDeactivated EventType = "agent.deactivated"
	EventAgentEvicted     EventType = "agent.evicted"

	// Session lifecycle.
	EventSessionCreated EventType = "session.created"
	EventSessionExpired EventType = "session.expired"

	// Recovery gateway.
	EventRecoveryAttempted EventType = "recovery.attempted"
	EventRecoveryOverride  EventType = "recovery.override"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	AgentID   string          `json:"agent_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for coordinator events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type and returns
	// an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler for every event and returns an
	// unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
