package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventTurnStarted     EventType = "turn.started"
	EventStreamDelta     EventType = "stream.delta"
	EventEventsUpdated   EventType = "stream.events"
	EventFileApplied     EventType = "file.applied"
	EventStreamCompleted EventType = "stream.completed"
	EventStreamError     EventType = "stream.error"
	EventChatAborted     EventType = "chat.aborted"

	EventPreviewError EventType = "preview.error"
	EventPreviewReset EventType = "preview.reset"

	EventWorkspaceExternalEdit EventType = "workspace.external_edit"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	TurnID    string          `json:"turn_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an Event, marshalling payload. A payload that fails to
// marshal is dropped rather than failing the publish.
func NewEvent(t EventType, turnID string, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now(), TurnID: turnID}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
