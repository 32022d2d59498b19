package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventTurnStarted        EventType = "turn.started"
	EventTurnCompleted      EventType = "turn.completed"
	EventModelCallStarted   EventType = "model.call.started"
	EventModelCallCompleted EventType = "model.call.completed"
	EventToolBatchStarted   EventType = "tool.batch.started"
	EventToolBatchCompleted EventType = "tool.batch.completed"
	EventToolCallStarted    EventType = "tool.call.started"
	EventToolCallCompleted  EventType = "tool.call.completed"
	EventCacheCreated       EventType = "cache.created"
	EventCacheRefreshed     EventType = "cache.refreshed"
	EventCacheDeleted       EventType = "cache.deleted"
	EventLoopError          EventType = "loop.error"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type           EventType       `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
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
