package usecase

import (
	"context"
	"encoding/json"
	"time"

	"genflow/internal/domain"
)

// publishEvent publishes a domain event on the bus if one is configured.
// The conversation id is taken from the context.
func publishEvent(bus domain.EventBus, ctx context.Context, eventType domain.EventType, payload any) {
	if bus == nil {
		return
	}
	bus.Publish(ctx, domain.Event{
		Type:           eventType,
		Timestamp:      time.Now(),
		ConversationID: domain.ConversationIDFromContext(ctx),
		Payload:        jsonPayload(payload),
	})
}

// jsonPayload marshals payload, returning nil on failure or nil input.
// Event payloads are best-effort observability data.
func jsonPayload(payload any) json.RawMessage {
	if payload == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return raw
}
