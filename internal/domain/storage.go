package domain

import "context"

// ChatStorage persists conversation history. Implementations are durable and
// strongly consistent per conversation id; concurrent writers to the same id
// are out of scope.
type ChatStorage interface {
	// GetHistory returns the ordered messages of a conversation.
	// A missing conversation yields an empty history, not an error.
	GetHistory(ctx context.Context, conversationID string) ([]Message, error)
	// AppendHistory appends messages to a conversation.
	AppendHistory(ctx context.Context, conversationID string, messages []Message) error
	// UpdateHistory replaces a conversation's history wholesale.
	UpdateHistory(ctx context.Context, conversationID string, messages []Message) error
}
