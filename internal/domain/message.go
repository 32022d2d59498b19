package domain

import "time"

// Role constants for message roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
	RoleModel  = "model"
	RoleTool   = "tool"
)

// Message represents a single message in a conversation.
// A model-role message may carry function calls; a tool-role message carries
// the result of one call (Name is the tool name, Calls holds the originating
// call for correlation).
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Name      string         `json:"name,omitempty"`
	Calls     []FunctionCall `json:"calls,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ToolMode is the function-calling policy sent with a generation request.
type ToolMode string

const (
	// ModeAuto lets the model decide whether to call tools.
	ModeAuto ToolMode = "auto"
	// ModeAny forces the model to consider the provided tools.
	ModeAny ToolMode = "any"
)

// DefaultToolMode returns the mode used when the caller does not choose one:
// auto without tools, any when tools are supplied.
func DefaultToolMode(toolCount int) ToolMode {
	if toolCount == 0 {
		return ModeAuto
	}
	return ModeAny
}

// GenerateRequest is sent to the model API.
type GenerateRequest struct {
	Model             string       `json:"model"`
	Messages          []Message    `json:"messages"`
	Tools             []ToolSchema `json:"tools,omitempty"`
	Mode              ToolMode     `json:"mode,omitempty"`
	SystemInstruction string       `json:"system_instruction,omitempty"`
	CachedContent     string       `json:"cached_content,omitempty"`
}

// GenerateResponse is returned from the model API.
type GenerateResponse struct {
	Message   Message   `json:"message"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Conversation holds an ordered sequence of messages.
type Conversation struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
