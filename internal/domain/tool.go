package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a tool for the model's function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// FunctionCall represents the model's request to invoke a tool.
type FunctionCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolResult is the outcome of executing one function call, correlated back
// to its originating call. Fatal marks a failure that must stop the
// conversation loop; a non-fatal error only records the failure.
type ToolResult struct {
	Call    FunctionCall `json:"call"`
	Content string       `json:"content"`
	IsError bool         `json:"is_error"`
	Fatal   bool         `json:"fatal,omitempty"`
}

// Tool is the interface every tool must implement.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error)
}

// ToolInvocation pairs a resolved Tool with the call that requested it.
// It is the unit of work submitted to an executor.
type ToolInvocation struct {
	Tool Tool
	Call FunctionCall
}

// ExecutionResult aggregates one batch of tool invocations. Results keeps the
// submission order regardless of completion order. ShouldProceed is false
// when a tool demanded the conversation stop.
type ExecutionResult struct {
	Results       []ToolResult
	ShouldProceed bool
}

// ToolResolver abstracts tool lookup for the conversation loop.
type ToolResolver interface {
	Get(name string) (Tool, error)
	Schemas() []ToolSchema
}

// FatalToolError wraps a tool failure that must abort the current turn.
// Tools return it from Execute to veto further model requests.
type FatalToolError struct {
	Err error
}

func (e *FatalToolError) Error() string { return "fatal: " + e.Err.Error() }

func (e *FatalToolError) Unwrap() error { return e.Err }

// NewFatalToolError marks err as fatal to the turn.
func NewFatalToolError(err error) *FatalToolError {
	return &FatalToolError{Err: err}
}
