package tool

import (
	"context"
	"encoding/json"

	"genflow/internal/domain"
)

// FuncTool adapts a plain function into a domain.Tool.
type FuncTool struct {
	name        string
	description string
	parameters  json.RawMessage
	fn          func(ctx context.Context, args json.RawMessage) (string, error)
}

// NewFuncTool wraps fn as a tool. parameters may be nil for tools that take
// no arguments.
func NewFuncTool(name, description string, parameters json.RawMessage, fn func(ctx context.Context, args json.RawMessage) (string, error)) *FuncTool {
	return &FuncTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

func (t *FuncTool) Name() string        { return t.name }
func (t *FuncTool) Description() string { return t.description }

func (t *FuncTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.name,
		Description: t.description,
		Parameters:  t.parameters,
	}
}

func (t *FuncTool) Execute(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	out, err := t.fn(ctx, args)
	if err != nil {
		return nil, err
	}
	return &domain.ToolResult{Content: out}, nil
}
