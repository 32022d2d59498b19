package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestSchemaValidationRejectsBadArgs(t *testing.T) {
	wrapped, err := WithSchemaValidation(echoTool("echo"))
	if err != nil {
		t.Fatalf("WithSchemaValidation: %v", err)
	}

	res, err := wrapped.Execute(context.Background(), json.RawMessage(`{"text":42}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error-marked result for type mismatch")
	}
	if !strings.Contains(res.Content, "schema validation failed") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestSchemaValidationPassesGoodArgs(t *testing.T) {
	wrapped, err := WithSchemaValidation(echoTool("echo"))
	if err != nil {
		t.Fatalf("WithSchemaValidation: %v", err)
	}

	res, err := wrapped.Execute(context.Background(), json.RawMessage(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError || res.Content != "hello" {
		t.Errorf("result = %+v", res)
	}
}

func TestSchemaValidationInvalidJSON(t *testing.T) {
	wrapped, err := WithSchemaValidation(echoTool("echo"))
	if err != nil {
		t.Fatalf("WithSchemaValidation: %v", err)
	}

	res, err := wrapped.Execute(context.Background(), json.RawMessage(`{not json`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "invalid JSON") {
		t.Errorf("result = %+v", res)
	}
}

func TestNoSchemaPassesThrough(t *testing.T) {
	plain := NewFuncTool("plain", "no params", nil,
		func(ctx context.Context, args json.RawMessage) (string, error) { return "ok", nil })

	wrapped, err := WithSchemaValidation(plain)
	if err != nil {
		t.Fatalf("WithSchemaValidation: %v", err)
	}
	if wrapped != plain {
		t.Error("tool without parameters should be returned unwrapped")
	}
}
