package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"genflow/internal/domain"
	"genflow/internal/infra/config"
)

func newTestLogger() *slog.Logger {
	return slog.Default()
}

func newTestClient(baseURL string) *Client {
	return New(config.ProviderConfig{
		Name:    "test",
		BaseURL: baseURL,
		APIKey:  "test-key",
	}, "gemini-2.0-flash", newTestLogger())
}

func TestGenerateText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "generateContent") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("key = %q, want test-key", r.URL.Query().Get("key"))
		}
		w.Write([]byte(`{
			"candidates":[{"content":{"role":"model","parts":[{"text":"Hello there"}]}}],
			"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":2,"totalTokenCount":7}
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	resp, err := client.Generate(context.Background(), domain.GenerateRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "Hello"}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Message.Content != "Hello there" {
		t.Errorf("content = %q, want %q", resp.Message.Content, "Hello there")
	}
	if resp.Message.Role != domain.RoleModel {
		t.Errorf("role = %q, want model", resp.Message.Role)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Errorf("total tokens = %d, want 7", resp.Usage.TotalTokens)
	}
}

func TestGenerateFunctionCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"candidates":[{"content":{"role":"model","parts":[
				{"functionCall":{"name":"get_weather","args":{"city":"Hanoi"}}},
				{"functionCall":{"name":"get_time","args":{}}}
			]}}]
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	resp, err := client.Generate(context.Background(), domain.GenerateRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "weather?"}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(resp.Message.Calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(resp.Message.Calls))
	}
	if resp.Message.Calls[0].Name != "get_weather" {
		t.Errorf("call[0].Name = %q", resp.Message.Calls[0].Name)
	}
	if resp.Message.Calls[0].ID == "" || resp.Message.Calls[1].ID == "" {
		t.Error("call IDs not assigned")
	}
	if resp.Message.Calls[0].ID == resp.Message.Calls[1].ID {
		t.Error("call IDs not unique")
	}
}

func TestGenerateEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Generate(context.Background(), domain.GenerateRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	if !errors.Is(err, domain.ErrModelResponse) {
		t.Errorf("err = %v, want ErrModelResponse", err)
	}
}

func TestGenerateStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, domain.ErrRateLimit},
		{"unauthorized", http.StatusUnauthorized, domain.ErrAuthInvalid},
		{"forbidden", http.StatusForbidden, domain.ErrAuthInvalid},
		{"server error", http.StatusInternalServerError, domain.ErrProviderError},
		{"bad gateway", http.StatusBadGateway, domain.ErrProviderError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer server.Close()

			client := newTestClient(server.URL)
			_, err := client.Generate(context.Background(), domain.GenerateRequest{
				Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGenerateSendsToolDeclarations(t *testing.T) {
	var captured geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Generate(context.Background(), domain.GenerateRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		Tools: []domain.ToolSchema{{
			Name:        "get_weather",
			Description: "Current weather",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(captured.Tools) != 1 || len(captured.Tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("tools not sent: %+v", captured.Tools)
	}
	if captured.Tools[0].FunctionDeclarations[0].Name != "get_weather" {
		t.Errorf("decl name = %q", captured.Tools[0].FunctionDeclarations[0].Name)
	}
	if captured.ToolConfig == nil || captured.ToolConfig.FunctionCallingConfig.Mode != "ANY" {
		t.Errorf("toolConfig = %+v, want mode ANY", captured.ToolConfig)
	}
}
