package providers

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/pkg/models"
)

func TestNewOpenAIProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{})
	if err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestOpenAIProvider_Name(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("Name() = %q, want %q", p.Name(), "openai")
	}
	if !p.SupportsTools() {
		t.Error("SupportsTools() should be true")
	}
}

func TestOpenAIProvider_ConvertMessages_SystemInjection(t *testing.T) {
	p, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test"})

	result := p.convertMessages([]agent.CompletionMessage{
		{Role: "user", Content: "hello"},
	}, "You are terse.")

	if len(result) != 2 {
		t.Fatalf("len(result) = %d, want 2", len(result))
	}
	if result[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("result[0].Role = %q, want system", result[0].Role)
	}
	if result[0].Content != "You are terse." {
		t.Errorf("result[0].Content = %q", result[0].Content)
	}
	if result[1].Role != "user" {
		t.Errorf("result[1].Role = %q, want user", result[1].Role)
	}
}

func TestOpenAIProvider_ConvertMessages_ToolResultsSplit(t *testing.T) {
	p, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test"})

	result := p.convertMessages([]agent.CompletionMessage{
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "call-1", Name: "read_file", Input: json.RawMessage(`{"path":"a.go"}`)},
			{ID: "call-2", Name: "read_file", Input: json.RawMessage(`{"path":"b.go"}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			{ToolCallID: "call-1", Content: "package a"},
			{ToolCallID: "call-2", Content: "package b"},
		}},
	}, "")

	// One assistant message plus one tool message per result
	if len(result) != 3 {
		t.Fatalf("len(result) = %d, want 3", len(result))
	}
	if len(result[0].ToolCalls) != 2 {
		t.Errorf("assistant tool calls = %d, want 2", len(result[0].ToolCalls))
	}
	if result[1].Role != openai.ChatMessageRoleTool || result[1].ToolCallID != "call-1" {
		t.Errorf("result[1] = %+v, want tool message for call-1", result[1])
	}
	if result[2].Role != openai.ChatMessageRoleTool || result[2].ToolCallID != "call-2" {
		t.Errorf("result[2] = %+v, want tool message for call-2", result[2])
	}
}

func TestOpenAIProvider_ConvertTools(t *testing.T) {
	p, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test"})

	result := p.convertTools([]agent.Tool{echoTool{}})
	if len(result) != 1 {
		t.Fatalf("len(result) = %d, want 1", len(result))
	}
	if result[0].Type != openai.ToolTypeFunction {
		t.Errorf("Type = %q, want function", result[0].Type)
	}
	if result[0].Function.Name != "echo" {
		t.Errorf("Function.Name = %q, want echo", result[0].Function.Name)
	}
}

func TestOpenAIProvider_WrapError_APIError(t *testing.T) {
	p, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test"})

	apiErr := &openai.APIError{
		HTTPStatusCode: 429,
		Message:        "Rate limit reached",
		Code:           "rate_limit_exceeded",
	}

	wrapped := p.wrapError(apiErr, "gpt-4o")
	backendErr, ok := GetBackendError(wrapped)
	if !ok {
		t.Fatal("expected BackendError")
	}
	if backendErr.Class != ClassRateLimit {
		t.Errorf("Class = %q, want %q", backendErr.Class, ClassRateLimit)
	}
	if backendErr.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", backendErr.Provider)
	}
	if backendErr.Status != 429 {
		t.Errorf("Status = %d, want 429", backendErr.Status)
	}
}
