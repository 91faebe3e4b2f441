package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single entry in a conversation transcript.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id,omitempty"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ConfirmationType classifies the risk of a tool invocation.
type ConfirmationType string

const (
	ConfirmationRead        ConfirmationType = "read"
	ConfirmationWrite       ConfirmationType = "write"
	ConfirmationExecute     ConfirmationType = "execute"
	ConfirmationDestructive ConfirmationType = "destructive"
)

// Confirmation describes why a tool invocation may need user approval.
// A nil Confirmation from a tool means the invocation is considered safe.
type Confirmation struct {
	Type    ConfirmationType `json:"type"`
	Message string           `json:"message"`
}
