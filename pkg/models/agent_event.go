// Package models provides domain types shared across the Drover agent runtime.
package models

import (
	"time"
)

// AgentEvent is the unified activity event emitted during a run.
// A single stream of these events drives UI rendering and logging.
//
// Design principles:
//   - Versioned and forward-compatible (add fields, don't rename/remove)
//   - Single Type discriminator with optional payload pointers
//   - Monotonic Sequence for ordering guarantees across goroutines
type AgentEvent struct {
	// Version for forward compatibility. Current version: 1.
	Version int `json:"version"`

	// Type identifies the kind of event.
	Type AgentEventType `json:"type"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Sequence is monotonic within a run for ordering guarantees.
	Sequence uint64 `json:"seq"`

	// RunID identifies the SendMessage call this event belongs to.
	RunID string `json:"run_id,omitempty"`

	// TurnIndex is the 0-based turn number within the run.
	TurnIndex int `json:"turn_index,omitempty"`

	// Exactly one payload should be non-nil for a given Type.
	Content *ContentEventPayload `json:"content,omitempty"`
	Tool    *ToolEventPayload    `json:"tool,omitempty"`
	Loop    *LoopEventPayload    `json:"loop,omitempty"`
	Error   *ErrorEventPayload   `json:"error,omitempty"`
	Route   *RouteEventPayload   `json:"route,omitempty"`
}

// AgentEventType identifies the kind of agent event.
type AgentEventType string

const (
	// Run lifecycle
	AgentEventRunStarted  AgentEventType = "run.started"
	AgentEventRunFinished AgentEventType = "run.finished"

	// Turn lifecycle
	AgentEventTurnStarted  AgentEventType = "turn.started"
	AgentEventTurnFinished AgentEventType = "turn.finished"

	// Model streaming
	AgentEventContentChunk AgentEventType = "content.chunk"
	AgentEventThinking     AgentEventType = "thinking"

	// Tool execution
	AgentEventToolStarted  AgentEventType = "tool.started"
	AgentEventToolFinished AgentEventType = "tool.finished"

	// Loop detection
	AgentEventLoopWarning  AgentEventType = "loop.warning"
	AgentEventLoopDetected AgentEventType = "loop.detected"

	// Context compression
	AgentEventCompressed AgentEventType = "context.compressed"

	// Model routing (retry, fallback, breaker transitions)
	AgentEventRouteChanged AgentEventType = "route.changed"

	// Errors surfaced mid-run
	AgentEventError AgentEventType = "error"
)

// ContentEventPayload carries streamed model output.
type ContentEventPayload struct {
	// Delta is the incremental text (token-by-token or chunked).
	Delta string `json:"delta,omitempty"`

	// Thinking marks the delta as reasoning output rather than answer text.
	Thinking bool `json:"thinking,omitempty"`

	// Provider/Model for debugging (optional).
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Token counts (optional; not all providers supply them).
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// ToolEventPayload describes tool calls and their results.
// Args are opaque bytes to avoid coupling to tool schemas.
type ToolEventPayload struct {
	// CallID identifies this specific tool invocation.
	CallID string `json:"call_id,omitempty"`

	// Name is the tool name.
	Name string `json:"name,omitempty"`

	// ArgsJSON is the raw JSON arguments (for started events).
	ArgsJSON []byte `json:"args_json,omitempty"`

	// For finished events:
	Success bool `json:"success,omitempty"`

	// ResultPreview is a truncated view of the result content.
	ResultPreview string        `json:"result_preview,omitempty"`
	Elapsed       time.Duration `json:"elapsed,omitempty"`
}

// LoopEventPayload describes a repetition warning or stop decision.
type LoopEventPayload struct {
	// ToolName is the tool whose calls are repeating.
	ToolName string `json:"tool_name,omitempty"`

	// Fingerprint identifies the repeated call pattern.
	Fingerprint string `json:"fingerprint,omitempty"`

	// Count is how many times the pattern has occurred in the window.
	Count int `json:"count,omitempty"`

	// Suggestion is a human-readable hint for breaking the loop.
	Suggestion string `json:"suggestion,omitempty"`
}

// ErrorEventPayload standardizes errors in the event stream.
type ErrorEventPayload struct {
	// Message is the error description (required).
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Retriable indicates if the operation can be retried.
	Retriable bool `json:"retriable,omitempty"`

	// Err is the original error (runtime only, not serialized).
	// Used to preserve error types for errors.Is/errors.As.
	Err error `json:"-"`
}

// RouteEventPayload describes a routing decision: a successful or failed
// send, a retry, a fallback to another backend, or a skipped backend whose
// circuit is open.
type RouteEventPayload struct {
	// Kind is one of "success", "retry", "fallback", "failure",
	// "circuit_open".
	Kind string `json:"kind"`

	// Provider and Model identify the backend involved.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Attempt is the retry attempt number (for retry events).
	Attempt int `json:"attempt,omitempty"`

	// From/To are backend names (for fallback events).
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// Reason is the classified failure reason that triggered the change.
	Reason string `json:"reason,omitempty"`
}
